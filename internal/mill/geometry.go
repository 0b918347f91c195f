package mill

// Points are numbered row by row from the outer top-left corner:
//
//	0-----------1-----------2
//	|   3-------4-------5   |
//	|   |   6---7---8   |   |
//	9---10--11      12--13--14
//	|   |   15--16--17  |   |
//	|   18------19------20  |
//	21----------22----------23
const Points = 24

// PiecesPerSide is the number of pieces each side starts with in hand.
const PiecesPerSide = 9

var mills = [16][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, {9, 10, 11},
	{12, 13, 14}, {15, 16, 17}, {18, 19, 20}, {21, 22, 23},
	{0, 9, 21}, {3, 10, 18}, {6, 11, 15}, {1, 4, 7},
	{16, 19, 22}, {8, 12, 17}, {5, 13, 20}, {2, 14, 23},
}

var adjacency = [Points][]int{
	0:  {1, 9},
	1:  {0, 2, 4},
	2:  {1, 14},
	3:  {4, 10},
	4:  {1, 3, 5, 7},
	5:  {4, 13},
	6:  {7, 11},
	7:  {4, 6, 8},
	8:  {7, 12},
	9:  {0, 10, 21},
	10: {3, 9, 11, 18},
	11: {6, 10, 15},
	12: {8, 13, 17},
	13: {5, 12, 14, 20},
	14: {2, 13, 23},
	15: {11, 16},
	16: {15, 17, 19},
	17: {12, 16},
	18: {10, 19},
	19: {16, 18, 20, 22},
	20: {13, 19},
	21: {9, 22},
	22: {19, 21, 23},
	23: {14, 22},
}

// millsThrough[p] lists the indexes into mills that contain point p.
var millsThrough [Points][]int

func init() {
	for i, line := range mills {
		for _, p := range line {
			millsThrough[p] = append(millsThrough[p], i)
		}
	}
}

func validPoint(p int) bool { return p >= 0 && p < Points }

// Adjacent reports whether a and b are joined by a line segment.
func Adjacent(a, b int) bool {
	if !validPoint(a) || !validPoint(b) {
		return false
	}
	for _, n := range adjacency[a] {
		if n == b {
			return true
		}
	}
	return false
}

// Neighbors returns the points adjacent to p.
func Neighbors(p int) []int {
	if !validPoint(p) {
		return nil
	}
	out := make([]int, len(adjacency[p]))
	copy(out, adjacency[p])
	return out
}

// Mills returns every mill line.
func Mills() [][3]int {
	out := make([][3]int, len(mills))
	copy(out, mills[:])
	return out
}

func inMill(b *[Points]Side, p int) bool {
	s := b[p]
	if s == NoSide {
		return false
	}
	for _, i := range millsThrough[p] {
		line := mills[i]
		if b[line[0]] == s && b[line[1]] == s && b[line[2]] == s {
			return true
		}
	}
	return false
}

func allInMills(b *[Points]Side, s Side) bool {
	for p := 0; p < Points; p++ {
		if b[p] == s && !inMill(b, p) {
			return false
		}
	}
	return true
}
