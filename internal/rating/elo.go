// Package rating computes ELO updates per time-control category and keeps the
// per-player rating book.
package rating

import (
	"math"
	"strings"
)

// Category is a time-control pool. Each pool is rated independently.
type Category string

const (
	Bullet Category = "bullet"
	Blitz  Category = "blitz"
	Rapid  Category = "rapid"
)

func ParseCategory(s string) (Category, bool) {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case Bullet:
		return Bullet, true
	case Blitz:
		return Blitz, true
	case Rapid:
		return Rapid, true
	}
	return "", false
}

// Outcome is the result from A's point of view.
type Outcome int

const (
	WinA Outcome = iota + 1
	WinB
	Draw
)

func (o Outcome) scoreA() float64 {
	switch o {
	case WinA:
		return 1
	case WinB:
		return 0
	default:
		return 0.5
	}
}

// Expected is A's expected score against B.
func Expected(a, b int) float64 {
	return 1 / (1 + math.Pow(10, float64(b-a)/400))
}

// Update applies one game with a shared K factor. The change is rounded and
// mirrored, so equal ratings always move by the same amount in opposite
// directions.
func Update(a, b int, o Outcome, k float64) (int, int) {
	d := k * (o.scoreA() - Expected(a, b))
	return a + int(math.Round(d)), b + int(math.Round(-d))
}

// KFactor is 32 below 1500, 24 below 2000 and 16 above.
func KFactor(r int) float64 {
	switch {
	case r < 1500:
		return 32
	case r < 2000:
		return 24
	default:
		return 16
	}
}

// Title is one rung of the title ladder.
type Title struct {
	Code  string `json:"code"`
	Min   int    `json:"min"`
	Color string `json:"color"`
}

var ladder = []Title{
	{Code: "I", Min: 500, Color: "#8B4513"},
	{Code: "G", Min: 1000, Color: "#4B0082"},
	{Code: "L", Min: 1500, Color: "#006400"},
	{Code: "M", Min: 2000, Color: "#DC143C"},
	{Code: "D", Min: 2300, Color: "#0000FF"},
	{Code: "O", Min: 2500, Color: "#008000"},
	{Code: "SU", Min: 2700, Color: "#FFD700"},
	{Code: "V", Min: 3000, Color: "#FF8C00"},
}

// TitleFor maps a rating to the highest title it qualifies for. Ratings below
// the first rung carry no title.
func TitleFor(r int) (Title, bool) {
	for i := len(ladder) - 1; i >= 0; i-- {
		if r >= ladder[i].Min {
			return ladder[i], true
		}
	}
	return Title{}, false
}

// Ladder returns a copy of the title ladder, lowest first.
func Ladder() []Title {
	out := make([]Title, len(ladder))
	copy(out, ladder)
	return out
}
