package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/park285/mill-arena/internal/mill"
	"github.com/park285/mill-arena/internal/rating"
)

//go:embed defaults.yaml
var defaultGameYAML []byte

type Preset struct {
	Initial   time.Duration `yaml:"initial"`
	Increment time.Duration `yaml:"increment"`
}

type ArenaDefaults struct {
	Countdown         time.Duration `yaml:"countdown"`
	Grace             time.Duration `yaml:"grace"`
	Retention         time.Duration `yaml:"retention"`
	WinPoints         int           `yaml:"win_points"`
	DrawPoints        int           `yaml:"draw_points"`
	BerserkMultiplier int           `yaml:"berserk_multiplier"`
	StreakBonus       int           `yaml:"streak_bonus"`
	StreakThreshold   int           `yaml:"streak_threshold"`
}

// ArenaSchedule spawns an arena at Start, and every Every after it when
// set. The arena is created Lead ahead of its start.
type ArenaSchedule struct {
	Name     string          `yaml:"name"`
	Category rating.Category `yaml:"category"`
	Start    string          `yaml:"start"`
	Every    time.Duration   `yaml:"every"`
	Duration time.Duration   `yaml:"duration"`
	Lead     time.Duration   `yaml:"lead"`
	Rated    bool            `yaml:"rated"`

	startAt time.Time
}

func (s ArenaSchedule) StartAt() time.Time { return s.startAt }

// Resolve parses Start.
func (s *ArenaSchedule) Resolve() error {
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(s.Start))
	if err != nil {
		return fmt.Errorf("schedule %q: start: %w", s.Name, err)
	}
	s.startAt = at
	return nil
}

type GameConfig struct {
	Presets          map[rating.Category]Preset `yaml:"presets"`
	Rules            mill.Rules                 `yaml:"rules"`
	FirstMoveTimeout time.Duration              `yaml:"first_move_timeout"`
	RatedCategories  []rating.Category          `yaml:"rated_categories"`
	Arena            ArenaDefaults              `yaml:"arena"`
	Schedule         []ArenaSchedule            `yaml:"schedule"`
}

// LoadGame decodes the embedded defaults and then the override file at
// path, when given. Keys missing from the override keep their defaults.
func LoadGame(path string) (*GameConfig, error) {
	cfg := &GameConfig{}
	if err := yaml.Unmarshal(defaultGameYAML, cfg); err != nil {
		return nil, fmt.Errorf("parse embedded defaults: %w", err)
	}
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read presets file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *GameConfig) validate() error {
	for cat, p := range c.Presets {
		if _, ok := rating.ParseCategory(string(cat)); !ok {
			return fmt.Errorf("unknown preset category %q", cat)
		}
		if p.Initial <= 0 || p.Increment < 0 {
			return fmt.Errorf("preset %s: invalid time control %s+%s", cat, p.Initial, p.Increment)
		}
	}
	for _, cat := range c.RatedCategories {
		if _, ok := rating.ParseCategory(string(cat)); !ok {
			return fmt.Errorf("unknown rated category %q", cat)
		}
	}
	if c.Rules.NoProgressCap < 0 || c.Rules.RepetitionLimit < 0 {
		return fmt.Errorf("rules: limits must not be negative")
	}
	for i := range c.Schedule {
		s := &c.Schedule[i]
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("schedule[%d]: name is required", i)
		}
		if _, ok := c.Presets[s.Category]; !ok {
			return fmt.Errorf("schedule %q: no preset for category %q", s.Name, s.Category)
		}
		if err := s.Resolve(); err != nil {
			return err
		}
		if s.Duration <= 0 {
			return fmt.Errorf("schedule %q: duration must be positive", s.Name)
		}
		if s.Every != 0 && s.Every < s.Duration {
			return fmt.Errorf("schedule %q: every %s shorter than duration %s", s.Name, s.Every, s.Duration)
		}
	}
	return nil
}

// RatingPolicy returns the rating policy with the configured rated pools.
func (c *GameConfig) RatingPolicy() rating.Policy {
	p := rating.DefaultPolicy()
	p.Rated = make(map[rating.Category]bool, len(c.RatedCategories))
	for _, cat := range c.RatedCategories {
		p.Rated[cat] = true
	}
	return p
}

// Next returns the first occurrence of s that has not ended by now.
func (s ArenaSchedule) Next(now time.Time) (time.Time, bool) {
	start := s.startAt
	if s.Every <= 0 {
		return start, now.Before(start.Add(s.Duration))
	}
	if !now.Before(start.Add(s.Duration)) {
		k := now.Sub(start.Add(s.Duration))/s.Every + 1
		start = start.Add(k * s.Every)
	}
	return start, true
}
