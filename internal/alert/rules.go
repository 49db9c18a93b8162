// Package alert evaluates debounced flood-warning rules against per-horizon
// forecast probabilities.
package alert

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rules is the alert rule set, loaded once from YAML. Two tracks: "early"
// fires on a medium-horizon probability or a fast-rise-plus-rain secondary
// condition, "high" on a long-horizon probability alone.
type Rules struct {
	DebounceMin int       `yaml:"debounce_min"`
	Early       EarlyRule `yaml:"early"`
	High        HighRule  `yaml:"high"`
}

type EarlyRule struct {
	HorizonH            int     `yaml:"horizon_h"`
	ProbMin             float64 `yaml:"prob_min"`
	DH10Min             float64 `yaml:"dh10_min"`
	RainNextHourMmphMin float64 `yaml:"rain_next_hour_mmph_min"`
}

type HighRule struct {
	HorizonH int     `yaml:"horizon_h"`
	ProbMin  float64 `yaml:"prob_min"`
}

// DefaultRules returns the operational defaults used when no rules file is
// configured.
func DefaultRules() Rules {
	return Rules{
		DebounceMin: 30,
		Early: EarlyRule{
			HorizonH:            6,
			ProbMin:             0.6,
			DH10Min:             0.08,
			RainNextHourMmphMin: 10.0,
		},
		High: HighRule{
			HorizonH: 12,
			ProbMin:  0.7,
		},
	}
}

// LoadRules reads a YAML rule file, filling unset fields from the defaults.
// An empty path returns the defaults unchanged.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("read rules file: %w", err)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return rules, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return rules, nil
}
