package service

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yswin-stack/campusride/internal/model"
)

// Scenario shapes the uncertainty of a simulated day: how widely travel
// times and rider readiness scatter, and the weather the whole day runs
// under.
type Scenario struct {
	Name            string        `yaml:"name" json:"name"`
	TrafficVariance VarianceLevel `yaml:"traffic_variance" json:"traffic_variance"`
	RiderVariance   VarianceLevel `yaml:"rider_variance" json:"rider_variance"`
	Weather         model.Weather `yaml:"weather" json:"weather"`
	Runs            int           `yaml:"runs,omitempty" json:"runs,omitempty"`
}

// DefaultScenario is an ordinary clear-sky day.
func DefaultScenario() Scenario {
	return Scenario{
		Name:            "baseline",
		TrafficVariance: VarianceNormal,
		RiderVariance:   VarianceNormal,
		Weather:         model.WeatherClear,
	}
}

// normalize fills gaps so a partially specified scenario still runs.
func (s Scenario) normalize() Scenario {
	if s.Name == "" {
		s.Name = "baseline"
	}
	switch s.TrafficVariance {
	case VarianceLow, VarianceNormal, VarianceHigh:
	default:
		s.TrafficVariance = VarianceNormal
	}
	switch s.RiderVariance {
	case VarianceLow, VarianceNormal, VarianceHigh:
	default:
		s.RiderVariance = VarianceNormal
	}
	switch s.Weather {
	case model.WeatherClear, model.WeatherRain, model.WeatherSnow, model.WeatherStorm:
	default:
		s.Weather = model.WeatherClear
	}
	return s
}

type scenarioFile struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// LoadScenarioFile reads named scenarios from a YAML file.
func LoadScenarioFile(path string) ([]Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	var f scenarioFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse scenario file %s: %w", path, err)
	}
	out := make([]Scenario, 0, len(f.Scenarios))
	for _, s := range f.Scenarios {
		out = append(out, s.normalize())
	}
	return out, nil
}

// FindScenario returns the named scenario, or the default when name is
// empty or unknown.
func FindScenario(scenarios []Scenario, name string) Scenario {
	if name == "" {
		return DefaultScenario()
	}
	for _, s := range scenarios {
		if s.Name == name {
			return s
		}
	}
	return DefaultScenario()
}
