package config

import (
	"fmt"
	"regexp"
)

var (
	esTargets = map[string]bool{
		"es5": true, "es2015": true, "es2016": true, "es2017": true, "es2018": true,
		"es2019": true, "es2020": true, "es2021": true, "es2022": true, "esnext": true,
	}
	knownEngines = map[string]bool{
		"chrome": true, "edge": true, "firefox": true, "ie": true, "ios": true,
		"node": true, "opera": true, "safari": true,
	}
	engineVersionPattern = regexp.MustCompile(`^\d+(\.\d+){0,2}$`)
)

// Validate validates target configuration
func (tc *TargetConfig) Validate() error {
	if !esTargets[tc.ES] {
		return fmt.Errorf("unsupported es target: %q", tc.ES)
	}
	for engine, version := range tc.Engines {
		if !knownEngines[engine] {
			return fmt.Errorf("unknown engine: %q", engine)
		}
		if !engineVersionPattern.MatchString(version) {
			return fmt.Errorf("invalid version %q for engine %s", version, engine)
		}
	}
	if tc.JSX != "transform" && tc.JSX != "automatic" {
		return fmt.Errorf("jsx must be 'transform' or 'automatic', got: %q", tc.JSX)
	}
	return nil
}
