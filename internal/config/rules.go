package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Stage kinds understood by the transform pipeline
const (
	StageScript     = "script"
	StageJSON       = "json"
	StageCSS        = "css"
	StageCSSModules = "css-modules"
	StageExtract    = "extract"
	StageAsset      = "asset"
	StageText       = "text"
)

var stageKinds = map[string]bool{
	StageScript:     true,
	StageJSON:       true,
	StageCSS:        true,
	StageCSSModules: true,
	StageExtract:    true,
	StageAsset:      true,
	StageText:       true,
}

// RuleConfig maps a file pattern to an ordered chain of transform stages.
// Test and Exclude are compiled by ValidateRules; a rule that has not been
// validated never matches.
type RuleConfig struct {
	Name    string   `mapstructure:"name" json:"name" yaml:"name"`
	Test    string   `mapstructure:"test" json:"test" yaml:"test"`
	Exclude string   `mapstructure:"exclude" json:"exclude" yaml:"exclude"`
	Include string   `mapstructure:"include" json:"include" yaml:"include"` // directory prefix relative to root
	Use     []string `mapstructure:"use" json:"use" yaml:"use"`

	test    *regexp.Regexp
	exclude *regexp.Regexp
}

// DefaultRules returns the rule set used when none is configured.
// Module-scoped styles come before plain styles because first match wins.
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{Name: "script", Test: `\.(ts|tsx|js|jsx|mjs|cjs)$`, Use: []string{StageScript}},
		{Name: "style-module", Test: `\.module\.css$`, Use: []string{StageCSSModules, StageCSS, StageExtract}},
		{Name: "style", Test: `\.css$`, Use: []string{StageCSS, StageExtract}},
		{Name: "json", Test: `\.json$`, Use: []string{StageJSON}},
		{Name: "asset", Test: `\.(png|svg|jpg|jpeg|gif|webp|avif|ico|woff2?|ttf|eot)$`, Use: []string{StageAsset}},
		{Name: "text", Test: `\.(txt|html|md)$`, Use: []string{StageText}},
	}
}

// ValidateRules checks every rule and compiles its patterns in place
func ValidateRules(rules []RuleConfig) error {
	if len(rules) == 0 {
		return fmt.Errorf("at least one rule is required")
	}

	names := make(map[string]bool, len(rules))
	for i := range rules {
		rule := &rules[i]
		if rule.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		if names[rule.Name] {
			return fmt.Errorf("duplicate rule name %q", rule.Name)
		}
		names[rule.Name] = true

		if err := rule.compile(); err != nil {
			return fmt.Errorf("rule %q: %w", rule.Name, err)
		}

		if len(rule.Use) == 0 {
			return fmt.Errorf("rule %q: at least one stage is required", rule.Name)
		}
		for _, stage := range rule.Use {
			if !stageKinds[stage] {
				return fmt.Errorf("rule %q: unknown stage %q", rule.Name, stage)
			}
		}
	}
	return nil
}

func (r *RuleConfig) compile() error {
	if r.Test == "" {
		return fmt.Errorf("test pattern is required")
	}
	test, err := regexp.Compile(r.Test)
	if err != nil {
		return fmt.Errorf("invalid test pattern: %w", err)
	}
	r.test = test

	r.exclude = nil
	if r.Exclude != "" {
		exclude, err := regexp.Compile(r.Exclude)
		if err != nil {
			return fmt.Errorf("invalid exclude pattern: %w", err)
		}
		r.exclude = exclude
	}
	return nil
}

// Matches reports whether the rule applies to path. relPath is the path
// relative to the project root, using forward slashes.
func (r *RuleConfig) Matches(relPath string) bool {
	if r.test == nil || !r.test.MatchString(relPath) {
		return false
	}
	if r.exclude != nil && r.exclude.MatchString(relPath) {
		return false
	}
	if r.Include != "" {
		prefix := strings.TrimSuffix(filepath.ToSlash(filepath.Clean(r.Include)), "/") + "/"
		if !strings.HasPrefix(relPath, prefix) {
			return false
		}
	}
	return true
}
