package config

import (
	"fmt"
	"strings"
)

// ResolveConfig contains module resolution settings.
//
// Note: viper lowercases map keys, so alias and external names are matched
// case-sensitively against their lowercased form.
type ResolveConfig struct {
	Extensions []string          `mapstructure:"extensions" json:"extensions" yaml:"extensions"`
	Alias      map[string]string `mapstructure:"alias" json:"alias" yaml:"alias"`       // specifier prefix -> directory
	Modules    []string          `mapstructure:"modules" json:"modules" yaml:"modules"` // package lookup directory names
	MainFields []string          `mapstructure:"main_fields" json:"main_fields" yaml:"main_fields"`
	Externals  map[string]string `mapstructure:"externals" json:"externals" yaml:"externals"` // specifier -> global variable name
}

// Validate validates resolve configuration
func (rc *ResolveConfig) Validate() error {
	if len(rc.Extensions) == 0 {
		return fmt.Errorf("at least one extension is required")
	}
	seen := make(map[string]bool, len(rc.Extensions))
	for _, ext := range rc.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
		if seen[ext] {
			return fmt.Errorf("duplicate extension %q", ext)
		}
		seen[ext] = true
	}

	for key := range rc.Alias {
		if key == "" {
			return fmt.Errorf("alias key cannot be empty")
		}
		if strings.HasPrefix(key, ".") || strings.HasSuffix(key, "/") {
			return fmt.Errorf("alias key %q cannot start with '.' or end with '/'", key)
		}
	}

	if len(rc.Modules) == 0 {
		return fmt.Errorf("at least one module directory is required")
	}
	for _, dir := range rc.Modules {
		if dir == "" || strings.ContainsAny(dir, `/\`) {
			return fmt.Errorf("module directory %q must be a plain directory name", dir)
		}
	}

	for spec, global := range rc.Externals {
		if global == "" {
			return fmt.Errorf("external %q needs a global variable name", spec)
		}
	}

	return nil
}
