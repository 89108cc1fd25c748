package config

import (
	"fmt"
	"strings"
)

// BuildMode selects development or production behavior. It is passed to Load
// explicitly and carried on Config; nothing below the CLI reads NODE_ENV.
type BuildMode string

const (
	ModeDevelopment BuildMode = "development"
	ModeProduction  BuildMode = "production"
)

// ParseBuildMode parses a build mode name, accepting the short forms dev and prod
func ParseBuildMode(s string) (BuildMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "development", "dev":
		return ModeDevelopment, nil
	case "production", "prod":
		return ModeProduction, nil
	default:
		return "", fmt.Errorf("invalid build mode: %q (must be development or production)", s)
	}
}

// IsProduction reports whether m is the production mode
func (m BuildMode) IsProduction() bool {
	return m == ModeProduction
}

func (m BuildMode) String() string {
	return string(m)
}
