package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the bundler configuration. It is read once by Load and
// must not be mutated afterwards.
type Config struct {
	Root             string            `mapstructure:"root" json:"root" yaml:"root"`
	Entry            map[string]string `mapstructure:"entry" json:"entry" yaml:"entry"` // entry name -> path relative to root
	Output           OutputConfig      `mapstructure:"output" json:"output" yaml:"output"`
	Resolve          ResolveConfig     `mapstructure:"resolve" json:"resolve" yaml:"resolve"`
	Rules            []RuleConfig      `mapstructure:"rules" json:"rules" yaml:"rules"`
	Assets           AssetsConfig      `mapstructure:"assets" json:"assets" yaml:"assets"`
	Target           TargetConfig      `mapstructure:"target" json:"target" yaml:"target"`
	HTML             HTMLConfig        `mapstructure:"html" json:"html" yaml:"html"`
	Chunks           string            `mapstructure:"chunks" json:"chunks" yaml:"chunks"` // single or entry
	Concurrency      int               `mapstructure:"concurrency" json:"concurrency" yaml:"concurrency"`
	TransformTimeout time.Duration     `mapstructure:"transform_timeout" json:"transform_timeout" yaml:"transform_timeout"`
	Cache            CacheConfig       `mapstructure:"cache" json:"cache" yaml:"cache"`
	Metrics          MetricsConfig     `mapstructure:"metrics" json:"metrics" yaml:"metrics"`
	Tracing          TracingConfig     `mapstructure:"tracing" json:"tracing" yaml:"tracing"`
	Publish          PublishConfig     `mapstructure:"publish" json:"publish" yaml:"publish"`
	Debug            bool              `mapstructure:"debug" json:"debug" yaml:"debug"`

	// Mode is supplied by the caller of Load and never read from the config file
	Mode BuildMode `mapstructure:"-" json:"mode" yaml:"mode"`
}

// OutputConfig contains output paths and filename templates
type OutputConfig struct {
	Dir           string `mapstructure:"dir" json:"dir" yaml:"dir"`
	Filename      string `mapstructure:"filename" json:"filename" yaml:"filename"`
	CSSFilename   string `mapstructure:"css_filename" json:"css_filename" yaml:"css_filename"`
	AssetFilename string `mapstructure:"asset_filename" json:"asset_filename" yaml:"asset_filename"`
	PublicPath    string `mapstructure:"public_path" json:"public_path" yaml:"public_path"`
	Clean         bool   `mapstructure:"clean" json:"clean" yaml:"clean"`
	Sourcemap     bool   `mapstructure:"sourcemap" json:"sourcemap" yaml:"sourcemap"` // inline source maps for script modules
}

// AssetsConfig contains binary asset settings
type AssetsConfig struct {
	InlineLimit int64 `mapstructure:"inline_limit" json:"inline_limit" yaml:"inline_limit"` // assets at or below this size become data URIs
}

// TargetConfig describes the environment the output must run in
type TargetConfig struct {
	ES      string            `mapstructure:"es" json:"es" yaml:"es"`                // es2015, es2020, esnext, ...
	Engines map[string]string `mapstructure:"engines" json:"engines" yaml:"engines"` // engine -> minimum version, e.g. safari: "7"
	JSX     string            `mapstructure:"jsx" json:"jsx" yaml:"jsx"`             // transform or automatic
}

// HTMLConfig contains HTML shell settings
type HTMLConfig struct {
	Enabled  bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Template string `mapstructure:"template" json:"template" yaml:"template"` // path relative to root, empty for the built-in shell
	Filename string `mapstructure:"filename" json:"filename" yaml:"filename"`
	Title    string `mapstructure:"title" json:"title" yaml:"title"`
}

// CacheConfig contains transform cache settings
type CacheConfig struct {
	Backend    string        `mapstructure:"backend" json:"backend" yaml:"backend"` // none, memory or redis
	RedisURL   string        `mapstructure:"redis_url" json:"redis_url" yaml:"redis_url"`
	TTL        time.Duration `mapstructure:"ttl" json:"ttl" yaml:"ttl"`
	MaxEntries int           `mapstructure:"max_entries" json:"max_entries" yaml:"max_entries"`
}

// MetricsConfig contains Prometheus settings for build metrics
type MetricsConfig struct {
	Enabled        bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	PushgatewayURL string `mapstructure:"pushgateway_url" json:"pushgateway_url" yaml:"pushgateway_url"`
	Job            string `mapstructure:"job" json:"job" yaml:"job"`
}

// TracingConfig contains OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" json:"endpoint" yaml:"endpoint"`
	ServiceName string  `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate" json:"sample_rate" yaml:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure" json:"insecure" yaml:"insecure"`
}

// LoadOptions controls where configuration is read from
type LoadOptions struct {
	// Mode is the build mode; it is threaded through explicitly instead of
	// being derived from NODE_ENV-style variables.
	Mode BuildMode

	// ConfigFile overrides config file discovery when set
	ConfigFile string

	// Overrides are applied on top of file and environment values (CLI flags)
	Overrides map[string]interface{}
}

// Load loads configuration from file and environment variables, validates it
// and resolves all paths against the project root.
func Load(opts LoadOptions) (*Config, error) {
	if opts.Mode == "" {
		opts.Mode = ModeDevelopment
	}
	if _, err := ParseBuildMode(string(opts.Mode)); err != nil {
		return nil, err
	}

	// Load .env file if it exists (for local development)
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	v := viper.New()
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("fluxpack")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v, opts.Mode)

	// Enable environment variable support with underscore replacer
	v.SetEnvPrefix("FLUXPACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Info().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Info().Str("file", v.ConfigFileUsed()).Msg("Config file loaded")
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	// entry may also be a single path or a list of paths
	if entries, ok := entryMap(v.Get("entry")); ok {
		v.Set("entry", entries)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	config.Mode = opts.Mode

	if err := config.restoreKeyCase(v, opts.Overrides); err != nil {
		return nil, err
	}

	// Relative roots are taken relative to the config file, not the working directory
	if config.Root == "" || !filepath.IsAbs(config.Root) {
		base := "."
		if used := v.ConfigFileUsed(); used != "" {
			base = filepath.Dir(used)
		}
		config.Root = filepath.Join(base, config.Root)
	}

	if err := config.normalize(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// caseSensitiveKeys are maps whose keys are names chosen by the user. viper
// lowercases map keys, so these are read again with their original case.
var caseSensitiveKeys = []string{"entry", "resolve.alias"}

// restoreKeyCase replaces the entry and alias maps decoded by viper with
// case-preserving copies taken from the same source: an override, the
// environment, the config file or the defaults, in that order.
func (c *Config) restoreKeyCase(v *viper.Viper, overrides map[string]interface{}) error {
	file, err := readRawConfig(v.ConfigFileUsed())
	if err != nil {
		return err
	}

	for _, key := range caseSensitiveKeys {
		value, ok := overrides[key]
		if !ok {
			env, set := os.LookupEnv("FLUXPACK_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
			switch {
			case set && key == "entry":
				value = env
			case set:
				continue
			default:
				if value, ok = lookupRaw(file, key); !ok {
					continue
				}
			}
		}

		m, ok := stringMap(value)
		if !ok && key == "entry" {
			m, ok = entryMap(value)
		}
		if !ok {
			return fmt.Errorf("unable to decode config: %s must be a map of strings", key)
		}
		switch key {
		case "entry":
			c.Entry = m
		case "resolve.alias":
			c.Resolve.Alias = m
		}
	}
	return nil
}

// readRawConfig decodes a yaml or json config file without viper's key
// folding. Other formats return nil.
func readRawConfig(path string) (map[string]interface{}, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" && ext != ".json" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var raw map[string]interface{}
	if ext == ".json" {
		err = json.Unmarshal(data, &raw)
	} else {
		err = yaml.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return raw, nil
}

// lookupRaw finds a dotted key in a decoded config file. Section names match
// case-insensitively, like viper.
func lookupRaw(raw map[string]interface{}, key string) (interface{}, bool) {
	var cur interface{} = raw
	for _, part := range strings.Split(key, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		found := false
		for k, v := range m {
			if strings.EqualFold(k, part) {
				cur, found = v, true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	return cur, true
}

// stringMap converts a decoded map with string values
func stringMap(value interface{}) (map[string]string, bool) {
	switch val := value.(type) {
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, v := range val {
			out[k] = v
		}
		return out, true
	case map[string]interface{}:
		out := make(map[string]string, len(val))
		for k, v := range val {
			s, ok := v.(string)
			if !ok {
				return nil, false
			}
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// entryMap converts the string and list forms of entry into the map form,
// naming each entry after its file name without extension
func entryMap(value interface{}) (map[string]string, bool) {
	var paths []string
	switch val := value.(type) {
	case string:
		paths = []string{val}
	case []string:
		paths = val
	case []interface{}:
		for _, p := range val {
			paths = append(paths, fmt.Sprint(p))
		}
	default:
		return nil, false
	}

	entries := make(map[string]string, len(paths))
	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		entries[name] = p
	}
	return entries, true
}

// loadEnvFile loads environment variables from .env file
func loadEnvFile() error {
	locations := []string{
		".env",
		".env.local",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Debug().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

// setDefaults sets default configuration values. The defaults reproduce a
// conventional single-page application layout (src/, public/, dist/).
func setDefaults(v *viper.Viper, mode BuildMode) {
	v.SetDefault("root", ".")
	v.SetDefault("entry", map[string]string{"main": "./src/index.tsx"})

	// Output defaults
	v.SetDefault("output.dir", "dist")
	v.SetDefault("output.filename", "static/js/[name].[contenthash:8].js")
	v.SetDefault("output.css_filename", "static/css/[name].[contenthash:8].css")
	v.SetDefault("output.asset_filename", "static/media/[name].[hash:8].[ext]")
	v.SetDefault("output.public_path", "/")
	v.SetDefault("output.clean", true)
	v.SetDefault("output.sourcemap", mode == ModeDevelopment)

	// Resolve defaults
	v.SetDefault("resolve.extensions", []string{".tsx", ".ts", ".js", ".json"})
	v.SetDefault("resolve.alias", map[string]string{
		"@":       "src",
		"@assets": "src/assets",
	})
	v.SetDefault("resolve.modules", []string{"node_modules"})
	v.SetDefault("resolve.main_fields", []string{"browser", "module", "main"})

	// Asset defaults
	v.SetDefault("assets.inline_limit", 8*1024) // 8KB

	// Target defaults
	v.SetDefault("target.es", "es2015")
	v.SetDefault("target.jsx", "transform")

	// HTML shell defaults
	v.SetDefault("html.enabled", true)
	v.SetDefault("html.template", "public/index.html")
	v.SetDefault("html.filename", "index.html")
	v.SetDefault("html.title", "App")

	// Build defaults
	v.SetDefault("chunks", ChunksSingle)
	v.SetDefault("concurrency", runtime.NumCPU())
	v.SetDefault("transform_timeout", "30s")

	// Cache defaults (builds are not incremental unless a backend is chosen)
	v.SetDefault("cache.backend", CacheNone)
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("cache.max_entries", 10000)

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.job", "fluxpack")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.service_name", "fluxpack")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.insecure", true)

	// Publish defaults
	v.SetDefault("publish.provider", "local")
	v.SetDefault("publish.local_path", "./published")
	v.SetDefault("publish.s3_region", "us-east-1")
	v.SetDefault("publish.rate_limit", 20.0) // uploads per second
	v.SetDefault("publish.credential_store", "config")

	v.SetDefault("debug", false)
}

// normalize resolves every path in the configuration against Root
func (c *Config) normalize() error {
	root, err := filepath.Abs(c.Root)
	if err != nil {
		return fmt.Errorf("failed to resolve root: %w", err)
	}
	c.Root = root

	if c.Output.Dir != "" && !filepath.IsAbs(c.Output.Dir) {
		c.Output.Dir = filepath.Join(root, c.Output.Dir)
	}

	entries := make(map[string]string, len(c.Entry))
	for name, path := range c.Entry {
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		entries[name] = filepath.Clean(path)
	}
	c.Entry = entries

	aliases := make(map[string]string, len(c.Resolve.Alias))
	for key, target := range c.Resolve.Alias {
		if !filepath.IsAbs(target) {
			target = filepath.Join(root, target)
		}
		aliases[key] = filepath.Clean(target)
	}
	c.Resolve.Alias = aliases

	if c.HTML.Template != "" && !filepath.IsAbs(c.HTML.Template) {
		c.HTML.Template = filepath.Join(root, c.HTML.Template)
	}

	if len(c.Rules) == 0 {
		c.Rules = DefaultRules()
	}

	if !strings.HasSuffix(c.Output.PublicPath, "/") {
		c.Output.PublicPath += "/"
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Entry) == 0 {
		return fmt.Errorf("at least one entry is required")
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir cannot be empty")
	}
	if err := c.validateOutputDir(); err != nil {
		return err
	}

	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output configuration error: %w", err)
	}

	if err := c.Resolve.Validate(); err != nil {
		return fmt.Errorf("resolve configuration error: %w", err)
	}

	if err := ValidateRules(c.Rules); err != nil {
		return fmt.Errorf("rules configuration error: %w", err)
	}

	if c.Assets.InlineLimit < 0 {
		return fmt.Errorf("assets.inline_limit cannot be negative, got: %d", c.Assets.InlineLimit)
	}

	if err := c.Target.Validate(); err != nil {
		return fmt.Errorf("target configuration error: %w", err)
	}

	if c.Chunks != ChunksSingle && c.Chunks != ChunksEntry {
		return fmt.Errorf("chunks must be '%s' or '%s'", ChunksSingle, ChunksEntry)
	}

	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}

	if c.TransformTimeout <= 0 {
		return fmt.Errorf("transform_timeout must be positive")
	}

	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache configuration error: %w", err)
	}

	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}

	return nil
}

// validateOutputDir rejects output directories whose clearing would delete
// sources: the project root or any directory above it, and any directory
// that holds or lies inside an entry directory, alias target or template
func (c *Config) validateOutputDir() error {
	out, err := filepath.Abs(c.Output.Dir)
	if err != nil {
		return fmt.Errorf("failed to resolve output.dir: %w", err)
	}
	root, err := filepath.Abs(c.Root)
	if err != nil {
		return fmt.Errorf("failed to resolve root: %w", err)
	}

	if out == root {
		return fmt.Errorf("output.dir cannot be the project root")
	}
	if within(root, out) {
		return fmt.Errorf("output.dir %s cannot contain the project root", c.Output.Dir)
	}

	var sources []string
	for _, path := range c.Entry {
		sources = append(sources, filepath.Dir(path))
	}
	for _, target := range c.Resolve.Alias {
		sources = append(sources, target)
	}
	if c.HTML.Enabled && c.HTML.Template != "" {
		sources = append(sources, c.HTML.Template)
	}

	for _, src := range sources {
		if !filepath.IsAbs(src) {
			src = filepath.Join(root, src)
		}
		src = filepath.Clean(src)
		if within(src, out) {
			return fmt.Errorf("output.dir %s cannot contain source path %s", c.Output.Dir, src)
		}
		if src != root && within(out, src) {
			return fmt.Errorf("output.dir %s cannot be inside source directory %s", c.Output.Dir, src)
		}
	}
	return nil
}

// within reports whether path is dir or lies below it
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Validate validates output configuration
func (oc *OutputConfig) Validate() error {
	if oc.Filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}
	if !strings.Contains(oc.Filename, "[name]") {
		return fmt.Errorf("filename must contain [name] so chunks do not collide")
	}
	if oc.CSSFilename == "" {
		return fmt.Errorf("css_filename cannot be empty")
	}
	if oc.AssetFilename == "" {
		return fmt.Errorf("asset_filename cannot be empty")
	}
	for _, tmpl := range []string{oc.Filename, oc.CSSFilename, oc.AssetFilename} {
		if filepath.IsAbs(tmpl) || strings.HasPrefix(filepath.Clean(tmpl), "..") {
			return fmt.Errorf("filename template %q must stay inside the output directory", tmpl)
		}
	}
	return nil
}

// Validate validates cache configuration
func (cc *CacheConfig) Validate() error {
	switch cc.Backend {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if cc.RedisURL == "" {
			return fmt.Errorf("redis_url is required when using the redis backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be one of: none, memory, redis)", cc.Backend)
	}
	if cc.TTL < 0 {
		return fmt.Errorf("ttl cannot be negative, got: %v", cc.TTL)
	}
	return nil
}

// Cache backends
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Chunk policies
const (
	ChunksSingle = "single"
	ChunksEntry  = "entry"
)
