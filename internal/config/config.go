// Package config owns parsing and validation of the daemon's YAML
// configuration file (spec.md §6).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full EGD daemon configuration.
type Config struct {
	LogLevel            string         `yaml:"log_level"`
	LogFormat           string         `yaml:"log_format"`
	LogFile             string         `yaml:"log_file"`
	DebugDumpDir        string         `yaml:"debug_dump_dir"`
	MaxEntropy          string         `yaml:"max_entropy"`
	MaxEntropyRaw       int64          `yaml:"-"`
	PersistFile         string         `yaml:"persist_file"`
	PersistInterval     time.Duration  `yaml:"persist_interval"`
	PoolChunkMaxEntropy string         `yaml:"pool_chunk_max_entropy"`
	PoolChunkRaw        int64          `yaml:"-"`
	TCPPort             int            `yaml:"tcp_port"`
	CompressAlgorithm   string         `yaml:"compress_algorithm"`
	Digest              DigestConfig   `yaml:"digest"`
	Audit               AuditConfig    `yaml:"audit"`
	Mirror              MirrorConfig   `yaml:"mirror"`
	Tracing             TracingConfig  `yaml:"tracing"`
	Sources             []SourceConfig `yaml:"sources"`
}

// TracingConfig configures the optional stdout-exporter span tracer.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DigestConfig configures the optional cron-scheduled summary logger.
type DigestConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron expression, robfig/cron/v3 syntax
}

// AuditConfig configures the optional SQLite-backed lifecycle journal.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MirrorConfig configures the optional S3 secondary persistence sink.
type MirrorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Key     string `yaml:"key"`
}

// SourceConfig is one configured entropy source, keyed by its unique Name.
type SourceConfig struct {
	Name              string        `yaml:"name"`
	Interval          time.Duration `yaml:"interval"`
	Scale             float64       `yaml:"scale"`
	URL               string        `yaml:"url"`
	File              string        `yaml:"file"`
	Command           []string      `yaml:"command"`
	ScriptInterpreter string        `yaml:"script_interpreter"`
	Script            string        `yaml:"script"`
	Size              int64         `yaml:"size"`
	MinSize           int64         `yaml:"min_size"`
	NoCompress        bool          `yaml:"no_compress"`
	InitDelay         time.Duration `yaml:"init_delay"`
	Prefetch          string        `yaml:"prefetch"`
	Disabled          bool          `yaml:"disabled"`
	InsecureTLS       bool          `yaml:"insecure_tls"`
	MaxReadRate       string        `yaml:"max_read_rate"`
	MaxReadRateRaw    int64         `yaml:"-"`

	// Custom captures arbitrary scalar keys not named above; every entry
	// is exported to script children as EGD_SOURCE_<UPPER_KEY>.
	Custom map[string]Scalar `yaml:",inline"`
}

// Load reads, parses and validates a YAML configuration file from path.
// Structural pre-validation against schema.json should already have run
// (see Validate); Load performs the semantic pass itself as well so it
// is safe to call standalone.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.applyDefaultsAndValidate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envSafeKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (c *Config) applyDefaultsAndValidate() error {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug|info|warn|error, got %q", c.LogLevel)
	}

	if c.LogFormat == "" {
		c.LogFormat = "json"
	}

	if c.MaxEntropy == "" {
		return fmt.Errorf("max_entropy is required")
	}
	maxEntropy, err := ParseByteSize(c.MaxEntropy)
	if err != nil {
		return fmt.Errorf("max_entropy: %w", err)
	}
	if maxEntropy <= 0 {
		return fmt.Errorf("max_entropy must be positive, got %s", c.MaxEntropy)
	}
	c.MaxEntropyRaw = maxEntropy

	if c.PersistFile == "" {
		return fmt.Errorf("persist_file is required")
	}
	expanded, err := expandTilde(c.PersistFile)
	if err != nil {
		return fmt.Errorf("persist_file: %w", err)
	}
	c.PersistFile = expanded

	if c.PersistInterval < 10*time.Second || c.PersistInterval > 24*time.Hour {
		return fmt.Errorf("persist_interval must be within [10s, 24h], got %s", c.PersistInterval)
	}

	if c.PoolChunkMaxEntropy == "" {
		return fmt.Errorf("pool_chunk_max_entropy is required")
	}
	chunkMax, err := ParseByteSize(c.PoolChunkMaxEntropy)
	if err != nil {
		return fmt.Errorf("pool_chunk_max_entropy: %w", err)
	}
	if chunkMax <= 0 {
		return fmt.Errorf("pool_chunk_max_entropy must be positive, got %s", c.PoolChunkMaxEntropy)
	}
	c.PoolChunkRaw = chunkMax

	if c.TCPPort < 1 || c.TCPPort > 65535 {
		return fmt.Errorf("tcp_port must be within [1, 65535], got %d", c.TCPPort)
	}

	if c.CompressAlgorithm == "" {
		c.CompressAlgorithm = "lz4"
	}
	switch c.CompressAlgorithm {
	case "lz4", "zstd":
	default:
		return fmt.Errorf("compress_algorithm must be one of lz4|zstd, got %q", c.CompressAlgorithm)
	}

	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}

	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.Name == "" {
			return fmt.Errorf("sources[%d].name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("sources[%d]: duplicate source name %q", i, s.Name)
		}
		seen[s.Name] = true

		if err := s.validate(); err != nil {
			return fmt.Errorf("sources[%d] (%s): %w", i, s.Name, err)
		}
	}

	return nil
}

func (s *SourceConfig) validate() error {
	if s.Interval < 10*time.Second {
		return fmt.Errorf("interval must be >= 10s, got %s", s.Interval)
	}
	if s.Scale < 0.0 || s.Scale > 1.0 {
		return fmt.Errorf("scale must be within [0, 1], got %f", s.Scale)
	}

	methods := 0
	if s.URL != "" {
		methods++
	}
	if s.File != "" {
		methods++
	}
	if len(s.Command) > 0 {
		methods++
	}
	if s.Script != "" || s.ScriptInterpreter != "" {
		methods++
	}
	if methods != 1 {
		return fmt.Errorf("exactly one of url|file|command|script must be set, found %d", methods)
	}

	if s.Prefetch != "" && s.URL == "" {
		return fmt.Errorf("prefetch requires url")
	}
	if (s.Script != "") != (s.ScriptInterpreter != "") {
		return fmt.Errorf("script and script_interpreter must be set together")
	}
	if s.MinSize != 0 && s.Size != 0 && s.MinSize > s.Size {
		return fmt.Errorf("min_size (%d) must be <= size (%d)", s.MinSize, s.Size)
	}

	if s.MaxReadRate != "" {
		rate, err := ParseByteSize(s.MaxReadRate)
		if err != nil {
			return fmt.Errorf("max_read_rate: %w", err)
		}
		s.MaxReadRateRaw = rate
	}

	for key := range s.Custom {
		if !envSafeKey.MatchString(key) {
			return fmt.Errorf("custom key %q is not a safe environment variable name", key)
		}
	}

	return nil
}

// Env returns the deterministic EGD_SOURCE_<KEY> environment entries for
// every configured key on this source, named fields and custom keys
// alike, per spec.md §4.5 ("every configuration key on the source...
// is exported") and §6. String-valued optional fields (URL, FILE,
// COMMAND, SCRIPT_INTERPRETER, SCRIPT, PREFETCH, MAX_READ_RATE) are
// omitted when empty; SIZE, MIN_SIZE, NO_COMPRESS, INIT_DELAY, DISABLED
// and INSECURE_TLS are always exported, zero values included.
func (s *SourceConfig) Env() []string {
	out := make([]string, 0, 16+len(s.Custom))
	add := func(key, val string) {
		out = append(out, fmt.Sprintf("EGD_SOURCE_%s=%s", key, val))
	}

	add("NAME", s.Name)
	add("INTERVAL", s.Interval.String())
	add("SCALE", strconv.FormatFloat(s.Scale, 'f', -1, 64))
	if s.URL != "" {
		add("URL", s.URL)
	}
	if s.File != "" {
		add("FILE", s.File)
	}
	if len(s.Command) > 0 {
		add("COMMAND", strings.Join(s.Command, " "))
	}
	if s.ScriptInterpreter != "" {
		add("SCRIPT_INTERPRETER", s.ScriptInterpreter)
	}
	if s.Script != "" {
		add("SCRIPT", s.Script)
	}
	add("SIZE", strconv.FormatInt(s.Size, 10))
	add("MIN_SIZE", strconv.FormatInt(s.MinSize, 10))
	add("NO_COMPRESS", strconv.FormatBool(s.NoCompress))
	add("INIT_DELAY", s.InitDelay.String())
	if s.Prefetch != "" {
		add("PREFETCH", s.Prefetch)
	}
	add("DISABLED", strconv.FormatBool(s.Disabled))
	add("INSECURE_TLS", strconv.FormatBool(s.InsecureTLS))
	if s.MaxReadRate != "" {
		add("MAX_READ_RATE", s.MaxReadRate)
	}

	keys := make([]string, 0, len(s.Custom))
	for key := range s.Custom {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		add(strings.ToUpper(key), s.Custom[key].String())
	}

	return out
}

func expandTilde(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// ParseByteSize converts human-readable sizes like "256mb", "1gb", or a
// bare byte count, into a byte count.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	// Ordered longest-suffix-first so "mb" never matches as "b".
	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
