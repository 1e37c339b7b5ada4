package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"opsbot/types"
)

// Config is the main configuration. Loaded once at startup, validated, and
// passed explicitly to component constructors; nothing reads it globally.
type Config struct {
	Version     string         `yaml:"version"`
	Region      string         `yaml:"region"`
	MetricsAddr string         `yaml:"metrics_addr,omitempty"`
	Workers     int            `yaml:"workers,omitempty"`
	QueueSize   int            `yaml:"queue_size,omitempty"`
	Cache       CacheConfig    `yaml:"cache,omitempty"`
	EC2         KindConfig     `yaml:"ec2,omitempty"`
	RDS         KindConfig     `yaml:"rds,omitempty"`
	EKS         EKSConfig      `yaml:"eks,omitempty"`
	Schedules   ScheduleConfig `yaml:"schedules,omitempty"`
}

// CacheConfig holds TTLs for the describe/metrics cache.
type CacheConfig struct {
	StateTTL   time.Duration `yaml:"state_ttl,omitempty"`
	MetricsTTL time.Duration `yaml:"metrics_ttl,omitempty"`
}

// KindConfig declares the aliases of one resource kind, split by tier.
// Declaration order is preserved and drives list output ordering.
type KindConfig struct {
	FullControl []types.ResourceAlias `yaml:"full_control,omitempty"`
	MetricsOnly []types.ResourceAlias `yaml:"metrics_only,omitempty"`
}

// EKSConfig names the managed cluster for nodegroup commands.
type EKSConfig struct {
	Cluster string `yaml:"cluster,omitempty"`
}

// ScheduleConfig controls the daily start/stop scheduler.
type ScheduleConfig struct {
	Path          string `yaml:"path,omitempty"`
	DefaultStart  string `yaml:"default_start,omitempty"`
	DefaultStop   string `yaml:"default_stop,omitempty"`
	RetentionDays int    `yaml:"retention_days,omitempty"`
}

// Load reads, parses and validates configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse: %v", types.ErrConfig, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":2112"
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.Cache.StateTTL <= 0 {
		c.Cache.StateTTL = 30 * time.Second
	}
	if c.Cache.MetricsTTL <= 0 {
		c.Cache.MetricsTTL = 5 * time.Minute
	}
	if c.Schedules.Path == "" {
		c.Schedules.Path = "./opsbot.db"
	}
	if c.Schedules.DefaultStart == "" {
		c.Schedules.DefaultStart = "09:00"
	}
	if c.Schedules.DefaultStop == "" {
		c.Schedules.DefaultStop = "18:00"
	}
	if c.Schedules.RetentionDays <= 0 {
		c.Schedules.RetentionDays = 30
	}
}

// Validate ensures config has required fields and consistent alias maps.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("%w: version is required", types.ErrConfig)
	}
	if c.Region == "" {
		return fmt.Errorf("%w: region is required", types.ErrConfig)
	}
	if err := validateKind(types.KindEC2, c.EC2); err != nil {
		return err
	}
	if err := validateKind(types.KindRDS, c.RDS); err != nil {
		return err
	}
	return nil
}

var (
	ec2IDPattern = regexp.MustCompile(`^i-[0-9a-f]{8,17}$`)
	rdsIDPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]{0,62}$`)
)

// validateKind rejects duplicate aliases within a kind (including an alias
// appearing in both tiers) and malformed resource identifiers.
func validateKind(kind types.Kind, kc KindConfig) error {
	seen := make(map[string]types.Tier)
	for _, entry := range aliasesOf(kind, kc) {
		if entry.Alias == "" {
			return fmt.Errorf("%w: %s entry %q has empty alias", types.ErrConfig, kind, entry.ResourceID)
		}
		if prev, dup := seen[entry.Alias]; dup {
			if prev != entry.Tier {
				return fmt.Errorf("%w: %s alias %q appears in both tiers", types.ErrConfig, kind, entry.Alias)
			}
			return fmt.Errorf("%w: duplicate %s alias %q", types.ErrConfig, kind, entry.Alias)
		}
		seen[entry.Alias] = entry.Tier
		if err := validateResourceID(kind, entry.ResourceID); err != nil {
			return err
		}
	}
	return nil
}

func validateResourceID(kind types.Kind, id string) error {
	switch kind {
	case types.KindEC2:
		if !ec2IDPattern.MatchString(id) {
			return fmt.Errorf("%w: malformed EC2 instance ID %q", types.ErrConfig, id)
		}
	case types.KindRDS:
		if !rdsIDPattern.MatchString(id) {
			return fmt.Errorf("%w: malformed RDS instance identifier %q", types.ErrConfig, id)
		}
	}
	return nil
}

// Aliases returns the declared aliases of one kind in declaration order,
// full-control entries first, with Kind and Tier filled in.
func (c *Config) Aliases(kind types.Kind) []types.ResourceAlias {
	switch kind {
	case types.KindEC2:
		return aliasesOf(kind, c.EC2)
	case types.KindRDS:
		return aliasesOf(kind, c.RDS)
	default:
		return nil
	}
}

func aliasesOf(kind types.Kind, kc KindConfig) []types.ResourceAlias {
	out := make([]types.ResourceAlias, 0, len(kc.FullControl)+len(kc.MetricsOnly))
	for _, a := range kc.FullControl {
		a.Kind = kind
		a.Tier = types.TierFullControl
		out = append(out, a)
	}
	for _, a := range kc.MetricsOnly {
		a.Kind = kind
		a.Tier = types.TierMetricsOnly
		out = append(out, a)
	}
	return out
}
