package glue

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/afero"
)

const (
	DefaultSessionPrefix       = "dbt-glue-"
	DefaultWorkers             = 5
	DefaultWorkerType          = "G.1X"
	DefaultProvisioningTimeout = 2 * time.Minute
	DefaultStatementTimeout    = time.Hour
	DefaultPollInterval        = time.Second
)

// Config describes the session a Connection provisions and how long it
// waits for it. A Connection only ever writes SessionID.
type Config struct {
	Region     string `yaml:"region"`
	RoleARN    string `yaml:"role_arn"`
	Workers    int32  `yaml:"workers"`
	WorkerType string `yaml:"worker_type"`

	// ExtraJars and ExtraPyFiles are comma separated S3 paths
	ExtraJars    string `yaml:"extra_jars,omitempty"`
	ExtraPyFiles string `yaml:"extra_py_files,omitempty"`

	GlueVersion string `yaml:"glue_version,omitempty"`

	// Database is selected with USE right after the session is initialized
	Database string `yaml:"database,omitempty"`

	// Location is the S3 prefix tables are written under
	Location string `yaml:"location,omitempty"`

	// SessionID is the session to reuse. Connect overwrites it with the
	// session it ends up using.
	SessionID     string `yaml:"session_id,omitempty"`
	SessionPrefix string `yaml:"session_prefix,omitempty"`

	ProvisioningTimeout Duration `yaml:"session_provisioning_timeout,omitempty"`
	StatementTimeout    Duration `yaml:"statement_timeout,omitempty"`
	PollInterval        Duration `yaml:"poll_interval,omitempty"`

	// IdleTimeout is passed to Glue as the session idle timeout, rounded to minutes
	IdleTimeout Duration `yaml:"idle_timeout,omitempty"`

	Tags map[string]string `yaml:"tags,omitempty"`
}

// DefaultConfig returns a Config with every optional field at its default.
func DefaultConfig() *Config {
	return &Config{
		Workers:             DefaultWorkers,
		WorkerType:          DefaultWorkerType,
		SessionPrefix:       DefaultSessionPrefix,
		ProvisioningTimeout: Duration{DefaultProvisioningTimeout},
		StatementTimeout:    Duration{DefaultStatementTimeout},
		PollInterval:        Duration{DefaultPollInterval},
	}
}

// applyDefaults fills zero values left by a partial file or DSN.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Workers == 0 {
		c.Workers = def.Workers
	}
	if c.WorkerType == "" {
		c.WorkerType = def.WorkerType
	}
	if c.SessionPrefix == "" {
		c.SessionPrefix = def.SessionPrefix
	}
	if c.ProvisioningTimeout.Duration == 0 {
		c.ProvisioningTimeout = def.ProvisioningTimeout
	}
	if c.StatementTimeout.Duration == 0 {
		c.StatementTimeout = def.StatementTimeout
	}
	if c.PollInterval.Duration == 0 {
		c.PollInterval = def.PollInterval
	}
}

// Validate checks the fields a session cannot be created without.
func (c *Config) Validate() error {
	var errs []error
	if c.Region == "" {
		errs = append(errs, errors.New("region is required"))
	}
	if c.RoleARN == "" {
		errs = append(errs, errors.New("role_arn is required"))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.PollInterval.Duration < 0 || c.ProvisioningTimeout.Duration < 0 || c.StatementTimeout.Duration < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("glue: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	cp := *c
	if c.Tags != nil {
		cp.Tags = make(map[string]string, len(c.Tags))
		for k, v := range c.Tags {
			cp.Tags[k] = v
		}
	}
	return &cp
}

// profileFile is the on-disk layout: named profiles plus the one to use.
type profileFile struct {
	Target  string             `yaml:"target"`
	Outputs map[string]*Config `yaml:"outputs"`
}

// LoadConfig reads profile from a YAML file such as
//
//	target: dev
//	outputs:
//	  dev:
//	    region: eu-west-1
//	    role_arn: arn:aws:iam::123456789012:role/GlueInteractiveSession
//	    workers: 3
//	    session_provisioning_timeout: 2m
//
// An empty profile selects the file's target.
func LoadConfig(fs afero.Fs, path, profile string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("glue: failed to read config %q: %w", path, err)
	}

	var pf profileFile
	if err := yaml.UnmarshalWithOptions(data, &pf, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("glue: failed to parse config %q: %w", path, err)
	}

	if profile == "" {
		profile = pf.Target
	}
	cfg, ok := pf.Outputs[profile]
	if !ok || cfg == nil {
		return nil, fmt.Errorf("glue: profile %q not found in %q", profile, path)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
