package config

import (
	crand "crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/demand.sensitivity/internal/sensitivity"
)

// Defaults applied by the Get* accessors.
const (
	DefaultTrials  = 20
	DefaultStore   = StoreCSV
	DefaultTimeout = 2 * time.Hour
	DefaultDBName  = "sensitivity.db"
)

// Record store kinds.
const (
	StoreCSV      = "csv"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// SensitivityConfig is the configuration of a sensitivity run. Unset fields
// fall back to the defaults returned by the Get* methods, so partial files
// are safe.
type SensitivityConfig struct {
	Trials    *int     `json:"trials,omitempty" yaml:"trials,omitempty"`
	Seed      *uint64  `json:"seed,omitempty" yaml:"seed,omitempty"`
	Project   *string  `json:"project,omitempty" yaml:"project,omitempty"`
	Buildings []string `json:"buildings,omitempty" yaml:"buildings,omitempty"`

	// Record storage
	Store       *string `json:"store,omitempty" yaml:"store,omitempty"`
	RecordsDir  *string `json:"records_dir,omitempty" yaml:"records_dir,omitempty"`
	DBPath      *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	PostgresDSN *string `json:"postgres_dsn,omitempty" yaml:"postgres_dsn,omitempty"`

	// Simulation
	Commands     [][]string `json:"commands,omitempty" yaml:"commands,omitempty"`
	ReportPath   *string    `json:"report_path,omitempty" yaml:"report_path,omitempty"`
	MetricColumn *string    `json:"metric_column,omitempty" yaml:"metric_column,omitempty"`
	Timeout      *string    `json:"timeout,omitempty" yaml:"timeout,omitempty"` // duration string like "90m"

	// Parameters. An empty list means the default distribution table.
	Params   []sensitivity.ParamDecl `json:"params,omitempty" yaml:"params,omitempty"`
	HeightBG *float64                `json:"height_bg,omitempty" yaml:"height_bg,omitempty"`
	FloorsBG *float64                `json:"floors_bg,omitempty" yaml:"floors_bg,omitempty"`

	// Output
	OutputDir        *string `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
	PerBuilding      *bool   `json:"per_building,omitempty" yaml:"per_building,omitempty"`
	PartialOnFailure *bool   `json:"partial_on_failure,omitempty" yaml:"partial_on_failure,omitempty"`
	Charts           *bool   `json:"charts,omitempty" yaml:"charts,omitempty"`

	// Publication and telemetry (optional)
	S3Bucket        *string `json:"s3_bucket,omitempty" yaml:"s3_bucket,omitempty"`
	S3Prefix        *string `json:"s3_prefix,omitempty" yaml:"s3_prefix,omitempty"`
	S3Region        *string `json:"s3_region,omitempty" yaml:"s3_region,omitempty"`
	S3Endpoint      *string `json:"s3_endpoint,omitempty" yaml:"s3_endpoint,omitempty"`
	MetricsTextfile *string `json:"metrics_textfile,omitempty" yaml:"metrics_textfile,omitempty"`
	OTelEndpoint    *string `json:"otel_endpoint,omitempty" yaml:"otel_endpoint,omitempty"`
}

// envOverrides holds the SENSITIVITY_* variables. Only variables that are
// set override the file.
type envOverrides struct {
	Trials          *int     `env:"SENSITIVITY_TRIALS"`
	Seed            *uint64  `env:"SENSITIVITY_SEED"`
	Project         *string  `env:"SENSITIVITY_PROJECT"`
	Buildings       []string `env:"SENSITIVITY_SUBSET" envSeparator:","`
	Store           *string  `env:"SENSITIVITY_STORE"`
	RecordsDir      *string  `env:"SENSITIVITY_RECORDS_DIR"`
	DBPath          *string  `env:"SENSITIVITY_DB_PATH"`
	PostgresDSN     *string  `env:"SENSITIVITY_POSTGRES_DSN"`
	ReportPath      *string  `env:"SENSITIVITY_REPORT_PATH"`
	Timeout         *string  `env:"SENSITIVITY_TIMEOUT"`
	OutputDir       *string  `env:"SENSITIVITY_OUTPUT_DIR"`
	S3Bucket        *string  `env:"SENSITIVITY_S3_BUCKET"`
	S3Prefix        *string  `env:"SENSITIVITY_S3_PREFIX"`
	S3Region        *string  `env:"SENSITIVITY_S3_REGION"`
	S3Endpoint      *string  `env:"SENSITIVITY_S3_ENDPOINT"`
	MetricsTextfile *string  `env:"SENSITIVITY_METRICS_TEXTFILE"`
	OTelEndpoint    *string  `env:"SENSITIVITY_OTEL_ENDPOINT"`
}

// Load reads a .json, .yaml or .yml configuration file and validates it.
func Load(path string) (*SensitivityConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &SensitivityConfig{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays SENSITIVITY_* environment variables onto c.
func (c *SensitivityConfig) ApplyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	set := func(dst **string, v *string) {
		if v != nil {
			*dst = v
		}
	}
	if o.Trials != nil {
		c.Trials = o.Trials
	}
	if o.Seed != nil {
		c.Seed = o.Seed
	}
	if len(o.Buildings) > 0 {
		c.Buildings = o.Buildings
	}
	set(&c.Project, o.Project)
	set(&c.Store, o.Store)
	set(&c.RecordsDir, o.RecordsDir)
	set(&c.DBPath, o.DBPath)
	set(&c.PostgresDSN, o.PostgresDSN)
	set(&c.ReportPath, o.ReportPath)
	set(&c.Timeout, o.Timeout)
	set(&c.OutputDir, o.OutputDir)
	set(&c.S3Bucket, o.S3Bucket)
	set(&c.S3Prefix, o.S3Prefix)
	set(&c.S3Region, o.S3Region)
	set(&c.S3Endpoint, o.S3Endpoint)
	set(&c.MetricsTextfile, o.MetricsTextfile)
	set(&c.OTelEndpoint, o.OTelEndpoint)
	return nil
}

// Validate checks the values that are set.
func (c *SensitivityConfig) Validate() error {
	if c.Trials != nil && *c.Trials < 1 {
		return fmt.Errorf("trials must be at least 1, got %d", *c.Trials)
	}
	seen := make(map[string]bool, len(c.Buildings))
	for _, b := range c.Buildings {
		if strings.TrimSpace(b) == "" {
			return fmt.Errorf("buildings contains an empty name")
		}
		if seen[b] {
			return fmt.Errorf("building %s listed twice", b)
		}
		seen[b] = true
	}
	switch c.GetStore() {
	case StoreCSV, StoreSQLite:
	case StorePostgres:
		if c.PostgresDSN == nil || *c.PostgresDSN == "" {
			return fmt.Errorf("store %q requires postgres_dsn", StorePostgres)
		}
	default:
		return fmt.Errorf("unknown store %q (want csv, sqlite or postgres)", c.GetStore())
	}
	for i, argv := range c.Commands {
		if len(argv) == 0 {
			return fmt.Errorf("commands[%d] is empty", i)
		}
	}
	if c.Timeout != nil && *c.Timeout != "" {
		d, err := time.ParseDuration(*c.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout '%s': %w", *c.Timeout, err)
		}
		if d < 0 {
			return fmt.Errorf("timeout must be non-negative, got %s", d)
		}
	}
	if _, err := c.DistributionTable(); err != nil {
		return err
	}
	if c.S3Bucket == nil && (c.S3Prefix != nil || c.S3Endpoint != nil) {
		return fmt.Errorf("s3_prefix and s3_endpoint require s3_bucket")
	}
	return nil
}

// GetTrials returns the trial count or the default.
func (c *SensitivityConfig) GetTrials() int {
	if c.Trials == nil {
		return DefaultTrials
	}
	return *c.Trials
}

// ResolveSeed returns the configured seed, or draws a fresh one from
// crypto/rand. The drawn seed is stored so later calls agree.
func (c *SensitivityConfig) ResolveSeed() (uint64, error) {
	if c.Seed != nil {
		return *c.Seed, nil
	}
	seed, err := NewSeed()
	if err != nil {
		return 0, err
	}
	c.Seed = &seed
	return seed, nil
}

// NewSeed generates a random run seed using crypto/rand.
func NewSeed() (uint64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// GetProject returns the project root, defaulting to the working directory.
func (c *SensitivityConfig) GetProject() string {
	if c.Project == nil || *c.Project == "" {
		return "."
	}
	return *c.Project
}

// GetStore returns the record store kind.
func (c *SensitivityConfig) GetStore() string {
	if c.Store == nil || *c.Store == "" {
		return DefaultStore
	}
	return strings.ToLower(*c.Store)
}

// GetRecordsDir returns the directory holding the building record files.
func (c *SensitivityConfig) GetRecordsDir() string {
	if c.RecordsDir == nil || *c.RecordsDir == "" {
		return filepath.Join(c.GetProject(), "inputs", "building-properties")
	}
	return *c.RecordsDir
}

// GetOutputDir returns where result tables are written.
func (c *SensitivityConfig) GetOutputDir() string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return sensitivity.DefaultOutputDir(c.GetProject())
	}
	return *c.OutputDir
}

// GetDBPath returns the sqlite database holding the run ledger and, for the
// sqlite store, the building records.
func (c *SensitivityConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return filepath.Join(c.GetOutputDir(), DefaultDBName)
	}
	return *c.DBPath
}

// GetPostgresDSN returns the postgres connection string, if any.
func (c *SensitivityConfig) GetPostgresDSN() string {
	if c.PostgresDSN == nil {
		return ""
	}
	return *c.PostgresDSN
}

// GetReportPath returns the demand report the simulation writes.
func (c *SensitivityConfig) GetReportPath() string {
	if c.ReportPath == nil || *c.ReportPath == "" {
		return filepath.Join(c.GetProject(), "outputs", "data", "demand", "Total_demand.csv")
	}
	return *c.ReportPath
}

// GetMetricColumn returns the report column summed across buildings.
func (c *SensitivityConfig) GetMetricColumn() string {
	if c.MetricColumn == nil || *c.MetricColumn == "" {
		return sensitivity.DefaultMetricColumn
	}
	return *c.MetricColumn
}

// GetTimeout parses and returns the per-trial simulation timeout.
func (c *SensitivityConfig) GetTimeout() time.Duration {
	if c.Timeout == nil || *c.Timeout == "" {
		return DefaultTimeout
	}
	d, err := time.ParseDuration(*c.Timeout)
	if err != nil {
		return DefaultTimeout // default on parse error
	}
	return d
}

// DistributionTable builds the parameter table: the declared params (or the
// default table) followed by the geometry overrides when either is set.
func (c *SensitivityConfig) DistributionTable() (sensitivity.DistributionTable, error) {
	var table sensitivity.DistributionTable
	if len(c.Params) == 0 {
		table = sensitivity.DefaultDistributionTable()
	} else {
		t, err := sensitivity.TableFromDecls(c.Params)
		if err != nil {
			return nil, err
		}
		table = t
	}
	// Only configured overrides are written; an unset one keeps each
	// building's stored value.
	if c.HeightBG != nil {
		table = append(table, sensitivity.HeightBG(*c.HeightBG))
	}
	if c.FloorsBG != nil {
		table = append(table, sensitivity.FloorsBG(*c.FloorsBG))
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// GetPerBuilding reports whether per-building metric columns are written.
func (c *SensitivityConfig) GetPerBuilding() bool {
	return c.PerBuilding != nil && *c.PerBuilding
}

// GetPartialOnFailure reports whether completed trials are written when a
// run fails.
func (c *SensitivityConfig) GetPartialOnFailure() bool {
	return c.PartialOnFailure != nil && *c.PartialOnFailure
}

// GetCharts reports whether charts and plots are rendered after a run.
func (c *SensitivityConfig) GetCharts() bool {
	return c.Charts != nil && *c.Charts
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// S3 returns the publication target. Bucket is empty when publication is off.
func (c *SensitivityConfig) S3() (bucket, prefix, region, endpoint string) {
	return deref(c.S3Bucket), deref(c.S3Prefix), deref(c.S3Region), deref(c.S3Endpoint)
}

// GetMetricsTextfile returns the Prometheus textfile path, or "".
func (c *SensitivityConfig) GetMetricsTextfile() string { return deref(c.MetricsTextfile) }

// GetOTelEndpoint returns the OTLP/HTTP endpoint, or "".
func (c *SensitivityConfig) GetOTelEndpoint() string { return deref(c.OTelEndpoint) }
