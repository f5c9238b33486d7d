package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/0xPuncker/periodic/internal/lock"
	"github.com/0xPuncker/periodic/internal/registry"
	"github.com/0xPuncker/periodic/internal/store"
	"github.com/0xPuncker/periodic/pkg/types"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	envStorePath         = "PERIODIC_STORE_PATH"
	envStoreFile         = "PERIODIC_STORE_FILE"
	envProcessingTimeout = "PERIODIC_PROCESSING_TIMEOUT"
	envTimezone          = "PERIODIC_TIMEZONE"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	StorePath         string `json:"storePath" yaml:"storePath"`
	StoreFile         string `json:"storeFile" yaml:"storeFile"`
	ProcessingTimeout int    `json:"processingTimeout" yaml:"processingTimeout"`
	Timezone          string `json:"timezone" yaml:"timezone"`
	ExclusiveLock     bool   `json:"exclusiveLock" yaml:"exclusiveLock"`
	RecoverCorrupt    bool   `json:"recoverCorrupt" yaml:"recoverCorrupt"`
	Jobs              Jobs   `json:"jobs" yaml:"jobs"`
}

type JobConfig struct {
	Interval string `json:"interval" yaml:"interval"`
	Task     string `json:"task" yaml:"task"`
	Action   string `json:"action" yaml:"action"`
	Pass     []any  `json:"pass" yaml:"pass"`
}

type NamedJob struct {
	Name string
	JobConfig
}

// Jobs keeps the order in which jobs appear in the config file, which is
// the order they run in.
type Jobs []NamedJob

func (j *Jobs) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*j = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("jobs must be an object keyed by job name")
	}

	var out Jobs
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := keyTok.(string)

		var jc JobConfig
		if err := dec.Decode(&jc); err != nil {
			return fmt.Errorf("job %q: %w", name, err)
		}
		out = append(out, NamedJob{Name: name, JobConfig: jc})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*j = out
	return nil
}

func (j *Jobs) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: jobs must be a mapping keyed by job name", value.Line)
	}

	out := make(Jobs, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		name := value.Content[i].Value
		var jc JobConfig
		if err := value.Content[i+1].Decode(&jc); err != nil {
			return fmt.Errorf("job %q: %w", name, err)
		}
		out = append(out, NamedJob{Name: name, JobConfig: jc})
	}
	*j = out
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		StorePath:         filepath.Join(os.TempDir(), "periodic"),
		StoreFile:         store.DefaultFile,
		ProcessingTimeout: int(lock.DefaultTimeout / time.Second),
	}
}

// Load reads the job file at configPath, JSON or YAML by extension, then
// applies .env files and PERIODIC_* overrides. An empty path yields the
// defaults with no jobs.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	cfg := DefaultConfig()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(configPath, data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles() {
	if err := godotenv.Load(); err != nil {
		_ = godotenv.Load(".env.local")
	}
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".json":
		return json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

func (c *Config) applyEnv() error {
	c.StorePath = getEnv(envStorePath, c.StorePath)
	c.StoreFile = getEnv(envStoreFile, c.StoreFile)
	c.Timezone = getEnv(envTimezone, c.Timezone)

	if v := os.Getenv(envProcessingTimeout); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number of seconds", ErrInvalidConfig, envProcessingTimeout, v)
		}
		c.ProcessingTimeout = n
	}
	return nil
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.StorePath == "" {
		c.StorePath = def.StorePath
	}
	if c.StoreFile == "" {
		c.StoreFile = def.StoreFile
	}
	if c.ProcessingTimeout == 0 {
		c.ProcessingTimeout = def.ProcessingTimeout
	}
	for i := range c.Jobs {
		if c.Jobs[i].Action == "" {
			c.Jobs[i].Action = types.DefaultAction
		}
	}
}

func (c *Config) Validate() error {
	if c.ProcessingTimeout < 0 {
		return fmt.Errorf("%w: processingTimeout must be positive, got %d", ErrInvalidConfig, c.ProcessingTimeout)
	}
	if c.StoreFile == "" || strings.ContainsRune(c.StoreFile, filepath.Separator) {
		return fmt.Errorf("%w: storeFile must be a plain file name, got %q", ErrInvalidConfig, c.StoreFile)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	seen := make(map[string]bool, len(c.Jobs))
	for _, job := range c.Jobs {
		if seen[job.Name] {
			return fmt.Errorf("%w: job %q defined twice", ErrInvalidConfig, job.Name)
		}
		seen[job.Name] = true
	}
	return nil
}

func (c *Config) StoreFilePath() string {
	return filepath.Join(c.StorePath, c.StoreFile)
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.ProcessingTimeout) * time.Second
}

// Location resolves the configured timezone; empty or "Local" means the
// host zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Registry builds the job registry in file order. Jobs the registry rejects
// are skipped and reported; the rest still run.
func (c *Config) Registry() (*registry.Registry, []error) {
	reg := registry.New()
	var errs []error
	for _, job := range c.Jobs {
		if err := reg.Connect(job.Name, job.Interval, job.Task, job.Action, job.Pass); err != nil {
			errs = append(errs, err)
		}
	}
	return reg, errs
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
