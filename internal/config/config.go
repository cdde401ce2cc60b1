package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"taskline/internal/engine/auth"
	"taskline/internal/logging"
	"taskline/internal/notify"
)

// FileName is the workspace config file.
const FileName = "taskline.yml"

// Config models taskline.yml.
type Config struct {
	Server struct {
		Addr                   string `yaml:"addr"`
		BasePath               string `yaml:"base_path"`
		PublicURL              string `yaml:"public_url"`
		AllowDevLogin          bool   `yaml:"allow_dev_login"`
		TokenTTLMinutes        int    `yaml:"token_ttl_minutes"`
		ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
	} `yaml:"server"`
	Storage struct {
		Driver string      `yaml:"driver"`
		Mongo  MongoConfig `yaml:"mongo"`
	} `yaml:"storage"`
	Access struct {
		ProjectTeamVisibility bool `yaml:"project_team_visibility"`
		ConcealHiddenTasks    bool `yaml:"conceal_hidden_tasks"`
	} `yaml:"access"`
	Pagination struct {
		DefaultLimit int `yaml:"default_limit"`
		MaxLimit     int `yaml:"max_limit"`
	} `yaml:"pagination"`
	Consistency struct {
		RepairIntervalSeconds    int `yaml:"repair_interval_seconds"`
		FullSweepIntervalSeconds int `yaml:"full_sweep_interval_seconds"`
	} `yaml:"consistency"`
	Notifications struct {
		QueueSize int       `yaml:"queue_size"`
		SMTP      SMTP      `yaml:"smtp"`
		Webhooks  []Webhook `yaml:"webhooks"`
	} `yaml:"notifications"`
	Blob    Blob           `yaml:"blob"`
	Logging logging.Config `yaml:"logging"`
	Seed    struct {
		AdminEmail string              `yaml:"admin_email"`
		AdminName  string              `yaml:"admin_name"`
		Roles      map[string][]string `yaml:"roles"`
	} `yaml:"seed"`
}

type MongoConfig struct {
	URI            string `yaml:"uri"`
	Database       string `yaml:"database"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type SMTP struct {
	Enabled               bool   `yaml:"enabled"`
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	Username              string `yaml:"username"`
	Password              string `yaml:"password"`
	From                  string `yaml:"from"`
	BreakerFailures       uint32 `yaml:"breaker_failures"`
	BreakerTimeoutSeconds int    `yaml:"breaker_timeout_seconds"`
}

type Webhook struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// IsEnabled defaults to true when the flag is omitted.
func (w Webhook) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

type Blob struct {
	Driver   string `yaml:"driver"`
	Dir      string `yaml:"dir"`
	Bucket   string `yaml:"bucket"`
	BaseURL  string `yaml:"base_url"`
	MaxBytes int64  `yaml:"max_bytes"`
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (c *Config) RepairInterval() time.Duration { return seconds(c.Consistency.RepairIntervalSeconds) }

func (c *Config) FullSweepInterval() time.Duration {
	return seconds(c.Consistency.FullSweepIntervalSeconds)
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Server.TokenTTLMinutes) * time.Minute
}

func (c *Config) ShutdownTimeout() time.Duration {
	return seconds(c.Server.ShutdownTimeoutSeconds)
}

var knownEvents = map[string]bool{
	notify.TaskUpdated:    true,
	notify.TaskAssigned:   true,
	notify.ProjectUpdated: true,
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
	case "mongo":
		if c.Storage.Mongo.URI == "" {
			return fmt.Errorf("config.storage.mongo.uri is required for driver mongo")
		}
		if c.Storage.Mongo.Database == "" {
			return fmt.Errorf("config.storage.mongo.database is required for driver mongo")
		}
	default:
		return fmt.Errorf("config.storage.driver must be sqlite or mongo, got %q", c.Storage.Driver)
	}
	if c.Pagination.DefaultLimit < 1 || c.Pagination.MaxLimit < c.Pagination.DefaultLimit {
		return fmt.Errorf("config.pagination requires 1 <= default_limit <= max_limit")
	}
	if c.Consistency.RepairIntervalSeconds < 0 || c.Consistency.FullSweepIntervalSeconds < 0 {
		return fmt.Errorf("config.consistency intervals must not be negative")
	}
	switch c.Blob.Driver {
	case "fs":
		if c.Blob.Dir == "" {
			return fmt.Errorf("config.blob.dir is required for driver fs")
		}
	case "gridfs":
		if c.Storage.Driver != "mongo" {
			return fmt.Errorf("config.blob.driver gridfs requires storage.driver mongo")
		}
	default:
		return fmt.Errorf("config.blob.driver must be fs or gridfs, got %q", c.Blob.Driver)
	}
	if c.Blob.MaxBytes < 0 {
		return fmt.Errorf("config.blob.max_bytes must not be negative")
	}
	if smtp := c.Notifications.SMTP; smtp.Enabled {
		if smtp.Host == "" || smtp.From == "" {
			return fmt.Errorf("config.notifications.smtp requires host and from when enabled")
		}
		if smtp.Port <= 0 {
			return fmt.Errorf("config.notifications.smtp.port must be positive")
		}
	}
	for i, hook := range c.Notifications.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notifications.webhooks[%d].url is required", i)
		}
		for _, ev := range hook.Events {
			if !knownEvents[ev] {
				return fmt.Errorf("config.notifications.webhooks[%d] references unknown event %s", i, ev)
			}
		}
	}
	for name, perms := range c.Seed.Roles {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("config.seed.roles contains empty role name")
		}
		if auth.IsSuperAdminName(name) {
			return fmt.Errorf("config.seed.roles must not redefine %s", auth.SuperAdminRole)
		}
		for _, perm := range perms {
			if !auth.Known(perm) {
				return fmt.Errorf("role %s has unknown permission %q", name, perm)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault falls back to Default when the workspace has no config file.
func LoadOrDefault(workspace string) (*Config, error) {
	cfg, err := FromFile(Path(workspace))
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML overlays raw YAML on the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: ""
  public_url: http://127.0.0.1:8080
  allow_dev_login: false
  token_ttl_minutes: 720
  shutdown_timeout_seconds: 10

storage:
  driver: sqlite
  mongo:
    uri: ""
    database: taskline
    timeout_seconds: 10

access:
  # grant viewer-only actors the tasks of projects whose team they belong to
  project_team_visibility: false
  # answer "not found" instead of "not visible" for tasks the caller cannot see
  conceal_hidden_tasks: false

pagination:
  default_limit: 10
  max_limit: 100

consistency:
  repair_interval_seconds: 15
  full_sweep_interval_seconds: 3600

notifications:
  queue_size: 256
  smtp:
    enabled: false
    host: localhost
    port: 25
    from: taskline@localhost
    breaker_failures: 3
    breaker_timeout_seconds: 30
  webhooks: []

blob:
  driver: fs
  dir: .taskline/media
  bucket: media
  base_url: /media
  max_bytes: 26214400

logging:
  level: info
  file: ""
  max_size_mb: 50
  max_backups: 3
  max_age_days: 28

seed:
  admin_email: admin@taskline.local
  admin_name: Administrator
  roles:
    Manager:
      - Create Project
      - Edit Project
      - Delete Project
      - View Project
      - Create Task
      - Edit Task
      - Delete Task
      - View Task
    Member:
      - View Task
`
