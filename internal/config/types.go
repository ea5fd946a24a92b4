package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Engine    EngineConfig    `json:"engine"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	HTTP      HTTPConfig      `json:"http,omitempty"`

	// Credentials are sent preemptively by http jobs to the matching host:port.
	Credentials []CredentialConfig `json:"credentials,omitempty"`

	Jobs []JobConfig `json:"jobs"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert posts error-level log lines to a webhook.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	URL        string `json:"url,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

// EngineConfig controls the worker pool shared by all chains.
//
// Enabled is a pointer so an omitted value defaults to true.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - late_warn: "0s" (disabled)
//   - history_size: 200
type EngineConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	LateWarn       string `json:"late_warn,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// SchedulerConfig controls expression evaluation.
type SchedulerConfig struct {
	// Timezone is an IANA name, e.g. "Asia/Jakarta". Empty means local time.
	Timezone string `json:"timezone,omitempty"`
	// Dialect for unprefixed 6-field expressions, the one field count both
	// dialects accept: "quartz" (default) or "standard".
	Dialect string `json:"dialect,omitempty"`
}

// StorageConfig controls the run history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./cronexec.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

type HTTPConfig struct {
	Timeout         string `json:"timeout,omitempty"`
	DialTimeout     string `json:"dial_timeout,omitempty"`
	MaxConnsPerHost int    `json:"max_conns_per_host,omitempty"`
}

type CredentialConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	// Password is used as-is; PasswordEnv names an environment variable
	// holding it instead. Never logged.
	Password    string `json:"password,omitempty"`
	PasswordEnv string `json:"password_env,omitempty"`
}

// Job kinds.
const (
	KindHTTP    = "http"
	KindExec    = "exec"
	KindLog     = "log"
	KindSystemd = "systemd" // systemctl start/stop/restart on a unit
)

// JobConfig is one recurring command.
type JobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Fallback string `json:"fallback,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
	Kind     string `json:"kind"`
	Disabled bool   `json:"disabled,omitempty"`

	// http
	Method       string            `json:"method,omitempty"`
	URL          string            `json:"url,omitempty"`
	Body         string            `json:"body,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	ExpectStatus []int             `json:"expect_status,omitempty"`

	// exec
	Command string   `json:"command,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`

	// log
	Message string `json:"message,omitempty"`
	Level   string `json:"level,omitempty"`

	// systemd
	Unit   string `json:"unit,omitempty"`
	Action string `json:"action,omitempty"`
}

// EngineEnabled reports engine.enabled, defaulting to true.
func (c *Config) EngineEnabled() bool {
	if c == nil || c.Engine.Enabled == nil {
		return true
	}
	return *c.Engine.Enabled
}

// ActiveJobs returns the jobs that are not disabled.
func (c *Config) ActiveJobs() []JobConfig {
	if c == nil {
		return nil
	}
	out := make([]JobConfig, 0, len(c.Jobs))
	for _, j := range c.Jobs {
		if !j.Disabled {
			out = append(out, j)
		}
	}
	return out
}
