// Package config loads reportflow's YAML configuration.
//
// Values are layered: built-in defaults, then the config file, then
// environment overrides. The merged result is checked against an embedded
// CUE schema before anything uses it.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/roach88/reportflow/internal/render"
)

// Environment variables read by Load.
const (
	EnvConfig       = "REPORTFLOW_CONFIG"
	EnvSMTPPassword = "REPORTFLOW_SMTP_PASSWORD"
	EnvSMTPUsername = "REPORTFLOW_SMTP_USERNAME"
	EnvData         = "REPORTFLOW_DATA"
	EnvOutputDir    = "REPORTFLOW_OUTPUT_DIR"
)

// AppName names the XDG subdirectories.
const AppName = "reportflow"

// Config is the whole configuration.
type Config struct {
	Renderer   RendererConfig   `yaml:"renderer" json:"renderer"`
	Data       DataConfig       `yaml:"data" json:"data"`
	State      StateConfig      `yaml:"state" json:"state"`
	Mail       MailConfig       `yaml:"mail" json:"mail"`
	Validation ValidationConfig `yaml:"validation" json:"validation"`

	// Path is the file the config was read from. Empty when only defaults
	// and environment were used.
	Path string `yaml:"-" json:"-"`
}

// RendererConfig configures the external renderer.
type RendererConfig struct {
	Command string `yaml:"command" json:"command"`
	// Args are placed before the render verb, for wrapper launchers.
	Args          []string `yaml:"args" json:"args,omitempty"`
	Template      string   `yaml:"template" json:"template"`
	OutputDir     string   `yaml:"output_dir" json:"output_dir"`
	WorkDir       string   `yaml:"work_dir" json:"work_dir"`
	Timeout       Duration `yaml:"timeout" json:"timeout"`
	SingleTimeout Duration `yaml:"single_timeout" json:"single_timeout"`
	LibraryDir    string   `yaml:"library_dir" json:"library_dir"`
	LibraryEnv    string   `yaml:"library_env" json:"library_env"`
	MinVersion    string   `yaml:"min_version" json:"min_version"`
	// Probe is a dependency check command; it must print exactly "OK".
	// An empty list disables the check.
	Probe []string `yaml:"probe" json:"probe,omitempty"`
	// SetupLog is named in the hint when the probe fails.
	SetupLog string `yaml:"setup_log" json:"setup_log"`
	Debug    bool   `yaml:"debug" json:"debug"`
	Demo     bool   `yaml:"demo" json:"demo"`
}

// DataConfig locates the source dataset.
type DataConfig struct {
	Source string `yaml:"source" json:"source"`
}

// StateConfig selects the send-state backend.
type StateConfig struct {
	Backend string `yaml:"backend" json:"backend"`
	Path    string `yaml:"path" json:"path"`
}

// MailConfig configures message content and transports. An empty Subject or
// Body uses the built-in message.
type MailConfig struct {
	Subject          string       `yaml:"subject" json:"subject"`
	Body             string       `yaml:"body" json:"body"`
	TestMode         bool         `yaml:"test_mode" json:"test_mode"`
	TestAddress      string       `yaml:"test_address" json:"test_address"`
	PriorityAccounts []string     `yaml:"priority_accounts" json:"priority_accounts,omitempty"`
	Client           ClientConfig `yaml:"client" json:"client"`
	SMTP             SMTPConfig   `yaml:"smtp" json:"smtp"`
	Timeout          Duration     `yaml:"timeout" json:"timeout"`
}

// ClientConfig is the local mail client, the primary transport.
type ClientConfig struct {
	Command    string   `yaml:"command" json:"command"`
	Args       []string `yaml:"args" json:"args,omitempty"`
	ConfigPath string   `yaml:"config_path" json:"config_path"`
	Disabled   bool     `yaml:"disabled" json:"disabled"`
}

// SMTPConfig is the fallback transport. An empty Host disables it.
type SMTPConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	From     string `yaml:"from" json:"from"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// ValidationConfig controls the advisory artifact check.
type ValidationConfig struct {
	Enabled   bool    `yaml:"enabled" json:"enabled"`
	Tolerance float64 `yaml:"tolerance" json:"tolerance"`
}

// Duration is a time.Duration written either as a Go duration string
// ("90s", "5m") or as a number of seconds.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if v, err := time.ParseDuration(node.Value); err == nil {
		*d = Duration(v)
		return nil
	}
	secs, err := strconv.ParseFloat(node.Value, 64)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, node.Value)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// MarshalJSON encodes the duration in seconds, the unit the schema checks.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(time.Duration(d).Seconds(), 'f', -1, 64)), nil
}

// Defaults returns the built-in configuration. Paths live under the XDG
// data directory.
func Defaults() Config {
	home := filepath.Join(xdg.DataHome, AppName)
	return Config{
		Renderer: RendererConfig{
			Command:       "quarto",
			Template:      "ResilienceScanReport.qmd",
			OutputDir:     filepath.Join(home, "reports"),
			WorkDir:       home,
			Timeout:       Duration(300 * time.Second),
			SingleTimeout: Duration(300 * time.Second),
			LibraryEnv:    "R_LIBS",
			Probe:         render.RPackageCheck(render.DefaultRPackages...),
			SetupLog:      filepath.Join(home, "setup.log"),
		},
		State: StateConfig{
			Backend: "json",
			Path:    filepath.Join(home, "email_tracker.json"),
		},
		Mail: MailConfig{
			Client:  ClientConfig{Command: "msmtp"},
			SMTP:    SMTPConfig{Port: 587},
			Timeout: Duration(60 * time.Second),
		},
		Validation: ValidationConfig{Enabled: true, Tolerance: 0.15},
	}
}

// DefaultPath is where Load looks when neither a path nor EnvConfig is set.
// It is empty when no such file exists.
func DefaultPath() string {
	p, err := xdg.SearchConfigFile(filepath.Join(AppName, "config.yaml"))
	if err != nil {
		return ""
	}
	return p
}

// Load reads the configuration. path wins over EnvConfig, which wins over
// the XDG default location. A missing default file is not an error; a
// missing explicit file is.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		path = DefaultPath()
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Path = abs
	c.resolvePaths(filepath.Dir(abs))
	return nil
}

// resolvePaths anchors relative paths from the file at its directory.
func (c *Config) resolvePaths(base string) {
	for _, p := range []*string{
		&c.Renderer.Template,
		&c.Renderer.OutputDir,
		&c.Renderer.WorkDir,
		&c.Renderer.LibraryDir,
		&c.Renderer.SetupLog,
		&c.Data.Source,
		&c.State.Path,
		&c.Mail.Client.ConfigPath,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvSMTPPassword); v != "" {
		c.Mail.SMTP.Password = v
	}
	if v := os.Getenv(EnvSMTPUsername); v != "" {
		c.Mail.SMTP.Username = v
	}
	if v := os.Getenv(EnvData); v != "" {
		c.Data.Source = v
	}
	if v := os.Getenv(EnvOutputDir); v != "" {
		c.Renderer.OutputDir = v
	}
}
