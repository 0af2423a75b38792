package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	WindowDays int       `yaml:"window_days"`
	Output     Output    `yaml:"output"`
	Garmin     Garmin    `yaml:"garmin"`
	Narrative  Narrative `yaml:"narrative"`
	Chart      Chart     `yaml:"chart"`
	Mail       Mail      `yaml:"mail"`
	Server     Server    `yaml:"server"`
	Logging    Logging   `yaml:"logging"`

	// Secrets come from the environment (or a .env file), never from YAML.
	Secrets Secrets `yaml:"-"`
}

type Output struct {
	Dir        string `yaml:"dir"`
	ReportName string `yaml:"report_name"`
	Template   string `yaml:"template"`
}

type Garmin struct {
	BaseURL         string        `yaml:"base_url"`
	TokenDir        string        `yaml:"token_dir"`
	TokenBase64File string        `yaml:"token_base64_file"`
	Timeout         time.Duration `yaml:"timeout"`

	// OAuth1 consumer used to renew expired tokens. When ConsumerKey is
	// empty the pair is downloaded from ConsumerURL.
	ConsumerURL    string `yaml:"consumer_url"`
	ConsumerKey    string `yaml:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret"`
}

type Narrative struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	OllamaURL   string  `yaml:"ollama_url"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
	Format      string  `yaml:"format"`
}

type Chart struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type Mail struct {
	Enabled  bool   `yaml:"enabled"`
	Subject  string `yaml:"subject"`
	SMTPPort int    `yaml:"smtp_port"`
	UseTLS   bool   `yaml:"use_tls"`
	UseSSL   bool   `yaml:"use_ssl"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Secrets holds credentials and addresses taken from the process environment.
type Secrets struct {
	GarminTokens       string   `env:"GARMINTOKENS"`
	GarminTokensBase64 string   `env:"GARMINTOKENS_BASE64"`
	OpenAIAPIKey       string   `env:"OPENAI_API_KEY"`
	SMTPServer         string   `env:"SMTP_SERVER"`
	SMTPUser           string   `env:"SMTP_USER"`
	SMTPPassword       string   `env:"SMTP_PASSWORD"`
	FromAddress        string   `env:"FROM_ADDRESS"`
	To                 []string `env:"SMTP_TO" envSeparator:","`
}

// ConfigDir returns the XDG config directory for energyreport.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "energyreport")
}

// DataDir returns the XDG data directory for energyreport.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "energyreport")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/energyreport/config.yaml > ./config.yaml.
// An empty path with a nil error means no file exists and defaults apply.
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", nil
}

// Load reads and parses a config YAML file, then overlays secrets from a
// .env file in the working directory and the process environment.
// An empty path yields the built-in defaults.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := cfg.loadSecrets(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		WindowDays: 30,
		Output: Output{
			ReportName: "energy_report.html",
		},
		Garmin: Garmin{
			BaseURL:         "https://connectapi.garmin.com",
			TokenDir:        "~/.garminconnect",
			TokenBase64File: "~/.garminconnect_base64",
			Timeout:         30 * time.Second,
			ConsumerURL:     "https://thegarth.s3.amazonaws.com/oauth_consumer.json",
		},
		Narrative: Narrative{
			Provider:    "openai",
			Model:       "gpt-4",
			OllamaURL:   "http://localhost:11434",
			MaxTokens:   1200,
			Temperature: 0.7,
			Format:      "markers",
		},
		Chart: Chart{Width: 1000, Height: 600},
		Mail: Mail{
			Enabled:  true,
			Subject:  "Energy Report",
			SMTPPort: 587,
			UseTLS:   true,
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "info", Format: "console"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// loadSecrets overlays environment secrets. GARMINTOKENS and
// GARMINTOKENS_BASE64 also override the token locations from YAML.
func (c *Config) loadSecrets() error {
	if err := env.Parse(&c.Secrets); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	to := c.Secrets.To[:0]
	for _, addr := range c.Secrets.To {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	c.Secrets.To = to
	if c.Secrets.GarminTokens != "" {
		c.Garmin.TokenDir = c.Secrets.GarminTokens
	}
	if c.Secrets.GarminTokensBase64 != "" {
		c.Garmin.TokenBase64File = c.Secrets.GarminTokensBase64
	}
	return nil
}

// Validate reports every problem that would make a run fail. Mail settings
// are only checked when sendMail is true.
func (c *Config) Validate(sendMail bool) error {
	var result *multierror.Error

	if c.WindowDays < 1 {
		result = multierror.Append(result, fmt.Errorf("window_days must be at least 1, got %d", c.WindowDays))
	}
	switch strings.ToLower(c.Narrative.Provider) {
	case "openai":
		if c.Secrets.OpenAIAPIKey == "" {
			result = multierror.Append(result, errors.New("OPENAI_API_KEY is not set"))
		}
	case "ollama":
	default:
		result = multierror.Append(result, fmt.Errorf("unknown narrative provider %q", c.Narrative.Provider))
	}
	switch c.Narrative.Format {
	case "markers", "markdown":
	default:
		result = multierror.Append(result, fmt.Errorf("unknown narrative format %q", c.Narrative.Format))
	}
	if c.Garmin.TokenDir == "" && c.Garmin.TokenBase64File == "" {
		result = multierror.Append(result, errors.New("no Garmin token store configured"))
	}

	if sendMail {
		if c.Secrets.SMTPServer == "" {
			result = multierror.Append(result, errors.New("SMTP_SERVER is not set"))
		}
		if c.Secrets.FromAddress == "" {
			result = multierror.Append(result, errors.New("FROM_ADDRESS is not set"))
		}
		if len(c.Secrets.To) == 0 {
			result = multierror.Append(result, errors.New("SMTP_TO is not set"))
		}
	}

	return result.ErrorOrNil()
}

// GetOutputDir returns the effective output directory from config or XDG default.
func (c *Config) GetOutputDir() string {
	if c.Output.Dir != "" {
		return ExpandHome(c.Output.Dir)
	}
	return DataDir()
}

// ReportPath returns the path of the HTML report inside the output directory.
func (c *Config) ReportPath() string {
	return filepath.Join(c.GetOutputDir(), c.Output.ReportName)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
