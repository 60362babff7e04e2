package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// MailConfig holds the IMAP connection settings for the monitored mailbox.
// The account password is not stored here; it lives in the system keyring.
type MailConfig struct {
	Host            string `mapstructure:"host" yaml:"host"`
	Port            string `mapstructure:"port" yaml:"port"`
	Username        string `mapstructure:"username" yaml:"username"`
	Mailbox         string `mapstructure:"mailbox" yaml:"mailbox"`
	TLS             bool   `mapstructure:"tls" yaml:"tls"`
	PollIntervalSec int    `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// ReportConfig holds the location of the report workbook.
type ReportConfig struct {
	WorkbookPath string `mapstructure:"workbook_path" yaml:"workbook_path"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	// ConfigDir is the directory holding the four mapping documents.
	ConfigDir string `mapstructure:"config_dir" yaml:"config_dir"`

	// StatePath is the SQLite database tracking processed messages and
	// retained records.
	StatePath string `mapstructure:"state_path" yaml:"state_path"`

	Mail   MailConfig   `mapstructure:"mail" yaml:"mail"`
	Report ReportConfig `mapstructure:"report" yaml:"report"`
	Debug  bool         `mapstructure:"debug" yaml:"debug"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/incident-reporter/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "incident-reporter", "config.yaml")
}

// defaultAppConfig returns a sensible default configuration rooted in the
// directory holding the config file.
func defaultAppConfig() *AppConfig {
	base := filepath.Dir(DefaultConfigPath())
	return &AppConfig{
		ConfigDir: filepath.Join(base, "tables"),
		StatePath: filepath.Join(base, "state.db"),
		Mail: MailConfig{
			Port:            "993",
			Mailbox:         "INBOX",
			TLS:             true,
			PollIntervalSec: 60,
		},
		Report: ReportConfig{
			WorkbookPath: filepath.Join(base, "report.xlsx"),
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	def := defaultAppConfig()
	v.SetDefault("config_dir", def.ConfigDir)
	v.SetDefault("state_path", def.StatePath)
	v.SetDefault("mail.port", def.Mail.Port)
	v.SetDefault("mail.mailbox", def.Mail.Mailbox)
	v.SetDefault("mail.tls", def.Mail.TLS)
	v.SetDefault("mail.poll_interval_sec", def.Mail.PollIntervalSec)
	v.SetDefault("report.workbook_path", def.Report.WorkbookPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return def, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return def, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Mail.PollIntervalSec <= 0 {
		cfg.Mail.PollIntervalSec = 60
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("config_dir", cfg.ConfigDir)
	v.Set("state_path", cfg.StatePath)
	v.Set("mail", cfg.Mail)
	v.Set("report", cfg.Report)
	v.Set("debug", cfg.Debug)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
