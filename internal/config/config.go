// Package config provides centralized configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultSettingsFile is read when no --config flag is given.
const DefaultSettingsFile = "settings.json"

// Supported Trac database drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// Supported GitLab authentication modes.
const (
	AuthPrivateToken = "private-token"
	AuthOAuth        = "oauth"
)

// Config holds all configuration parameters for the application.
type Config struct {
	Trac      TracConfig
	GitLab    GitLabConfig
	Migration MigrationConfig
}

// TracConfig holds the source database and environment settings.
type TracConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string

	// EnvPath is the Trac environment directory holding attachments and,
	// for SQLite, the database file.
	EnvPath string
}

// GitLabConfig holds destination API settings.
type GitLabConfig struct {
	APIURL    string
	Token     string
	Auth      string
	ProjectID string

	RequestTimeout  time.Duration
	MaxRetryElapsed time.Duration
}

// MigrationConfig holds settings that shape the migration itself.
type MigrationConfig struct {
	UsernamesFile   string
	LabelColor      string
	StrictNumbering bool
	WikiExclude     []string
}

// LoadConfig reads the settings file at path, applies environment overrides
// and validates the result.
func LoadConfig(path string) (*Config, error) {
	config, err := ReadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// ReadConfig reads the settings file at path and applies environment
// overrides without validating. An empty path falls back to
// DefaultSettingsFile; a missing default file is not an error, so a run can
// be configured from the environment alone.
func ReadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("trac_db_driver", DriverPostgres)
	v.SetDefault("trac_db_sslmode", "disable")
	v.SetDefault("gitlab_auth", AuthPrivateToken)
	v.SetDefault("request_timeout", "30s")
	v.SetDefault("max_retry_elapsed", "1m")
	v.SetDefault("label_color", "#428BCA")
	v.SetDefault("strict_numbering", true)
	v.SetDefault("usernames_file", "usernames.txt")

	explicit := path != ""
	if !explicit {
		path = DefaultSettingsFile
	}
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("json")
	}

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &pathErr) || errors.As(err, &notFound)
		if explicit || !missing {
			return nil, fmt.Errorf("reading settings %s: %w", path, err)
		}
	}

	// Map specific environment variables
	v.BindEnv("trac_db_driver", "TRAC_DB_DRIVER")
	v.BindEnv("trac_db_host", "TRAC_DB_HOST")
	v.BindEnv("trac_db_port", "TRAC_DB_PORT")
	v.BindEnv("trac_db_name", "TRAC_DB_NAME")
	v.BindEnv("trac_db_user", "TRAC_DB_USER")
	v.BindEnv("trac_db_password", "TRAC_DB_PASSWORD")
	v.BindEnv("trac_env_path", "TRAC_ENV_PATH")
	v.BindEnv("gitlab_api_url", "GITLAB_API_URL")
	v.BindEnv("gitlab_token", "GITLAB_TOKEN")
	v.BindEnv("project_id", "GITLAB_PROJECT_ID")

	config := &Config{
		Trac: TracConfig{
			Driver:   strings.ToLower(v.GetString("trac_db_driver")),
			Host:     v.GetString("trac_db_host"),
			Port:     v.GetInt("trac_db_port"),
			Name:     v.GetString("trac_db_name"),
			User:     v.GetString("trac_db_user"),
			Password: v.GetString("trac_db_password"),
			SSLMode:  v.GetString("trac_db_sslmode"),
			EnvPath:  v.GetString("trac_env_path"),
		},
		GitLab: GitLabConfig{
			APIURL:          strings.TrimSuffix(v.GetString("gitlab_api_url"), "/"),
			Token:           v.GetString("gitlab_token"),
			Auth:            strings.ToLower(v.GetString("gitlab_auth")),
			ProjectID:       v.GetString("project_id"),
			RequestTimeout:  v.GetDuration("request_timeout"),
			MaxRetryElapsed: v.GetDuration("max_retry_elapsed"),
		},
		Migration: MigrationConfig{
			UsernamesFile:   v.GetString("usernames_file"),
			LabelColor:      v.GetString("label_color"),
			StrictNumbering: v.GetBool("strict_numbering"),
			WikiExclude:     v.GetStringSlice("wiki_exclude"),
		},
	}

	return config, nil
}

// ValidateSource checks only the Trac settings, for commands that never
// write to GitLab.
func ValidateSource(config *Config) error {
	if missingVars := missingSource(config); len(missingVars) > 0 {
		return fmt.Errorf("missing required settings: %v", missingVars)
	}
	return validateDriver(config)
}

func missingSource(config *Config) []string {
	var missingVars []string
	if config.Trac.EnvPath == "" {
		missingVars = append(missingVars, "trac_env_path")
	}
	if config.Trac.Driver != DriverSQLite && config.Trac.Name == "" {
		missingVars = append(missingVars, "trac_db_name")
	}
	return missingVars
}

func validateDriver(config *Config) error {
	switch config.Trac.Driver {
	case DriverPostgres, DriverMySQL, DriverSQLite:
		return nil
	}
	return fmt.Errorf("unsupported trac_db_driver %q", config.Trac.Driver)
}

// Validate ensures that all required configuration values are provided and
// that enumerated values are recognised. Missing keys are reported together.
func Validate(config *Config) error {
	missingVars := missingSource(config)

	if config.GitLab.APIURL == "" {
		missingVars = append(missingVars, "gitlab_api_url")
	}
	if config.GitLab.Token == "" {
		missingVars = append(missingVars, "gitlab_token")
	}
	if config.GitLab.ProjectID == "" {
		missingVars = append(missingVars, "project_id")
	}

	if len(missingVars) > 0 {
		return fmt.Errorf("missing required settings: %v", missingVars)
	}

	if err := validateDriver(config); err != nil {
		return err
	}

	switch config.GitLab.Auth {
	case AuthPrivateToken, AuthOAuth:
	default:
		return fmt.Errorf("unsupported gitlab_auth %q", config.GitLab.Auth)
	}

	if config.GitLab.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}

	return nil
}
