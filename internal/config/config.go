package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by the flatstore binaries.
type Config struct {
	// ServerAddress is the gRPC address the daemon listens on and clients dial.
	ServerAddress string `yaml:"server_addr"`
	// RepositoryURL is the base URL descriptors are downloaded from.
	RepositoryURL string `yaml:"repository_url"`
	// DescriptorExtension is appended to the package identifier to form the descriptor name.
	DescriptorExtension string `yaml:"descriptor_extension"`
	// Installer is the package-management executable to spawn.
	Installer string `yaml:"installer"`
	// InstallArgs precede the descriptor path on the installer command line.
	InstallArgs []string `yaml:"install_args"`
	// UpdateArgs precede the package identifier when updating.
	UpdateArgs []string `yaml:"update_args"`
	// InstallerEnv are extra KEY=VALUE variables added to the installer environment.
	InstallerEnv []string `yaml:"installer_env"`
	// TempDir is where descriptors are written. Empty means the system temp dir.
	TempDir string `yaml:"temp_dir"`
	// Timeout bounds descriptor downloads and client RPC calls.
	Timeout time.Duration `yaml:"timeout"`
	// KillGrace is how long a cancelled installer gets between SIGTERM and SIGKILL.
	KillGrace time.Duration `yaml:"kill_grace"`
	// UsePTY attaches the installer to a pseudo-terminal instead of pipes.
	UsePTY bool `yaml:"use_pty"`
	// StrictExitCode turns a non-zero installer exit code into a command failure.
	StrictExitCode bool `yaml:"strict_exit_code"`
	// Locale selects the language of user-facing messages ("es" or "en").
	Locale string `yaml:"locale"`
	// LogLevel is the minimum level for log output.
	LogLevel string `yaml:"log_level"`
	// JournalFile is the YAML file keeping the last outcome per package.
	JournalFile string `yaml:"journal_file"`
	// ReplaySize is how many recent notifications a new watcher may ask to replay.
	ReplaySize int `yaml:"replay_size"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "flatstore-settings.yaml"

	// DefaultServerAddress is used when no server address is configured.
	DefaultServerAddress = "127.0.0.1:50061"

	// DefaultRepositoryURL is the Flathub appstream folder hosting flatpakref files.
	DefaultRepositoryURL = "https://dl.flathub.org/repo/appstream"

	// DefaultDescriptorExtension is the extension of Flatpak reference files.
	DefaultDescriptorExtension = "flatpakref"

	// DefaultInstaller is the package-management executable.
	DefaultInstaller = "flatpak"

	// DefaultJournalFilename is the default filename for the installation journal.
	DefaultJournalFilename = "flatstore-journal.yaml"

	// DefaultLocale is the language of user-facing messages.
	DefaultLocale = "es"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 30 * time.Second

	// DefaultKillGrace is the default delay between SIGTERM and SIGKILL on cancellation.
	DefaultKillGrace = 5 * time.Second

	// DefaultReplaySize is the default number of notifications kept for replay.
	DefaultReplaySize = 64

	// DefaultFilePermissions is the default file permission for files we write.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errUnsupportedLocale is returned for locales without a message catalog.
	errUnsupportedLocale = errors.New("unsupported locale")
	// errBadExtension is returned when the descriptor extension contains separators.
	errBadExtension = errors.New("descriptor extension must be a plain suffix")
	// errNegativeDuration is returned for negative timeouts.
	errNegativeDuration = errors.New("duration must not be negative")
	// errNegativeReplaySize is returned for a negative replay size.
	errNegativeReplaySize = errors.New("replay size must not be negative")
	// errBadEnvironment is returned for installer variables not in KEY=VALUE form.
	errBadEnvironment = errors.New("installer variable must be KEY=VALUE")
)

// DefaultInstallArgs returns the arguments used to install from a descriptor.
func DefaultInstallArgs() []string {
	return []string{"install", "-y", "--user"}
}

// DefaultUpdateArgs returns the arguments used to update an installed package.
func DefaultUpdateArgs() []string {
	return []string{"update", "-y", "--user"}
}

// Default returns a configuration with every field set to its default.
func Default() *Config {
	cfg := new(Config)

	// Defaults never fail validation.
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from the provided path and validates it.
// A missing file at the default path yields the defaults.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for formatting errors and fills defaults.
//
//nolint:cyclop // A flat list of field checks reads better than helpers.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.ServerAddress == "" {
		settings.ServerAddress = DefaultServerAddress
	}

	if _, _, err := net.SplitHostPort(settings.ServerAddress); err != nil {
		return fmt.Errorf("invalid server address: %w", err)
	}

	if settings.RepositoryURL == "" {
		settings.RepositoryURL = DefaultRepositoryURL
	}

	if _, err := url.ParseRequestURI(settings.RepositoryURL); err != nil {
		return fmt.Errorf("invalid repository URL: %w", err)
	}

	settings.DescriptorExtension = strings.TrimPrefix(settings.DescriptorExtension, ".")
	if settings.DescriptorExtension == "" {
		settings.DescriptorExtension = DefaultDescriptorExtension
	}

	if strings.ContainsAny(settings.DescriptorExtension, `/\`) {
		return fmt.Errorf("%q: %w", settings.DescriptorExtension, errBadExtension)
	}

	if settings.Installer == "" {
		settings.Installer = DefaultInstaller
	}

	if len(settings.InstallArgs) == 0 {
		settings.InstallArgs = DefaultInstallArgs()
	}

	if len(settings.UpdateArgs) == 0 {
		settings.UpdateArgs = DefaultUpdateArgs()
	}

	for _, variable := range settings.InstallerEnv {
		if name, _, ok := strings.Cut(variable, "="); !ok || name == "" {
			return fmt.Errorf("%q: %w", variable, errBadEnvironment)
		}
	}

	if settings.TempDir == "" {
		settings.TempDir = os.TempDir()
	}

	if settings.Timeout < 0 || settings.KillGrace < 0 {
		return errNegativeDuration
	}

	// Set default timeout if not specified
	if settings.Timeout == 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.KillGrace == 0 {
		settings.KillGrace = DefaultKillGrace
	}

	settings.Locale = strings.ToLower(strings.TrimSpace(settings.Locale))
	switch settings.Locale {
	case "":
		settings.Locale = DefaultLocale
	case "es", "en":
	default:
		return fmt.Errorf("%q: %w", settings.Locale, errUnsupportedLocale)
	}

	if settings.JournalFile == "" {
		settings.JournalFile = DefaultJournalFilename
	}

	switch {
	case settings.ReplaySize < 0:
		return errNegativeReplaySize
	case settings.ReplaySize == 0:
		settings.ReplaySize = DefaultReplaySize
	}

	return nil
}
