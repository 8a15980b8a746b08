// Package config resolves courtbook's configuration from defaults, JSONC
// config files, the environment and command line overrides.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/tailscale/hujson"

	"github.com/calvinalkan/courtbook/internal/store"
	"github.com/calvinalkan/courtbook/pkg/fs"
)

// Errors returned by [Load].
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config")
	ErrDataDirEmpty       = errors.New("data-dir cannot be empty")
)

// FileName is the project config file looked up in the work directory.
const FileName = ".courtbook.json"

// EnvPrefix prefixes environment overrides (COURTBOOK_DATA_DIR). The
// unprefixed name (DATA_DIR) is accepted as a fallback.
const EnvPrefix = "courtbook"

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config holds all configuration options.
type Config struct {
	DataDir            string
	LockTimeout        time.Duration
	LockStaleAfter     time.Duration
	LockRetryInitial   time.Duration
	LockRetryMax       time.Duration
	LockCheckHolder    bool
	MemberNumberPrefix string
	LogLevel           string
	LogFormat          string

	// Resolved, not read from files.
	EffectiveCwd string // absolute working directory (-C flag or os.Getwd)
	DataDirAbs   string // absolute data directory

	// Sources tracks where values came from, for print-config.
	Sources Sources
}

// Sources tracks which config layers contributed.
type Sources struct {
	Global  string   // global config path if loaded
	Project string   // project or explicit config path if loaded
	Env     []string // config keys set from the environment
}

// Default returns the configuration used when nothing is configured.
func Default() Config {
	lock := fs.DefaultLockOptions()

	return Config{
		DataDir:            store.DefaultDataDir,
		LockTimeout:        lock.Timeout,
		LockStaleAfter:     lock.StaleAfter,
		LockRetryInitial:   lock.RetryInitial,
		LockRetryMax:       lock.RetryMax,
		MemberNumberPrefix: store.DefaultMemberNumberPrefix,
		LogLevel:           "info",
		LogFormat:          LogFormatText,
	}
}

// LockOptions returns the lock settings as [fs.LockOptions].
func (c Config) LockOptions() fs.LockOptions {
	return fs.LockOptions{
		Timeout:          c.LockTimeout,
		StaleAfter:       c.LockStaleAfter,
		RetryInitial:     c.LockRetryInitial,
		RetryMax:         c.LockRetryMax,
		CheckHolderAlive: c.LockCheckHolder,
	}
}

// SlogLevel returns LogLevel as a slog level. Load has validated it.
func (c Config) SlogLevel() slog.Level {
	var level slog.Level

	_ = level.UnmarshalText([]byte(c.LogLevel))

	return level
}

// Format renders the config as key=value lines using the file key names.
func (c Config) Format() string {
	lines := []string{
		"effective_cwd=" + c.EffectiveCwd,
		"data_dir=" + c.DataDirAbs,
		"lock_timeout=" + c.LockTimeout.String(),
		"lock_stale_after=" + c.LockStaleAfter.String(),
		"lock_retry_initial=" + c.LockRetryInitial.String(),
		"lock_retry_max=" + c.LockRetryMax.String(),
		"lock_check_holder=" + strconv.FormatBool(c.LockCheckHolder),
		"member_number_prefix=" + c.MemberNumberPrefix,
		"log_level=" + c.LogLevel,
		"log_format=" + c.LogFormat,
	}

	return strings.Join(lines, "\n")
}

// fileConfig is the on-disk shape. Nil fields are not set by that file.
type fileConfig struct {
	DataDir            *string `json:"data_dir"`
	LockTimeout        *string `json:"lock_timeout"`
	LockStaleAfter     *string `json:"lock_stale_after"`
	LockRetryInitial   *string `json:"lock_retry_initial"`
	LockRetryMax       *string `json:"lock_retry_max"`
	LockCheckHolder    *bool   `json:"lock_check_holder"`
	MemberNumberPrefix *string `json:"member_number_prefix"`
	LogLevel           *string `json:"log_level"`
	LogFormat          *string `json:"log_format"`
}

// EnvOverrides are configuration values taken from the environment. Each
// field is read from COURTBOOK_<NAME>, falling back to <NAME>.
type EnvOverrides struct {
	DataDir            *string        `envconfig:"DATA_DIR"`
	LockTimeout        *time.Duration `envconfig:"LOCK_TIMEOUT"`
	LockStaleAfter     *time.Duration `envconfig:"LOCK_STALE_AFTER"`
	LockRetryInitial   *time.Duration `envconfig:"LOCK_RETRY_INITIAL"`
	LockRetryMax       *time.Duration `envconfig:"LOCK_RETRY_MAX"`
	LockCheckHolder    *bool          `envconfig:"LOCK_CHECK_HOLDER"`
	MemberNumberPrefix *string        `envconfig:"MEMBER_NUMBER_PREFIX"`
	LogLevel           *string        `envconfig:"LOG_LEVEL"`
	LogFormat          *string        `envconfig:"LOG_FORMAT"`
}

// ReadEnv reads [EnvOverrides] from the process environment.
func ReadEnv() (EnvOverrides, error) {
	var overrides EnvOverrides

	err := envconfig.Process(EnvPrefix, &overrides)
	if err != nil {
		return EnvOverrides{}, fmt.Errorf("%w: environment: %w", ErrConfigInvalid, err)
	}

	return overrides, nil
}

// globalPath returns $XDG_CONFIG_HOME/courtbook/config.json, falling back
// to ~/.config/courtbook/config.json. Empty if neither is known.
func globalPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "courtbook", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "courtbook", "config.json")
	}

	return ""
}

// LoadInput holds the inputs for [Load].
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	DataDirOverride *string           // --data-dir flag value; nil means not given
	Env             map[string]string // environment (XDG_CONFIG_HOME, HOME)
	EnvOverrides    EnvOverrides      // from [ReadEnv]
}

// Load resolves configuration with the following precedence (highest wins):
//  1. Defaults
//  2. Global user config ($XDG_CONFIG_HOME/courtbook/config.json)
//  3. Project config (.courtbook.json in the work directory, if present)
//  4. Explicit config file via ConfigPath (replaces 3, must exist)
//  5. Environment overrides
//  6. CLI overrides
//
// The data directory is resolved to an absolute path relative to the work
// directory.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return Config{}, fmt.Errorf("cannot resolve working directory: %w", err)
	}

	cfg := Default()

	if path := globalPath(input.Env); path != "" {
		fc, loaded, err := loadFile(path, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg, err = merge(cfg, fc)
			if err != nil {
				return Config{}, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
			}

			cfg.Sources.Global = path
		}
	}

	projectPath, mustExist := filepath.Join(workDir, FileName), false

	if input.ConfigPath != "" {
		projectPath, mustExist = input.ConfigPath, true
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}
	}

	fc, loaded, err := loadFile(projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg, err = merge(cfg, fc)
		if err != nil {
			return Config{}, fmt.Errorf("%w %s: %w", ErrConfigInvalid, projectPath, err)
		}

		cfg.Sources.Project = projectPath
	}

	cfg = applyEnv(cfg, input.EnvOverrides)

	if input.DataDirOverride != nil {
		if *input.DataDirOverride == "" {
			return Config{}, ErrDataDirEmpty
		}

		cfg.DataDir = *input.DataDirOverride
	}

	err = validate(cfg)
	if err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir

	cfg.DataDirAbs = cfg.DataDir
	if !filepath.IsAbs(cfg.DataDirAbs) {
		cfg.DataDirAbs = filepath.Join(workDir, cfg.DataDir)
	}

	return cfg, nil
}

// loadFile reads and parses a JSONC config file. A missing file is not an
// error unless mustExist.
func loadFile(path string, mustExist bool) (fileConfig, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		switch {
		case os.IsNotExist(err) && mustExist:
			return fileConfig{}, false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		case os.IsNotExist(err):
			return fileConfig{}, false, nil
		default:
			return fileConfig{}, false, fmt.Errorf("%w: %s: %w", ErrConfigFileRead, path, err)
		}
	}

	fc, err := parse(data)
	if err != nil {
		return fileConfig{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return fc, true, nil
}

func parse(data []byte) (fileConfig, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var fc fileConfig

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	err = dec.Decode(&fc)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return fc, nil
}

// merge overlays the fields a file sets onto base.
func merge(base Config, fc fileConfig) (Config, error) {
	if fc.DataDir != nil {
		if *fc.DataDir == "" {
			return Config{}, ErrDataDirEmpty
		}

		base.DataDir = *fc.DataDir
	}

	durations := []struct {
		key string
		src *string
		dst *time.Duration
	}{
		{"lock_timeout", fc.LockTimeout, &base.LockTimeout},
		{"lock_stale_after", fc.LockStaleAfter, &base.LockStaleAfter},
		{"lock_retry_initial", fc.LockRetryInitial, &base.LockRetryInitial},
		{"lock_retry_max", fc.LockRetryMax, &base.LockRetryMax},
	}

	for _, d := range durations {
		if d.src == nil {
			continue
		}

		parsed, err := time.ParseDuration(*d.src)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", d.key, err)
		}

		*d.dst = parsed
	}

	if fc.LockCheckHolder != nil {
		base.LockCheckHolder = *fc.LockCheckHolder
	}

	setIfPresent(&base.MemberNumberPrefix, fc.MemberNumberPrefix)
	setIfPresent(&base.LogLevel, fc.LogLevel)
	setIfPresent(&base.LogFormat, fc.LogFormat)

	return base, nil
}

func applyEnv(cfg Config, env EnvOverrides) Config {
	set := func(key string, ok bool) {
		if ok {
			cfg.Sources.Env = append(cfg.Sources.Env, key)
		}
	}

	set("data_dir", setIfPresent(&cfg.DataDir, env.DataDir))
	set("lock_timeout", setIfPresent(&cfg.LockTimeout, env.LockTimeout))
	set("lock_stale_after", setIfPresent(&cfg.LockStaleAfter, env.LockStaleAfter))
	set("lock_retry_initial", setIfPresent(&cfg.LockRetryInitial, env.LockRetryInitial))
	set("lock_retry_max", setIfPresent(&cfg.LockRetryMax, env.LockRetryMax))
	set("lock_check_holder", setIfPresent(&cfg.LockCheckHolder, env.LockCheckHolder))
	set("member_number_prefix", setIfPresent(&cfg.MemberNumberPrefix, env.MemberNumberPrefix))
	set("log_level", setIfPresent(&cfg.LogLevel, env.LogLevel))
	set("log_format", setIfPresent(&cfg.LogFormat, env.LogFormat))

	return cfg
}

func setIfPresent[T any](dst *T, src *T) bool {
	if src == nil {
		return false
	}

	*dst = *src

	return true
}

func validate(cfg Config) error {
	if cfg.DataDir == "" {
		return ErrDataDirEmpty
	}

	err := cfg.LockOptions().Validate()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}

	if cfg.MemberNumberPrefix == "" || strings.ContainsAny(cfg.MemberNumberPrefix, "- \t") {
		return fmt.Errorf("%w: member_number_prefix %q must be non-empty without '-' or spaces", ErrConfigInvalid, cfg.MemberNumberPrefix)
	}

	var level slog.Level

	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("%w: log_level %q (want debug, info, warn or error)", ErrConfigInvalid, cfg.LogLevel)
	}

	if !slices.Contains([]string{LogFormatText, LogFormatJSON}, cfg.LogFormat) {
		return fmt.Errorf("%w: log_format %q (want text or json)", ErrConfigInvalid, cfg.LogFormat)
	}

	return nil
}
