package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/calvinalkan/courtbook/internal/config"
	"github.com/calvinalkan/courtbook/pkg/fs"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	err = os.WriteFile(path, []byte(content), 0o600)
	if err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func ptr[T any](v T) *T {
	return &v
}

func Test_Load_Returns_Defaults_When_No_Config_Exists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, err := config.Load(config.LoadInput{WorkDirOverride: dir, Env: map[string]string{}})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got, want := cfg.DataDirAbs, filepath.Join(dir, "data"); got != want {
		t.Errorf("DataDirAbs=%q, want %q", got, want)
	}

	if diff := cmp.Diff(fs.DefaultLockOptions(), cfg.LockOptions()); diff != "" {
		t.Errorf("lock options (-want +got):\n%s", diff)
	}

	if cfg.MemberNumberPrefix != "MEM" || cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Errorf("cfg=%+v", cfg)
	}

	if diff := cmp.Diff(config.Sources{}, cfg.Sources); diff != "" {
		t.Errorf("sources (-want +got):\n%s", diff)
	}
}

func Test_Load_Layers_Global_Project_Env_And_Flag_In_Order(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	xdg := t.TempDir()

	writeFile(t, filepath.Join(xdg, "courtbook", "config.json"), `{
		// global
		"data_dir": "global-data",
		"lock_timeout": "2s",
		"log_level": "debug",
	}`)
	writeFile(t, filepath.Join(dir, ".courtbook.json"), `{
		"data_dir": "project-data",
		"lock_retry_max": "50ms",
		"member_number_prefix": "TC",
	}`)

	input := config.LoadInput{
		WorkDirOverride: dir,
		Env:             map[string]string{"XDG_CONFIG_HOME": xdg},
		EnvOverrides: config.EnvOverrides{
			LockTimeout: ptr(3 * time.Second),
			LogFormat:   ptr("json"),
		},
	}

	cfg, err := config.Load(input)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	got := []string{cfg.DataDirAbs, cfg.LockTimeout.String(), cfg.LockRetryMax.String(), cfg.MemberNumberPrefix, cfg.LogLevel, cfg.LogFormat}
	want := []string{filepath.Join(dir, "project-data"), "3s", "50ms", "TC", "debug", "json"}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("resolved (-want +got):\n%s", diff)
	}

	wantSources := config.Sources{
		Global:  filepath.Join(xdg, "courtbook", "config.json"),
		Project: filepath.Join(dir, ".courtbook.json"),
		Env:     []string{"lock_timeout", "log_format"},
	}

	if diff := cmp.Diff(wantSources, cfg.Sources); diff != "" {
		t.Fatalf("sources (-want +got):\n%s", diff)
	}

	input.DataDirOverride = ptr("/abs/flag-data")

	cfg, err = config.Load(input)
	if err != nil {
		t.Fatalf("load with flag: %v", err)
	}

	if cfg.DataDirAbs != "/abs/flag-data" {
		t.Fatalf("DataDirAbs=%q, want flag value", cfg.DataDirAbs)
	}
}

func Test_Load_Uses_Explicit_Config_Instead_Of_Project_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, ".courtbook.json"), `{"data_dir": "project"}`)
	writeFile(t, filepath.Join(dir, "custom.json"), `{"data_dir": "custom", "lock_check_holder": true}`)

	cfg, err := config.Load(config.LoadInput{WorkDirOverride: dir, ConfigPath: "custom.json"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.DataDirAbs != filepath.Join(dir, "custom") || !cfg.LockCheckHolder {
		t.Fatalf("cfg=%+v", cfg)
	}

	if !cfg.LockOptions().CheckHolderAlive {
		t.Fatalf("lock_check_holder not carried into lock options")
	}
}

func Test_Load_Fails_When_Config_Is_Invalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		file    string
		input   func(*config.LoadInput)
		wantErr error
		wantMsg string
	}{
		{name: "missing explicit", input: func(in *config.LoadInput) { in.ConfigPath = "nope.json" }, wantErr: config.ErrConfigFileNotFound},
		{name: "bad jsonc", file: `{invalid}`, wantErr: config.ErrConfigInvalid, wantMsg: "JSONC"},
		{name: "unknown key", file: `{"ticket_dir": "x"}`, wantErr: config.ErrConfigInvalid, wantMsg: "ticket_dir"},
		{name: "empty data dir", file: `{"data_dir": ""}`, wantErr: config.ErrDataDirEmpty},
		{name: "bad duration", file: `{"lock_timeout": "soon"}`, wantErr: config.ErrConfigInvalid, wantMsg: "lock_timeout"},
		{name: "retry max below initial", file: `{"lock_retry_initial": "50ms", "lock_retry_max": "10ms"}`, wantErr: fs.ErrInvalidLockOptions},
		{name: "zero timeout", file: `{"lock_timeout": "0s"}`, wantErr: fs.ErrInvalidLockOptions},
		{name: "prefix with dash", file: `{"member_number_prefix": "A-B"}`, wantErr: config.ErrConfigInvalid, wantMsg: "member_number_prefix"},
		{name: "bad log level", file: `{"log_level": "loud"}`, wantErr: config.ErrConfigInvalid, wantMsg: "log_level"},
		{name: "bad log format", file: `{"log_format": "xml"}`, wantErr: config.ErrConfigInvalid, wantMsg: "log_format"},
		{name: "empty flag", input: func(in *config.LoadInput) { in.DataDirOverride = ptr("") }, wantErr: config.ErrDataDirEmpty},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			if tc.file != "" {
				writeFile(t, filepath.Join(dir, ".courtbook.json"), tc.file)
			}

			input := config.LoadInput{WorkDirOverride: dir}
			if tc.input != nil {
				tc.input(&input)
			}

			_, err := config.Load(input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err=%v, want %v", err, tc.wantErr)
			}

			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Fatalf("err=%q, want it to mention %q", err, tc.wantMsg)
			}
		})
	}
}

func Test_Config_Format_Lists_Every_Key(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.EffectiveCwd = "/work"
	cfg.DataDirAbs = "/work/data"

	want := strings.Join([]string{
		"effective_cwd=/work",
		"data_dir=/work/data",
		"lock_timeout=5s",
		"lock_stale_after=30s",
		"lock_retry_initial=5ms",
		"lock_retry_max=100ms",
		"lock_check_holder=false",
		"member_number_prefix=MEM",
		"log_level=info",
		"log_format=text",
	}, "\n")

	if diff := cmp.Diff(want, cfg.Format()); diff != "" {
		t.Fatalf("format (-want +got):\n%s", diff)
	}
}

// Uses t.Setenv, so not parallel.
func Test_ReadEnv_Prefers_Prefixed_Names_Over_Fallback(t *testing.T) {
	t.Setenv("COURTBOOK_DATA_DIR", "/prefixed")
	t.Setenv("DATA_DIR", "/fallback")
	t.Setenv("LOCK_TIMEOUT", "750ms")
	t.Setenv("COURTBOOK_LOCK_CHECK_HOLDER", "true")

	env, err := config.ReadEnv()
	if err != nil {
		t.Fatalf("read env: %v", err)
	}

	if env.DataDir == nil || *env.DataDir != "/prefixed" {
		t.Fatalf("DataDir=%v, want /prefixed", env.DataDir)
	}

	if env.LockTimeout == nil || *env.LockTimeout != 750*time.Millisecond {
		t.Fatalf("LockTimeout=%v, want 750ms from fallback name", env.LockTimeout)
	}

	if env.LockCheckHolder == nil || !*env.LockCheckHolder {
		t.Fatalf("LockCheckHolder=%v, want true", env.LockCheckHolder)
	}

	if env.LogLevel != nil {
		t.Fatalf("LogLevel=%q, want unset", *env.LogLevel)
	}
}

func Test_ReadEnv_Fails_When_Value_Does_Not_Parse(t *testing.T) {
	t.Setenv("COURTBOOK_LOCK_TIMEOUT", "forever")

	_, err := config.ReadEnv()
	if !errors.Is(err, config.ErrConfigInvalid) {
		t.Fatalf("err=%v, want ErrConfigInvalid", err)
	}
}
