package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/harunnryd/sttstream/pkg/errorsx"
	"github.com/harunnryd/sttstream/pkg/recognizer"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigWithSession(t *testing.T) {
	t.Setenv("TEST_PROJECT", "speech-1")
	path := writeConfig(t, `
recognizer: projects/${TEST_PROJECT}/locations/global/recognizers/hugo
credentials_file: /tmp/cred.json
buffer_size: 64
session:
  languages: [cs-CZ, en-US]
  model: long
  decoding:
    mode: explicit
    encoding: linear16
    sample_rate_hertz: 16000
  features:
    automatic_punctuation: true
  streaming:
    interim_results: true
  translation_target: ${TEST_TARGET}
`)
	t.Setenv("TEST_TARGET", "de-DE")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Recognizer != "projects/speech-1/locations/global/recognizers/hugo" {
		t.Fatalf("expected env expanded recognizer, got %q", cfg.Recognizer)
	}
	if cfg.BufferSize != 64 || cfg.ResultBufferSize != recognizer.DefaultBufferSize || cfg.ChunkSize != 1024 {
		t.Fatalf("unexpected sizes %+v", cfg)
	}
	if !cfg.Privacy.RedactTranscripts || cfg.Server.Path != "/recognize" {
		t.Fatalf("expected defaults applied, got %+v", cfg)
	}

	sc, err := cfg.SessionConfig()
	if err != nil {
		t.Fatalf("session config: %v", err)
	}
	if len(sc.Languages) != 2 || sc.Languages[0] != "cs-CZ" || sc.Model != "long" {
		t.Fatalf("unexpected session %+v", sc)
	}
	if sc.Decoding.Mode != recognizer.DecodingExplicit || sc.Decoding.SampleRateHertz != 16000 {
		t.Fatalf("unexpected decoding %+v", sc.Decoding)
	}
	if sc.Features == nil || !sc.Features.AutomaticPunctuation || !sc.Streaming.InterimResults {
		t.Fatalf("unexpected features %+v %+v", sc.Features, sc.Streaming)
	}
	if sc.TranslationTarget != "de-DE" {
		t.Fatalf("expected expanded translation target, got %q", sc.TranslationTarget)
	}

	override, err := cfg.SessionConfig("pl-PL")
	if err != nil || override.Languages[0] != "pl-PL" {
		t.Fatalf("expected language override, got %+v, %v", override, err)
	}
}

func TestLoadConfigRejectsUnknownSessionKey(t *testing.T) {
	path := writeConfig(t, `
recognizer: projects/p/locations/global/recognizers/r
session:
  languages: [en-US]
  sample_rate: 8000
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestLoadConfigRequiresRecognizer(t *testing.T) {
	path := writeConfig(t, "log_level: debug\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected missing recognizer error")
	}
}

func TestLoadConfigFromEnvOnly(t *testing.T) {
	t.Setenv("STTSTREAM_RECOGNIZER", "projects/p/locations/global/recognizers/r")
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Recognizer != "projects/p/locations/global/recognizers/r" {
		t.Fatalf("expected recognizer from env, got %q", cfg.Recognizer)
	}
	if _, err := cfg.SessionConfig(); !errorsx.HasReason(err, errorsx.ReasonConfig) {
		t.Fatalf("expected config error without languages, got %v", err)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
recognizer: projects/p/locations/global/recognizers/from-file
chunk_size: 512
`)
	cfg, err := LoadConfig(path,
		Set("recognizer", "projects/p/locations/us/recognizers/from-flag"),
		Set("chunk_size", 0),
		Set("log_level", "debug"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Recognizer != "projects/p/locations/us/recognizers/from-flag" {
		t.Fatalf("expected flag override, got %q", cfg.Recognizer)
	}
	if cfg.ChunkSize != 512 {
		t.Fatalf("expected zero override to be ignored, got %d", cfg.ChunkSize)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level override, got %q", cfg.LogLevel)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	body := "STTSTREAM_TEST_ENVFILE_NEW=from-file\nSTTSTREAM_TEST_ENVFILE_SET=from-file\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("STTSTREAM_TEST_ENVFILE_SET", "from-process")
	t.Cleanup(func() { _ = os.Unsetenv("STTSTREAM_TEST_ENVFILE_NEW") })

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if got := os.Getenv("STTSTREAM_TEST_ENVFILE_NEW"); got != "from-file" {
		t.Fatalf("expected variable from file, got %q", got)
	}
	if got := os.Getenv("STTSTREAM_TEST_ENVFILE_SET"); got != "from-process" {
		t.Fatalf("expected process variable to win, got %q", got)
	}
	if err := LoadEnvFile(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("expected missing file to be ignored, got %v", err)
	}
}

func TestLoadConfigFailuresCarryConfigReason(t *testing.T) {
	cases := map[string]func() error{
		"missing file": func() error {
			_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
			return err
		},
		"bad chunk size": func() error {
			_, err := LoadConfig("", Set("recognizer", "projects/p/locations/global/recognizers/r"), Set("chunk_size", -5))
			return err
		},
		"negative buffer": func() error {
			_, err := LoadConfig("", Set("recognizer", "projects/p/locations/global/recognizers/r"), Set("buffer_size", -1))
			return err
		},
		"missing recognizer": func() error {
			path := writeConfig(t, "log_level: debug\n")
			_, err := LoadConfig(path)
			return err
		},
	}
	for name, load := range cases {
		err := load()
		if !errorsx.HasReason(err, errorsx.ReasonConfig) {
			t.Fatalf("%s: expected config reason, got %v (reason %q)", name, err, errorsx.Reason(err))
		}
	}
}
