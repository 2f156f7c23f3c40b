package configutil

import (
	"strings"
	"testing"

	"github.com/harunnryd/sttstream/pkg/errorsx"
)

func TestValidateSettings(t *testing.T) {
	schema := Schema{Required: []string{"languages"}, Optional: []string{"model", "phrase_sets"}}

	if err := ValidateSettings(map[string]any{"Languages": []any{"en-US"}, "phrase-sets": nil}, schema); err != nil {
		t.Fatalf("expected normalized keys to validate, got %v", err)
	}

	err := ValidateSettings(map[string]any{"languages": []any{}, "sample_rate": 8000}, schema)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errorsx.HasReason(err, errorsx.ReasonConfig) {
		t.Fatalf("expected config reason, got %v", err)
	}
	if !strings.Contains(err.Error(), "missing: languages") || !strings.Contains(err.Error(), "unknown: sample_rate") {
		t.Fatalf("unexpected message %q", err.Error())
	}

	if err := ValidateSettings(map[string]any{"languages": "en-US", "x": 1}, Schema{Required: []string{"languages"}, AllowUnknown: true}); err != nil {
		t.Fatalf("expected unknown keys allowed, got %v", err)
	}
}

func TestDecodeSettings(t *testing.T) {
	type inner struct {
		SampleRateHertz int32 `mapstructure:"sample_rate_hertz"`
	}
	type target struct {
		Model    string `mapstructure:"model"`
		Decoding inner  `mapstructure:"decoding"`
	}

	var out target
	err := DecodeSettings(map[string]any{
		"MODEL":    "long",
		"decoding": map[string]any{"sampleRateHertz": "16000"},
	}, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Model != "long" || out.Decoding.SampleRateHertz != 16000 {
		t.Fatalf("unexpected decode %+v", out)
	}

	if err := DecodeSettings(map[string]any{"unknown": true}, &out); !errorsx.HasReason(err, errorsx.ReasonConfig) {
		t.Fatalf("expected config error for unused key, got %v", err)
	}

	untouched := target{Model: "keep"}
	if err := DecodeSettings(nil, &untouched); err != nil || untouched.Model != "keep" {
		t.Fatalf("expected nil input to be a no-op, got %+v, %v", untouched, err)
	}
}

func TestRequireString(t *testing.T) {
	if err := RequireString("  ", "recognizer"); !errorsx.HasReason(err, errorsx.ReasonConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	if err := RequireString("x", "recognizer"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
