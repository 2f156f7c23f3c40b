package redact

import (
	"strings"
	"testing"

	"cloud.google.com/go/speech/apiv2/speechpb"
)

const sample = "email a@b.com and phone +62 812 3456 7890"

func TestRedactDisabled(t *testing.T) {
	var r Redactor
	if got := r.Text(sample); got != sample {
		t.Fatalf("expected no redaction, got %q", got)
	}
}

func TestRedactEnabled(t *testing.T) {
	got := New(true).Text(sample)
	if got == sample {
		t.Fatalf("expected redaction")
	}
	for _, want := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
	if strings.Contains(got, "a@b.com") || strings.Contains(got, "3456") {
		t.Fatalf("personal data leaked: %q", got)
	}
}

func TestTranscripts(t *testing.T) {
	resp := &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "call me at 0812 3456 7890"}, {Transcript: "ignored"}}},
			{},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "thanks"}}},
		},
	}
	got := New(true).Transcripts(resp)
	if len(got) != 2 {
		t.Fatalf("expected 2 transcripts, got %v", got)
	}
	if got[0] != "call me at [REDACTED_PHONE]" || got[1] != "thanks" {
		t.Fatalf("unexpected transcripts %v", got)
	}
	if s := New(false).Summary(resp); s != "call me at 0812 3456 7890 | thanks" {
		t.Fatalf("unexpected summary %q", s)
	}
	if New(true).Transcripts(nil) != nil {
		t.Fatalf("expected nil for nil response")
	}
}
