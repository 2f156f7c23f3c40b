package redact

import (
	"regexp"
	"strings"

	"cloud.google.com/go/speech/apiv2/speechpb"
)

var (
	emailRe = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?\d[\d\s\-]{7,}\d`)
)

// Redactor masks personal data in transcripts before they reach logs.
// The zero value passes text through unchanged.
type Redactor struct {
	enabled bool
}

func New(enabled bool) Redactor {
	return Redactor{enabled: enabled}
}

func (r Redactor) Enabled() bool { return r.enabled }

// Text masks emails and phone-like digit runs.
func (r Redactor) Text(in string) string {
	if !r.enabled || strings.TrimSpace(in) == "" {
		return in
	}
	out := emailRe.ReplaceAllString(in, "[REDACTED_EMAIL]")
	return phoneRe.ReplaceAllString(out, "[REDACTED_PHONE]")
}

// Transcripts returns the top alternative of every result, redacted.
func (r Redactor) Transcripts(resp *speechpb.StreamingRecognizeResponse) []string {
	var out []string
	for _, res := range resp.GetResults() {
		alts := res.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		out = append(out, r.Text(alts[0].GetTranscript()))
	}
	return out
}

// Summary joins Transcripts for a single log attribute.
func (r Redactor) Summary(resp *speechpb.StreamingRecognizeResponse) string {
	return strings.Join(r.Transcripts(resp), " | ")
}
