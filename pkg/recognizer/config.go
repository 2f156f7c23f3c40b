package recognizer

import (
	"strings"

	"cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/harunnryd/sttstream/pkg/errorsx"
)

// DecodingMode selects how the service learns the audio format.
type DecodingMode string

const (
	// DecodingAuto lets the service detect the format from container headers.
	DecodingAuto DecodingMode = "auto"
	// DecodingExplicit declares raw audio with a fixed encoding and sample rate.
	DecodingExplicit DecodingMode = "explicit"
)

type Decoding struct {
	Mode            DecodingMode `mapstructure:"mode"`
	Encoding        string       `mapstructure:"encoding"`
	SampleRateHertz int          `mapstructure:"sample_rate_hertz"`
	Channels        int          `mapstructure:"channels"`
}

// Features are optional recognition switches.
type Features struct {
	ProfanityFilter      bool `mapstructure:"profanity_filter"`
	WordTimeOffsets      bool `mapstructure:"word_time_offsets"`
	WordConfidence       bool `mapstructure:"word_confidence"`
	AutomaticPunctuation bool `mapstructure:"automatic_punctuation"`
	SpokenPunctuation    bool `mapstructure:"spoken_punctuation"`
	SpokenEmojis         bool `mapstructure:"spoken_emojis"`
	MaxAlternatives      int  `mapstructure:"max_alternatives"`
}

// StreamingFeatures only apply to duplex sessions.
type StreamingFeatures struct {
	InterimResults      bool `mapstructure:"interim_results"`
	VoiceActivityEvents bool `mapstructure:"voice_activity_events"`
}

// SessionConfig describes one recognition session. It is sent exactly once, as
// the first item of the outbound stream, and never changes afterwards.
type SessionConfig struct {
	Languages  []string          `mapstructure:"languages"`
	Model      string            `mapstructure:"model"`
	Decoding   Decoding          `mapstructure:"decoding"`
	Features   *Features         `mapstructure:"features"`
	Streaming  StreamingFeatures `mapstructure:"streaming"`
	PhraseSets []string          `mapstructure:"phrase_sets"`
	// TranslationTarget enables speech translation into the given language.
	TranslationTarget string `mapstructure:"translation_target"`
}

func (c SessionConfig) Validate() error {
	if len(c.Languages) == 0 {
		return errorsx.New(errorsx.ReasonConfig, "session config needs at least one language")
	}
	for i, l := range c.Languages {
		if strings.TrimSpace(l) == "" {
			return errorsx.Errorf(errorsx.ReasonConfig, "language %d is empty", i)
		}
	}
	switch c.Decoding.Mode {
	case "", DecodingAuto:
	case DecodingExplicit:
		if _, err := c.Decoding.encoding(); err != nil {
			return err
		}
		if c.Decoding.SampleRateHertz <= 0 {
			return errorsx.Errorf(errorsx.ReasonConfig, "explicit decoding needs a positive sample rate, got %d", c.Decoding.SampleRateHertz)
		}
		if c.Decoding.Channels < 0 {
			return errorsx.Errorf(errorsx.ReasonConfig, "channel count must not be negative, got %d", c.Decoding.Channels)
		}
	default:
		return errorsx.Errorf(errorsx.ReasonConfig, "unknown decoding mode %q", c.Decoding.Mode)
	}
	if c.Features != nil && c.Features.MaxAlternatives < 0 {
		return errorsx.Errorf(errorsx.ReasonConfig, "max alternatives must not be negative, got %d", c.Features.MaxAlternatives)
	}
	return nil
}

func (d Decoding) encoding() (speechpb.ExplicitDecodingConfig_AudioEncoding, error) {
	name := strings.ToUpper(strings.TrimSpace(d.Encoding))
	v, ok := speechpb.ExplicitDecodingConfig_AudioEncoding_value[name]
	if !ok || v == int32(speechpb.ExplicitDecodingConfig_AUDIO_ENCODING_UNSPECIFIED) {
		return 0, errorsx.Errorf(errorsx.ReasonConfig, "unsupported explicit encoding %q", d.Encoding)
	}
	return speechpb.ExplicitDecodingConfig_AudioEncoding(v), nil
}

// RecognitionConfig converts the session config to its wire form.
func (c SessionConfig) RecognitionConfig() *speechpb.RecognitionConfig {
	rc := &speechpb.RecognitionConfig{
		Model:         c.Model,
		LanguageCodes: append([]string(nil), c.Languages...),
	}
	if c.Decoding.Mode == DecodingExplicit {
		enc, _ := c.Decoding.encoding()
		channels := c.Decoding.Channels
		if channels == 0 {
			channels = 1
		}
		rc.DecodingConfig = &speechpb.RecognitionConfig_ExplicitDecodingConfig{
			ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
				Encoding:          enc,
				SampleRateHertz:   int32(c.Decoding.SampleRateHertz),
				AudioChannelCount: int32(channels),
			},
		}
	} else {
		rc.DecodingConfig = &speechpb.RecognitionConfig_AutoDecodingConfig{
			AutoDecodingConfig: &speechpb.AutoDetectDecodingConfig{},
		}
	}
	if f := c.Features; f != nil {
		rc.Features = &speechpb.RecognitionFeatures{
			ProfanityFilter:            f.ProfanityFilter,
			EnableWordTimeOffsets:      f.WordTimeOffsets,
			EnableWordConfidence:       f.WordConfidence,
			EnableAutomaticPunctuation: f.AutomaticPunctuation,
			EnableSpokenPunctuation:    f.SpokenPunctuation,
			EnableSpokenEmojis:         f.SpokenEmojis,
			MaxAlternatives:            int32(f.MaxAlternatives),
		}
	}
	if len(c.PhraseSets) > 0 {
		adaptation := &speechpb.SpeechAdaptation{}
		for _, name := range c.PhraseSets {
			adaptation.PhraseSets = append(adaptation.PhraseSets, &speechpb.SpeechAdaptation_AdaptationPhraseSet{
				Value: &speechpb.SpeechAdaptation_AdaptationPhraseSet_PhraseSet{PhraseSet: name},
			})
		}
		rc.Adaptation = adaptation
	}
	if c.TranslationTarget != "" {
		rc.TranslationConfig = &speechpb.TranslationConfig{TargetLanguage: c.TranslationTarget}
	}
	return rc
}

// StreamingConfig is the envelope carried by the first outbound request.
func (c SessionConfig) StreamingConfig() *speechpb.StreamingRecognitionConfig {
	sc := &speechpb.StreamingRecognitionConfig{Config: c.RecognitionConfig()}
	if c.Streaming.InterimResults || c.Streaming.VoiceActivityEvents {
		sc.StreamingFeatures = &speechpb.StreamingRecognitionFeatures{
			InterimResults:            c.Streaming.InterimResults,
			EnableVoiceActivityEvents: c.Streaming.VoiceActivityEvents,
		}
	}
	return sc
}
