package recognizer

import "cloud.google.com/go/speech/apiv2/speechpb"

// ConfigRequest builds the session envelope that must precede all audio.
func ConfigRequest(recognizer string, cfg SessionConfig) *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		Recognizer: recognizer,
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: cfg.StreamingConfig(),
		},
	}
}

// AudioRequest wraps one audio frame. The frame is copied so callers may reuse
// their read buffer.
func AudioRequest(recognizer string, frame []byte) *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		Recognizer: recognizer,
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{
			Audio: append([]byte(nil), frame...),
		},
	}
}

// ContentRequest builds a synchronous request carrying the whole audio payload.
func ContentRequest(recognizer string, cfg SessionConfig, audio []byte) *speechpb.RecognizeRequest {
	return &speechpb.RecognizeRequest{
		Recognizer:  recognizer,
		Config:      cfg.RecognitionConfig(),
		AudioSource: &speechpb.RecognizeRequest_Content{Content: audio},
	}
}
