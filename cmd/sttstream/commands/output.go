package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/harunnryd/sttstream/pkg/runner"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

var version = runner.Version

var lineJSON = protojson.MarshalOptions{UseProtoNames: true}

func printMessage(w io.Writer, m proto.Message) error {
	b, err := lineJSON.Marshal(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func printStreaming(w io.Writer, resp *speechpb.StreamingRecognizeResponse, asJSON bool) error {
	if asJSON {
		return printMessage(w, resp)
	}
	if ev := resp.GetSpeechEventType(); ev != speechpb.StreamingRecognizeResponse_SPEECH_EVENT_TYPE_UNSPECIFIED {
		_, err := fmt.Fprintf(w, "[event] %s\n", strings.ToLower(ev.String()))
		return err
	}
	for _, res := range resp.GetResults() {
		alts := res.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		label := "interim"
		if res.GetIsFinal() {
			label = "final"
		}
		if _, err := fmt.Fprintf(w, "[%s] %s\n", label, alts[0].GetTranscript()); err != nil {
			return err
		}
	}
	return nil
}

func printRecognize(w io.Writer, resp *speechpb.RecognizeResponse, asJSON bool) error {
	if asJSON {
		return printMessage(w, resp)
	}
	for _, res := range resp.GetResults() {
		alts := res.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s (%.2f)\n", alts[0].GetTranscript(), alts[0].GetConfidence()); err != nil {
			return err
		}
	}
	return nil
}

// openAudio opens path, or stdin for "-".
func openAudio(path string, stdin io.Reader) (io.ReadCloser, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("audio file is required, use --file (or - for stdin)")
	}
	if path == "-" {
		return io.NopCloser(stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	return f, nil
}
