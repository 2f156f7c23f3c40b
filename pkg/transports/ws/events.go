package ws

import (
	"encoding/json"

	"cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/harunnryd/sttstream/pkg/errorsx"
	"github.com/harunnryd/sttstream/pkg/recognizer"
	"google.golang.org/protobuf/encoding/protojson"
)

const (
	EventReady  = "ready"
	EventResult = "result"
	EventError  = "error"
	EventEnd    = "end"
	EventStop   = "stop"
)

// Event is every text message exchanged on the socket. Clients only send
// {"event":"stop"}; audio travels as binary messages.
type Event struct {
	Event     string          `json:"event"`
	SessionID string          `json:"session_id,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Message   string          `json:"message,omitempty"`
	Stats     *Stats          `json:"stats,omitempty"`
}

type Stats struct {
	FramesSent       int64 `json:"frames_sent"`
	ResultsForwarded int64 `json:"results_forwarded"`
	ResultsDropped   int64 `json:"results_dropped"`
}

func resultEvent(resp *speechpb.StreamingRecognizeResponse) (Event, error) {
	b, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(resp)
	if err != nil {
		return Event{}, err
	}
	return Event{Event: EventResult, Result: b}, nil
}

func errorEvent(err error) Event {
	return Event{Event: EventError, Reason: string(errorsx.Reason(err)), Message: err.Error()}
}

func endEvent(id string, st recognizer.Stats, err error) Event {
	ev := Event{
		Event:     EventEnd,
		SessionID: id,
		Stats: &Stats{
			FramesSent:       st.FramesSent,
			ResultsForwarded: st.ResultsForwarded,
			ResultsDropped:   st.ResultsDropped,
		},
	}
	if err != nil {
		ev.Reason = string(errorsx.Reason(err))
		ev.Message = err.Error()
	}
	return ev
}

// DecodeResult parses the payload of a result event.
func DecodeResult(ev Event) (*speechpb.StreamingRecognizeResponse, error) {
	resp := &speechpb.StreamingRecognizeResponse{}
	if err := protojson.Unmarshal(ev.Result, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
