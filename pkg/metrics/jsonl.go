package metrics

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

type jsonlRecord struct {
	Name   string            `json:"name"`
	Time   time.Time         `json:"time"`
	Value  float64           `json:"value,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
	Fields map[string]any    `json:"fields,omitempty"`
}

// JSONLObserver writes one JSON object per event. Encoding errors drop the event.
type JSONLObserver struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	return &JSONLObserver{enc: json.NewEncoder(w)}
}

func (o *JSONLObserver) RecordEvent(ev MetricsEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	_ = o.enc.Encode(jsonlRecord{
		Name:   ev.Name,
		Time:   ev.Time,
		Value:  ev.Value,
		Tags:   ev.Tags,
		Fields: ev.Fields,
	})
}
