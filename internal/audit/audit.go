package audit

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// Event is one claim attempt, success or rejection.
type Event struct {
	UserID    string         `json:"user_id"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink records audit events. Implementations must swallow their own
// failures; auditing never aborts a claim.
type Sink interface {
	Record(ctx context.Context, evt Event)
}

// NewLogSink writes audit events to the process log.
func NewLogSink() Sink {
	return &logSink{}
}

type logSink struct{}

func (*logSink) Record(ctx context.Context, evt Event) {
	jsonb, err := json.Marshal(evt)
	if err != nil {
		log.Printf("audit: marshal: %v", err)
		return
	}
	log.Printf("audit: %s", jsonb)
}

// Multi fans one event out to several sinks.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) Record(ctx context.Context, evt Event) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, evt)
		}
	}
}
