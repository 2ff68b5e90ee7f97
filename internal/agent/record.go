package agent

import "time"

// Action sources.
const (
	SourceOperator = "operator"
	SourceReflex   = "reflex"
)

// ActionRecord describes one finished executor call.
type ActionRecord struct {
	ID          string        `json:"id"`
	Op          string        `json:"op"`
	Source      string        `json:"source"`
	Description string        `json:"description,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration_ns"`
	OK          bool          `json:"ok"`
	Code        Code          `json:"code,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Recorder receives action and reflex history. Implementations must not block
// for long; they are called inline.
type Recorder interface {
	RecordAction(ActionRecord)
	RecordProtocol(ProtocolReport)
}

type nopRecorder struct{}

func (nopRecorder) RecordAction(ActionRecord)     {}
func (nopRecorder) RecordProtocol(ProtocolReport) {}
