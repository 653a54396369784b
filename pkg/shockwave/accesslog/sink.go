// Package accesslog implements two access-log sinks for completed
// requests: a structured JSON sink and a flat key=value, tab-separated
// TSKV sink, both built on logrus.Formatter so either can be wired in
// without changing how the Writer emits entries.
package accesslog

import (
	"time"
)

// Entry is one completed request's access-log record, assembled by the
// Writer after a response has been sent or marked send-failed.
type Entry struct {
	RemoteAddr    string
	Method        string
	Path          string
	Status        int
	BytesWritten  int64
	Sent          bool
	ArrivedAt     time.Time
	StartSendTime time.Time
	FinishTime    time.Time
	ErrorKind     string
}

// Duration is the time from request arrival to response resolution.
func (e Entry) Duration() time.Duration {
	if e.FinishTime.IsZero() || e.ArrivedAt.IsZero() {
		return 0
	}
	return e.FinishTime.Sub(e.ArrivedAt)
}

// SendDuration is the time spent in response.send specifically.
func (e Entry) SendDuration() time.Duration {
	if e.FinishTime.IsZero() || e.StartSendTime.IsZero() {
		return 0
	}
	return e.FinishTime.Sub(e.StartSendTime)
}

// Sink is implemented by each access-log format. The Writer calls
// Write once per resolved request; implementations must not block
// indefinitely or panic.
type Sink interface {
	Write(e Entry)
}

// MultiSink fans a single Entry out to several sinks, so a connection
// can feed both logger_access and logger_access_tskv without the Writer
// knowing how many are configured.
type MultiSink []Sink

func (m MultiSink) Write(e Entry) {
	for _, s := range m {
		s.Write(e)
	}
}
