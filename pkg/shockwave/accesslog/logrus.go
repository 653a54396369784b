package accesslog

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// JSONSink implements logger_access: one structured JSON line per
// request, via logrus's built-in JSONFormatter.
type JSONSink struct {
	log *logrus.Logger
}

// NewJSONSink writes access logs through log, used as given (e.g. one
// writing to a rotated file). A nil log creates a fresh logrus.Logger
// with the JSON formatter, writing to the default stderr destination.
func NewJSONSink(log *logrus.Logger) *JSONSink {
	if log == nil {
		log = logrus.New()
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return &JSONSink{log: log}
}

func (s *JSONSink) Write(e Entry) {
	s.log.WithFields(logrus.Fields{
		"remote_addr":   e.RemoteAddr,
		"method":        e.Method,
		"path":          e.Path,
		"status":        e.Status,
		"bytes":         e.BytesWritten,
		"sent":          e.Sent,
		"duration_ms":   e.Duration().Milliseconds(),
		"send_ms":       e.SendDuration().Milliseconds(),
		"error_kind":    e.ErrorKind,
		"arrived_at":    e.ArrivedAt,
		"start_send_at": e.StartSendTime,
	}).Info("request")
}

// tskvFormatter renders a logrus entry as tab-separated key=value pairs
// prefixed with "tskv", the flat access-log format logger_access_tskv
// produces.
type tskvFormatter struct{}

func (tskvFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString("tskv")
	b.WriteString("\tmessage=")
	b.WriteString(entry.Message)
	for k, v := range entry.Data {
		b.WriteByte('\t')
		b.WriteString(k)
		b.WriteByte('=')
		fmt.Fprintf(&b, "%v", v)
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// TSKVSink implements logger_access_tskv.
type TSKVSink struct {
	log *logrus.Logger
}

// NewTSKVSink sets the tskv formatter on log. A nil log creates a
// fresh logrus.Logger writing to the default stderr destination.
func NewTSKVSink(log *logrus.Logger) *TSKVSink {
	if log == nil {
		log = logrus.New()
	}
	log.SetFormatter(tskvFormatter{})
	return &TSKVSink{log: log}
}

func (s *TSKVSink) Write(e Entry) {
	s.log.WithFields(logrus.Fields{
		"remote_addr": e.RemoteAddr,
		"method":      e.Method,
		"path":        e.Path,
		"status":      e.Status,
		"bytes":       e.BytesWritten,
		"sent":        e.Sent,
		"duration_ms": e.Duration().Milliseconds(),
		"error_kind":  e.ErrorKind,
	}).Info("request")
}
