// Package log configures logrus and turns HTSP messages into log fields.
package log

import (
	"strings"
	"time"

	"github.com/aeolun/tvhdiscover/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// SetLogger configures the standard logger's formatter and level.
// Unknown levels fall back to info.
func SetLogger(level string) {
	customFormatter := new(logrus.TextFormatter)
	customFormatter.TimestampFormat = time.RFC3339
	customFormatter.FullTimestamp = true
	logrus.SetFormatter(customFormatter)
	logrus.SetLevel(ParseLevel(level))
}

// ParseLevel maps a config level name to a logrus level
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// ValidLevel reports whether ParseLevel understands level
func ValidLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// MessageToFields summarizes m for a log line. Binary fields such as the
// challenge are reported by length only.
func MessageToFields(m *protocol.Message) logrus.Fields {
	fields := logrus.Fields{
		"fields": m.Len(),
	}
	if method := m.Method(); method != "" {
		fields["method"] = method
	}
	if id, ok := m.Uint32("channelId"); ok {
		fields["channel_id"] = id
	}
	if name := m.Str("channelName"); name != "" {
		fields["channel_name"] = name
	}
	if errMsg := m.Str("error"); errMsg != "" {
		fields["error"] = errMsg
	}
	return fields
}
