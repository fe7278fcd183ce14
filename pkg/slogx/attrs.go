// Package slogx holds small slog attribute helpers shared by the brokers.
package slogx

import (
	"fmt"
	"log/slog"
)

const (
	// KeyLoggerName is the attribute key carrying the component logger name.
	KeyLoggerName = "logger"
	// KeyObjectID is the attribute key for the id of a registered object.
	KeyObjectID = "object_id"
	// KeyRequestID is the attribute key for a correlation id.
	KeyRequestID = "request_id"
	// KeyTaskExecutionID is the attribute key for a task execution id.
	KeyTaskExecutionID = "task_execution_id"
)

// Error returns an "error" attribute holding the error message.
// A nil error yields an empty string value.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Stringer returns an attribute with the string form of value.
func Stringer(key string, value fmt.Stringer) slog.Attr {
	return slog.String(key, value.String())
}

// ByteString returns an attribute with the bytes rendered as a string.
func ByteString(key string, value []byte) slog.Attr {
	return slog.String(key, string(value))
}

// LoggerName returns the attribute that names a component logger.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}

func ObjectID(id string) slog.Attr {
	return slog.String(KeyObjectID, id)
}

func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

func TaskExecutionID(id string) slog.Attr {
	return slog.String(KeyTaskExecutionID, id)
}
