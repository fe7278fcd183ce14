package slogx

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttrs(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		a := Error(errors.New("boom"))
		assert.Equal(t, "error", a.Key)
		assert.Equal(t, "boom", a.Value.String())
		assert.Equal(t, "", Error(nil).Value.String())
	})

	t.Run("stringer", func(t *testing.T) {
		u, _ := url.Parse("nats://localhost:4222")
		a := Stringer("url", u)
		assert.Equal(t, "nats://localhost:4222", a.Value.String())
	})

	t.Run("ids", func(t *testing.T) {
		assert.Equal(t, KeyLoggerName, LoggerName("x").Key)
		assert.Equal(t, KeyObjectID, ObjectID("x").Key)
		assert.Equal(t, KeyRequestID, RequestID("x").Key)
		assert.Equal(t, KeyTaskExecutionID, TaskExecutionID("x").Key)
		assert.Equal(t, "abc", ByteString("k", []byte("abc")).Value.String())
	})
}
