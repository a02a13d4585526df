package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlerRegistry(t *testing.T) {
	t.Run("typed handlers come before wildcards", func(t *testing.T) {
		registry := NewHandlerRegistry()
		typed := newRecordingHandler()
		wildcard := newRecordingHandler()
		registry.Register(typed, "UsageRecorded", "LimitReached")
		registry.Register(wildcard)

		handlers := registry.Handlers("UsageRecorded")
		assert.Len(t, handlers, 2)
		assert.Same(t, typed, handlers[0])
		assert.Same(t, wildcard, handlers[1])

		assert.Len(t, registry.Handlers("CreditsAdded"), 1)
		assert.Equal(t, 2, registry.Count())
	})

	t.Run("unregister removes every registration", func(t *testing.T) {
		registry := NewHandlerRegistry()
		handler := newRecordingHandler()
		other := newRecordingHandler()
		registry.Register(handler, "UsageRecorded", "LimitReached")
		registry.Register(other, "UsageRecorded")
		registry.Register(handler)

		registry.Unregister(handler)

		assert.Len(t, registry.Handlers("UsageRecorded"), 1)
		assert.Empty(t, registry.Handlers("LimitReached"))
		assert.Equal(t, 1, registry.Count())
	})
}
