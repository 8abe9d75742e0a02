package jsonrpc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeenIDWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	w := NewSeenIDWindow(10*time.Second, 0, func() time.Time { return now })

	assert.NoError(t, w.Observe(json.RawMessage(`1`)))
	assert.ErrorIs(t, w.Observe(json.RawMessage(`1`)), ErrDuplicateID)
	assert.NoError(t, w.Observe(json.RawMessage(`"1"`)), "string and number ids differ")

	now = now.Add(5 * time.Second)
	assert.NoError(t, w.Observe(json.RawMessage(`2`)))
	assert.ErrorIs(t, w.Observe(json.RawMessage(` 1 `)), ErrDuplicateID)

	now = now.Add(5 * time.Second)
	assert.NoError(t, w.Observe(json.RawMessage(`1`)))
	assert.Equal(t, 2, w.Len(), "the first observations of 1 and \"1\" expired")
}

func TestSeenIDWindowIgnoresNullAndAbsent(t *testing.T) {
	w := NewSeenIDWindow(time.Minute, 0, nil)
	for range 3 {
		assert.NoError(t, w.Observe(nil))
		assert.NoError(t, w.Observe(json.RawMessage(`null`)))
	}
	assert.Equal(t, 0, w.Len())
}

func TestSeenIDWindowCapacity(t *testing.T) {
	now := time.Unix(1700000000, 0)
	w := NewSeenIDWindow(time.Minute, 2, func() time.Time { return now })

	assert.NoError(t, w.Observe(json.RawMessage(`1`)))
	assert.NoError(t, w.Observe(json.RawMessage(`2`)))
	assert.NoError(t, w.Observe(json.RawMessage(`3`)))
	assert.Equal(t, 2, w.Len())

	// The oldest id was dropped to make room.
	assert.NoError(t, w.Observe(json.RawMessage(`1`)))
	assert.ErrorIs(t, w.Observe(json.RawMessage(`3`)), ErrDuplicateID)
}

func TestSeenIDWindowDisabled(t *testing.T) {
	w := NewSeenIDWindow(0, 0, nil)
	assert.NoError(t, w.Observe(json.RawMessage(`1`)))
	assert.NoError(t, w.Observe(json.RawMessage(`1`)))
}
