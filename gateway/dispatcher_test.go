package gateway

import (
	encjson "encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandwich-labs/gatewaycore/events"
)

type noopCacheTimeout struct{ calls int }

func (n *noopCacheTimeout) Timeout(lastSequence int64) { n.calls++ }

func newTestDispatcher(registry *events.Registry, seq *int64, cb DispatcherCallbacks) *Dispatcher {
	return NewDispatcher(registry, nil, cb, seq, zerolog.Nop())
}

func TestDispatcherSequenceMonotonic(t *testing.T) {
	registry := events.NewRegistry()
	var seq int64 = 10

	d := newTestDispatcher(registry, &seq, DispatcherCallbacks{})

	frame := []byte(`{"op":0,"t":"MESSAGE_CREATE","s":42,"d":{}}`)
	require.NoError(t, d.Dispatch(frame))
	assert.Equal(t, int64(42), atomic.LoadInt64(&seq))

	// A lower sequence must never move last_sequence backwards.
	frame2 := []byte(`{"op":0,"t":"MESSAGE_CREATE","s":5,"d":{}}`)
	require.NoError(t, d.Dispatch(frame2))
	assert.Equal(t, int64(42), atomic.LoadInt64(&seq))

	frame3 := []byte(`{"op":0,"t":"MESSAGE_CREATE","s":43,"d":{}}`)
	require.NoError(t, d.Dispatch(frame3))
	assert.Equal(t, int64(43), atomic.LoadInt64(&seq))
}

func TestDispatcherRoutesToRegisteredHandler(t *testing.T) {
	registry := events.NewRegistry()
	var seq int64
	var gotSeq int64
	var gotRaw encjson.RawMessage

	registry.On("GUILD_CREATE", func(s int64, raw encjson.RawMessage) error {
		gotSeq = s
		gotRaw = raw
		return nil
	})

	d := newTestDispatcher(registry, &seq, DispatcherCallbacks{})

	frame := []byte(`{"op":0,"t":"GUILD_CREATE","s":7,"d":{"id":"123"}}`)
	require.NoError(t, d.Dispatch(frame))

	assert.Equal(t, int64(7), gotSeq)
	assert.JSONEq(t, `{"id":"123"}`, string(gotRaw))
}

func TestDispatcherPresencesReplaceFansOut(t *testing.T) {
	registry := events.NewRegistry()
	var seq int64
	var count int

	registry.On("PRESENCE_UPDATE", func(s int64, raw encjson.RawMessage) error {
		count++
		return nil
	})

	d := newTestDispatcher(registry, &seq, DispatcherCallbacks{})

	frame := []byte(`{"op":0,"t":"PRESENCES_REPLACE","s":1,"d":[{"user":{"id":"1"}},{"user":{"id":"2"}}]}`)
	require.NoError(t, d.Dispatch(frame))

	assert.Equal(t, 2, count)
}

func TestDispatcherHelloCallback(t *testing.T) {
	registry := events.NewRegistry()
	var seq int64
	var gotInterval time.Duration

	d := newTestDispatcher(registry, &seq, DispatcherCallbacks{
		OnHello: func(interval time.Duration) { gotInterval = interval },
	})

	frame := []byte(`{"op":10,"d":{"heartbeat_interval":41250}}`)
	require.NoError(t, d.Dispatch(frame))

	assert.Equal(t, 41250*time.Millisecond, gotInterval)
}

func TestDispatcherHandlerExceptionInvokesCallback(t *testing.T) {
	registry := events.NewRegistry()
	var seq int64
	var gotErr error
	var gotEvent string

	registry.On("MESSAGE_CREATE", func(s int64, raw encjson.RawMessage) error {
		return assert.AnError
	})

	d := newTestDispatcher(registry, &seq, DispatcherCallbacks{
		OnHandlerException: func(err error, event string, frame []byte) {
			gotErr = err
			gotEvent = event
		},
	})

	frame := []byte(`{"op":0,"t":"MESSAGE_CREATE","s":1,"d":{}}`)
	require.NoError(t, d.Dispatch(frame))

	assert.Equal(t, assert.AnError, gotErr)
	assert.Equal(t, "MESSAGE_CREATE", gotEvent)
}

func TestDispatcherTimeoutFiresAfterThreshold(t *testing.T) {
	registry := events.NewRegistry()
	var seq int64
	cache := &noopCacheTimeout{}

	d := NewDispatcher(registry, cache, DispatcherCallbacks{}, &seq, zerolog.Nop())

	frame := []byte(`{"op":0,"t":"MESSAGE_CREATE","s":1,"d":{}}`)
	for i := 0; i < timeoutAmount; i++ {
		require.NoError(t, d.Dispatch(frame))
	}

	assert.Equal(t, 1, cache.calls)
}
