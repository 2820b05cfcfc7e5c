package gateway

import (
	encjson "encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandwich-labs/gatewaycore/events"
)

type fakeInvalidatableCache struct {
	cleared int
}

func (f *fakeInvalidatableCache) Timeout(lastSequence int64) {}
func (f *fakeInvalidatableCache) Clear()                     { f.cleared++ }

func newTestSession(manager *Manager, cache EntityCacheTimeout) *Session {
	s := &Session{
		Manager:    manager,
		ShardID:    3,
		ShardCount: 16,
		cache:      cache,
		log:        zerolog.Nop(),
		queues:     NewPriorityQueues(),
		status:     NewStatusCell(StatusConnecting),
	}
	s.voice = NewVoiceQueue(nil, events.VoiceConnectionListenerFunc(func(string, events.VoiceCloseReason) {}))
	return s
}

// TestIdentifyPayloadRoundTrip builds the IDENTIFY payload from a known
// token/shard/presence input and confirms it marshals and parses back to
// the same fields a server would see on the wire.
func TestIdentifyPayloadRoundTrip(t *testing.T) {
	presence := &events.PresenceUpdateData{Status: "online"}
	manager := &Manager{
		Token: "test-token",
		Configuration: Configuration{
			DefaultPresence: presence,
			Intents:         513,
		},
	}
	s := newTestSession(manager, nil)

	payload := s.identifyPayload()

	raw, err := encjson.Marshal(payload)
	require.NoError(t, err)

	var decoded events.Identify
	require.NoError(t, encjson.Unmarshal(raw, &decoded))

	assert.Equal(t, "test-token", decoded.Token)
	assert.Equal(t, 6, decoded.Version)
	assert.Equal(t, 250, decoded.LargeThreshold)
	assert.Equal(t, &[2]int{3, 16}, decoded.Shard)
	assert.Equal(t, 513, decoded.Intents)
}

func TestInvalidateIsIdempotent(t *testing.T) {
	cache := &fakeInvalidatableCache{}
	s := newTestSession(&Manager{}, cache)

	s.sessionID = "abc"
	s.authSent = true
	s.queues.PushChunk("pending-chunk-request")

	s.invalidate()

	assert.Empty(t, s.sessionID)
	assert.False(t, s.authSent)
	assert.Equal(t, 1, cache.cleared)
	_, hasChunk := s.queues.PopChunk()
	assert.False(t, hasChunk)

	// A second call must leave the same state; the cache's Clear runs
	// again, on a cache that is already empty.
	s.invalidate()

	assert.Empty(t, s.sessionID)
	assert.False(t, s.authSent)
	assert.Equal(t, 2, cache.cleared)
}
