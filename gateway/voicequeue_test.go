package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestVoiceQueueCoalescingTable(t *testing.T) {
	cases := []struct {
		name  string
		apply func(q *VoiceQueue)
		stage VoiceStage
		chID  string
	}{
		{
			name: "absent connect",
			apply: func(q *VoiceQueue) {
				q.QueueConnect("g", "ch1")
			},
			stage: VoiceConnect,
			chID:  "ch1",
		},
		{
			name: "connect then connect updates channel",
			apply: func(q *VoiceQueue) {
				q.QueueConnect("g", "ch1")
				q.QueueConnect("g", "ch2")
			},
			stage: VoiceConnect,
			chID:  "ch2",
		},
		{
			name: "connect then reconnect",
			apply: func(q *VoiceQueue) {
				q.QueueConnect("g", "ch1")
				q.QueueReconnect("g")
			},
			stage: VoiceReconnect,
		},
		{
			name: "connect then disconnect",
			apply: func(q *VoiceQueue) {
				q.QueueConnect("g", "ch1")
				q.QueueDisconnect("g")
			},
			stage: VoiceDisconnect,
		},
		{
			name: "reconnect then connect stays reconnect",
			apply: func(q *VoiceQueue) {
				q.QueueReconnect("g")
				q.QueueConnect("g", "ch2")
			},
			stage: VoiceReconnect,
			chID:  "ch2",
		},
		{
			name: "reconnect then disconnect",
			apply: func(q *VoiceQueue) {
				q.QueueReconnect("g")
				q.QueueDisconnect("g")
			},
			stage: VoiceDisconnect,
		},
		{
			name: "disconnect then connect becomes reconnect",
			apply: func(q *VoiceQueue) {
				q.QueueDisconnect("g")
				q.QueueConnect("g", "ch2")
			},
			stage: VoiceReconnect,
			chID:  "ch2",
		},
		{
			name: "disconnect then reconnect",
			apply: func(q *VoiceQueue) {
				q.QueueDisconnect("g")
				q.QueueReconnect("g")
			},
			stage: VoiceReconnect,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			q := NewVoiceQueue(nil, nil)
			c.apply(q)

			req, ok := q.requests["g"]
			require.True(t, ok)
			assert.Equal(t, c.stage, req.Stage)
			if c.chID != "" {
				assert.Equal(t, c.chID, req.ChannelID)
			}
		})
	}
}

// TestVoiceQueueScenarioConnectDisconnectConnect mirrors the worked
// scenario: queue_connect(ch1), queue_disconnect(g), queue_connect(ch2)
// yields stage RECONNECT with channel ch2.
func TestVoiceQueueScenarioConnectDisconnectConnect(t *testing.T) {
	q := NewVoiceQueue(nil, nil)

	q.QueueConnect("g", "ch1")
	q.QueueDisconnect("g")
	q.QueueConnect("g", "ch2")

	req, ok := q.requests["g"]
	require.True(t, ok)
	assert.Equal(t, VoiceReconnect, req.Stage)
	assert.Equal(t, "ch2", req.ChannelID)
}

func TestVoiceQueueUpdateDisconnectConfirmed(t *testing.T) {
	q := NewVoiceQueue(nil, nil)
	q.QueueDisconnect("g")

	req, ok := q.Update("g", nil)
	require.True(t, ok)
	assert.Equal(t, VoiceDisconnect, req.Stage)
	assert.Equal(t, 0, q.Len())
}

func TestVoiceQueueUpdateReconnectFoldsToConnect(t *testing.T) {
	q := NewVoiceQueue(nil, nil)
	q.QueueReconnect("g")

	req, ok := q.Update("g", nil)
	assert.False(t, ok)
	assert.Nil(t, req)

	pending, ok := q.requests["g"]
	require.True(t, ok)
	assert.Equal(t, VoiceConnect, pending.Stage)
	assert.LessOrEqual(t, pending.NextAttemptAtMs, q.nowMs())
}

func TestVoiceQueueUpdateConnectConfirmed(t *testing.T) {
	q := NewVoiceQueue(nil, nil)
	q.QueueConnect("g", "ch1")

	req, ok := q.Update("g", strPtr("ch1"))
	require.True(t, ok)
	assert.Equal(t, "ch1", req.ChannelID)
	assert.Equal(t, 0, q.Len())
}

func TestVoiceQueueUpdateNoPendingRequest(t *testing.T) {
	q := NewVoiceQueue(nil, nil)

	req, ok := q.Update("g", nil)
	assert.False(t, ok)
	assert.Nil(t, req)
}

type fakeChecker struct {
	guildExists   map[string]bool
	channelExists map[string]bool
	canConnect    map[string]bool
}

func (f *fakeChecker) GuildExists(guildID string) bool { return f.guildExists[guildID] }
func (f *fakeChecker) ChannelExists(guildID, channelID string) bool {
	return f.channelExists[guildID+":"+channelID]
}
func (f *fakeChecker) CanConnect(guildID, channelID string) bool {
	return f.canConnect[guildID+":"+channelID]
}

func TestVoiceQueueNextReadySkipsFutureAttempts(t *testing.T) {
	q := NewVoiceQueue(nil, nil)
	q.QueueConnect("g", "ch1")
	q.requests["g"].NextAttemptAtMs = q.nowMs() + 60_000

	_, ok := q.NextReady()
	assert.False(t, ok)
}

func TestVoiceQueueNextReadyRemovesWhenGuildGone(t *testing.T) {
	checker := &fakeChecker{guildExists: map[string]bool{}}
	q := NewVoiceQueue(checker, nil)
	q.QueueConnect("g", "ch1")

	_, ok := q.NextReady()
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

func TestVoiceQueueNextReadyReturnsEligibleConnect(t *testing.T) {
	checker := &fakeChecker{
		guildExists:   map[string]bool{"g": true},
		channelExists: map[string]bool{"g:ch1": true},
		canConnect:    map[string]bool{"g:ch1": true},
	}
	q := NewVoiceQueue(checker, nil)
	q.QueueConnect("g", "ch1")

	req, ok := q.NextReady()
	require.True(t, ok)
	assert.Equal(t, "ch1", req.ChannelID)
	// the sent request stays queued until Update() confirms it.
	assert.Equal(t, 1, q.Len())
}

func TestVoiceQueueNextReadyDisconnectSkipsEligibilityChecks(t *testing.T) {
	checker := &fakeChecker{}
	q := NewVoiceQueue(checker, nil)
	q.QueueDisconnect("g")

	req, ok := q.NextReady()
	require.True(t, ok)
	assert.Equal(t, VoiceDisconnect, req.Stage)
	// still queued: only Update() removes a sent-but-unconfirmed request.
	assert.Equal(t, 1, q.Len())
}

// TestVoiceQueueNextReadyStaysQueuedUntilUpdateConfirms exercises the
// full send/confirm cycle: next_ready() must leave the request in the
// table so a later tick would pick it up again if the server never
// confirms, and only update() removes it once confirmed.
func TestVoiceQueueNextReadyStaysQueuedUntilUpdateConfirms(t *testing.T) {
	checker := &fakeChecker{
		guildExists:   map[string]bool{"g": true},
		channelExists: map[string]bool{"g:ch1": true},
		canConnect:    map[string]bool{"g:ch1": true},
	}
	q := NewVoiceQueue(checker, nil)
	q.QueueConnect("g", "ch1")

	req, ok := q.NextReady()
	require.True(t, ok)
	assert.Equal(t, "ch1", req.ChannelID)
	require.Equal(t, 1, q.Len())

	// a second tick before confirmation sees the same still-pending request.
	again, ok := q.NextReady()
	require.True(t, ok)
	assert.Equal(t, "ch1", again.ChannelID)
	require.Equal(t, 1, q.Len())

	confirmed, ok := q.Update("g", strPtr("ch1"))
	require.True(t, ok)
	assert.Equal(t, "ch1", confirmed.ChannelID)
	assert.Equal(t, 0, q.Len())
}
