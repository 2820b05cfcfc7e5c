package gateway

import (
	"sync"
	"time"

	"github.com/sandwich-labs/gatewaycore/events"
)

// VoiceStage is the coalesced state of a single guild's pending voice
// connection request.
type VoiceStage int

// Voice request stages, per the coalescing table in the data model.
const (
	VoiceConnect VoiceStage = iota
	VoiceReconnect
	VoiceDisconnect
)

// VoiceRequest is a single guild's pending audio-connection intent.
// At most one VoiceRequest ever exists per guild.
type VoiceRequest struct {
	GuildID         string
	ChannelID       string
	Stage           VoiceStage
	NextAttemptAtMs int64
}

// GuildPermissionChecker lets the voice queue ask the borrowed entity
// cache whether a guild/channel still exists and whether the bot can
// still connect to it, without the queue knowing anything about cache
// internals.
type GuildPermissionChecker interface {
	GuildExists(guildID string) bool
	ChannelExists(guildID, channelID string) bool
	CanConnect(guildID, channelID string) bool
}

// VoiceQueue is the per-guild coalescing state machine for audio
// connect/reconnect/disconnect requests described in component 4.D.
// It holds at most one VoiceRequest per guild, guarded by its own
// mutex; it does not share the lock of the sender's general/chunk
// queues.
type VoiceQueue struct {
	mu       sync.Mutex
	requests map[string]*VoiceRequest
	checker  GuildPermissionChecker
	listener events.VoiceConnectionListener
	now      func() time.Time
}

// NewVoiceQueue creates an empty voice queue. checker and listener may
// be nil in tests that don't exercise next_ready's eligibility checks.
func NewVoiceQueue(checker GuildPermissionChecker, listener events.VoiceConnectionListener) *VoiceQueue {
	return &VoiceQueue{
		requests: make(map[string]*VoiceRequest),
		checker:  checker,
		listener: listener,
		now:      time.Now,
	}
}

func (q *VoiceQueue) nowMs() int64 {
	return q.now().UnixNano() / int64(time.Millisecond)
}

// coalesce applies the old x new -> resulting stage table from the
// data model.
func coalesce(old *VoiceRequest, new VoiceStage, channelID string) VoiceStage {
	if old == nil {
		return new
	}
	switch old.Stage {
	case VoiceConnect:
		if new == VoiceConnect {
			return VoiceConnect
		}
		return new
	case VoiceReconnect, VoiceDisconnect:
		if new == VoiceDisconnect {
			return VoiceDisconnect
		}
		return VoiceReconnect
	}
	return new
}

func (q *VoiceQueue) upsert(guildID, channelID string, stage VoiceStage) {
	q.mu.Lock()
	defer q.mu.Unlock()

	old := q.requests[guildID]
	result := coalesce(old, stage, channelID)

	req := &VoiceRequest{
		GuildID:         guildID,
		ChannelID:       channelID,
		Stage:           result,
		NextAttemptAtMs: q.nowMs(),
	}
	if old != nil && result == VoiceConnect && stage == VoiceConnect {
		// CONNECT coalesced onto an existing CONNECT: the channel is updated.
		req.ChannelID = channelID
	} else if old != nil && stage != VoiceConnect {
		// reconnect/disconnect requests carry no new channel target.
		req.ChannelID = old.ChannelID
	}
	q.requests[guildID] = req
}

// QueueConnect requests a connection to channelID in guildID.
func (q *VoiceQueue) QueueConnect(guildID, channelID string) {
	q.upsert(guildID, channelID, VoiceConnect)
}

// QueueReconnect requests a reconnect for guildID.
func (q *VoiceQueue) QueueReconnect(guildID string) {
	q.upsert(guildID, "", VoiceReconnect)
}

// QueueDisconnect requests a disconnect for guildID.
func (q *VoiceQueue) QueueDisconnect(guildID string) {
	q.upsert(guildID, "", VoiceDisconnect)
}

// Remove unconditionally drops and returns any pending request for guildID.
func (q *VoiceQueue) Remove(guildID string) (*VoiceRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.requests[guildID]
	if ok {
		delete(q.requests, guildID)
	}
	return req, ok
}

// Update is the response-ingestion step driven by an inbound
// VOICE_STATE_UPDATE for our own session: connectedChannel is the
// channel ID the server now reports us connected to, or nil if the
// server reports us disconnected.
func (q *VoiceQueue) Update(guildID string, connectedChannel *string) (*VoiceRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.requests[guildID]
	if !ok {
		return nil, false
	}

	if connectedChannel == nil {
		switch req.Stage {
		case VoiceDisconnect:
			delete(q.requests, guildID)
			return req, true
		case VoiceReconnect:
			req.Stage = VoiceConnect
			req.NextAttemptAtMs = q.nowMs()
			return nil, false
		default:
			return nil, false
		}
	}

	if req.Stage == VoiceConnect && *connectedChannel == req.ChannelID {
		delete(q.requests, guildID)
		return req, true
	}

	return nil, false
}

// NextReady iterates the table and returns the first request that is
// eligible to be sent as a VOICE_STATE_UPDATE right now, applying the
// three eligibility checks to non-DISCONNECT requests along the way.
// It is only meaningful to call once the gateway session is READY.
func (q *VoiceQueue) NextReady() (*VoiceRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.nowMs()
	for guildID, req := range q.requests {
		if req.NextAttemptAtMs > now {
			continue
		}

		if req.Stage == VoiceDisconnect {
			return req, true
		}

		if q.checker != nil {
			if !q.checker.GuildExists(guildID) {
				delete(q.requests, guildID)
				q.notify(guildID, events.VoiceRemovedFromGuild)
				continue
			}
			if !q.checker.ChannelExists(guildID, req.ChannelID) {
				delete(q.requests, guildID)
				q.notify(guildID, events.VoiceChannelDeleted)
				continue
			}
			if !q.checker.CanConnect(guildID, req.ChannelID) {
				delete(q.requests, guildID)
				q.notify(guildID, events.VoiceLostPermission)
				continue
			}
		}

		return req, true
	}

	return nil, false
}

func (q *VoiceQueue) notify(guildID string, reason events.VoiceCloseReason) {
	if q.listener != nil {
		q.listener.OnVoiceConnectionClosed(guildID, reason)
	}
}

// GuildIDs returns every guild with a pending voice request, a
// snapshot used by the reconnect path to reconcile against the
// refreshed guild list.
func (q *VoiceQueue) GuildIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]string, 0, len(q.requests))
	for guildID := range q.requests {
		ids = append(ids, guildID)
	}
	return ids
}

// Len reports how many guilds currently have a pending request; used to
// check the "table size <= number of live guilds" invariant in tests.
func (q *VoiceQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests)
}
