package gateway

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/sandwich-labs/gatewaycore/events"
)

// pendingSlot names which of the sender's three tiers currently holds
// a dequeued-but-not-yet-sent payload, so a rate-limit denial never
// drops it and never reorders past it.
type pendingSlot int

const (
	slotNone pendingSlot = iota
	slotVoice
	slotChunk
	slotGeneral
)

// Sender is the single-writer task described in component 4.C. Every
// iteration it drains, in strict priority order, a ready voice state
// update, then one chunk/sync entry, then one general entry, gating
// each on the rate-limit bucket. Lifecycle and heartbeat code never
// call the socket directly; they call SendPriority, which uses the
// same underlying write primitive and the bucket's relaxed threshold.
type Sender struct {
	conn   *Connection
	bucket *RateLimitBucket
	queues *PriorityQueues
	voice  *VoiceQueue
	log    zerolog.Logger

	selfMute, selfDeaf bool

	wake     chan struct{}
	shutdown chan struct{}
	stopped  chan struct{}

	pending       pendingSlot
	pendingVoice  *VoiceRequest
	pendingChunk  string
	pendingGeneral string
}

// NewSender wires a sender loop to its connection, rate bucket, queues
// and voice queue.
func NewSender(conn *Connection, bucket *RateLimitBucket, queues *PriorityQueues, voice *VoiceQueue, log zerolog.Logger) *Sender {
	return &Sender{
		conn:     conn,
		bucket:   bucket,
		queues:   queues,
		voice:    voice,
		log:      log,
		wake:     make(chan struct{}, 1),
		shutdown: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Wake nudges the sender loop out of its idle park, e.g. after a push
// to one of the queues.
func (s *Sender) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Stop requests the sender loop exit after its current iteration.
func (s *Sender) Stop() {
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
}

// Stopped is closed once Run has returned.
func (s *Sender) Stopped() <-chan struct{} { return s.stopped }

// Run drains the three priority queues under the rate bucket until
// Stop is called. isReady reports whether the connection is currently
// authenticated (has an acknowledged READY/RESUMED); while false the
// loop parks without touching the socket.
func (s *Sender) Run(isReady func() bool) {
	defer close(s.stopped)

	for {
		if s.isShuttingDown() {
			return
		}

		if !isReady() {
			if s.park(50 * time.Millisecond) {
				return
			}
			continue
		}

		payload, slot, ok := s.fetchNext()
		if !ok {
			if s.park(50 * time.Millisecond) {
				return
			}
			continue
		}

		if !s.bucket.TrySend(false) {
			if s.park(s.bucket.WaitDuration()) {
				return
			}
			continue
		}

		if err := s.conn.WriteText(payload); err != nil {
			s.log.Warn().Err(err).Int("slot", int(slot)).Msg("sender: failed to write frame")
		}
		s.clearPending(slot)
	}
}

func (s *Sender) isShuttingDown() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

// park waits up to d for either shutdown or a wake signal, returning
// true if the caller should exit.
func (s *Sender) park(d time.Duration) bool {
	if d <= 0 {
		return s.isShuttingDown()
	}
	select {
	case <-s.shutdown:
		return true
	case <-s.wake:
		return false
	case <-time.After(d):
		return false
	}
}

func (s *Sender) fetchNext() (string, pendingSlot, bool) {
	if s.pending == slotVoice || (s.pending == slotNone && s.tryFetchVoice()) {
		return s.voicePayload(s.pendingVoice), slotVoice, true
	}
	if s.pending == slotChunk || (s.pending == slotNone && s.tryFetchChunk()) {
		return s.pendingChunk, slotChunk, true
	}
	if s.pending == slotGeneral || (s.pending == slotNone && s.tryFetchGeneral()) {
		return s.pendingGeneral, slotGeneral, true
	}
	return "", slotNone, false
}

func (s *Sender) tryFetchVoice() bool {
	req, ok := s.voice.NextReady()
	if !ok {
		return false
	}
	s.pendingVoice = req
	s.pending = slotVoice
	return true
}

func (s *Sender) tryFetchChunk() bool {
	v, ok := s.queues.PopChunk()
	if !ok {
		return false
	}
	s.pendingChunk = v
	s.pending = slotChunk
	return true
}

func (s *Sender) tryFetchGeneral() bool {
	v, ok := s.queues.PopGeneral()
	if !ok {
		return false
	}
	s.pendingGeneral = v
	s.pending = slotGeneral
	return true
}

func (s *Sender) clearPending(slot pendingSlot) {
	switch slot {
	case slotVoice:
		s.pendingVoice = nil
	case slotChunk:
		s.pendingChunk = ""
	case slotGeneral:
		s.pendingGeneral = ""
	}
	s.pending = slotNone
}

func (s *Sender) voicePayload(req *VoiceRequest) string {
	var channelID *string
	if req.Stage != VoiceDisconnect {
		channelID = &req.ChannelID
	}

	data, err := json.Marshal(events.SentPayload{
		Op: events.OpVoiceStateUpdate,
		Data: events.VoiceStateUpdateData{
			GuildID:   req.GuildID,
			ChannelID: channelID,
			SelfMute:  s.selfMute,
			SelfDeaf:  s.selfDeaf,
		},
	})
	if err != nil {
		s.log.Error().Err(err).Msg("sender: failed to marshal voice state update")
		return ""
	}
	return string(data)
}

// SendPriority sends a lifecycle message (heartbeat, identify, resume)
// directly, bypassing the three queues but still going through the
// bucket's relaxed priority threshold and the connection's single
// write primitive.
func (s *Sender) SendPriority(payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	for !s.bucket.TrySend(true) {
		time.Sleep(s.bucket.WaitDuration())
	}

	return s.conn.WriteText(string(data))
}
