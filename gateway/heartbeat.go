package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sandwich-labs/gatewaycore/events"
)

// HeartbeatScheduler is component 4.E: it fires a HEARTBEAT carrying
// the session's current sequence every interval, starting immediately
// once Start is called, and is torn down on every disconnect and
// rebuilt fresh from the next HELLO.
type HeartbeatScheduler struct {
	interval time.Duration
	sender   *Sender
	seq      *int64
	log      zerolog.Logger

	onAck func(rtt time.Duration)

	mu       sync.Mutex
	sentAt   time.Time
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHeartbeatScheduler builds a scheduler for the given interval. seq
// must point at the session's last-sequence counter so every beat
// reads the freshest value. onAck is invoked with the measured RTT
// whenever a HEARTBEAT_ACK arrives.
func NewHeartbeatScheduler(interval time.Duration, sender *Sender, seq *int64, onAck func(time.Duration), log zerolog.Logger) *HeartbeatScheduler {
	return &HeartbeatScheduler{
		interval: interval,
		sender:   sender,
		seq:      seq,
		log:      log,
		onAck:    onAck,
		stop:     make(chan struct{}),
	}
}

// Start begins firing heartbeats on a background goroutine, sending
// the first one immediately.
func (h *HeartbeatScheduler) Start() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		h.beat()

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				h.beat()
			}
		}
	}()
}

func (h *HeartbeatScheduler) beat() {
	h.mu.Lock()
	h.sentAt = time.Now()
	h.mu.Unlock()

	seq := atomic.LoadInt64(h.seq)
	if err := h.sender.SendPriority(events.SentPayload{Op: events.OpHeartbeat, Data: seq}); err != nil {
		h.log.Warn().Err(err).Msg("heartbeat: failed to send")
	}
}

// Beat sends an immediate out-of-cycle heartbeat, used when the server
// sends us an op 1.
func (h *HeartbeatScheduler) Beat() { h.beat() }

// Ack reports a HEARTBEAT_ACK arriving, computing RTT from the last
// send and forwarding it to onAck.
func (h *HeartbeatScheduler) Ack() {
	h.mu.Lock()
	sentAt := h.sentAt
	h.mu.Unlock()

	if sentAt.IsZero() {
		return
	}

	rtt := time.Since(sentAt)
	if h.onAck != nil {
		h.onAck(rtt)
	}
}

// Stop cancels the scheduler. Safe to call more than once.
func (h *HeartbeatScheduler) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	h.wg.Wait()
}
