package gateway

import (
	encjson "encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sandwich-labs/gatewaycore/events"
)

// timeoutAmount is the external constant named in the inbound
// dispatcher design: every this-many dispatches, the borrowed entity
// cache is asked to expire deferred lookups.
const timeoutAmount = 5000

// EntityCacheTimeout is the narrow slice of the borrowed entity cache
// the dispatcher needs: the ability to expire deferred lookups once in
// a while. Anything else a handler needs it reaches through its own
// closure, never through the gateway core.
type EntityCacheTimeout interface {
	Timeout(lastSequence int64)
}

// DispatcherCallbacks are the lifecycle hooks the connection state
// machine supplies so the dispatcher never needs to import it.
type DispatcherCallbacks struct {
	OnHello              func(heartbeatInterval time.Duration)
	OnHeartbeatTrigger   func()
	OnHeartbeatAck       func()
	OnReconnectRequested func()
	OnInvalidateSession  func(resumable bool)
	OnReady              func(sessionID string)
	OnResumed            func()
	OnHandlerException   func(err error, event string, frame []byte)
}

// Dispatcher is component 4.F: it demultiplexes inbound frames by
// opcode, routes DISPATCH frames to the handler registry by event
// name, and forwards lifecycle opcodes to the connection state
// machine via callbacks.
type Dispatcher struct {
	registry  *events.Registry
	cache     EntityCacheTimeout
	callbacks DispatcherCallbacks
	log       zerolog.Logger

	rawEventsEnabled bool
	rawHandler       events.Handler

	lastSequence *int64
	dispatches   int64
}

// NewDispatcher builds a dispatcher over the given handler registry.
// seq must be the session's shared last-sequence counter.
func NewDispatcher(registry *events.Registry, cache EntityCacheTimeout, callbacks DispatcherCallbacks, seq *int64, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry:     registry,
		cache:        cache,
		callbacks:    callbacks,
		lastSequence: seq,
		log:          log,
	}
}

// EnableRawEvents arms a sink that receives every dispatch frame,
// unaltered, after its handler has run.
func (d *Dispatcher) EnableRawEvents(h events.Handler) {
	d.rawEventsEnabled = true
	d.rawHandler = h
}

// Dispatch processes one complete decompressed JSON text.
func (d *Dispatcher) Dispatch(text []byte) error {
	var payload events.ReceivedPayload
	if err := json.Unmarshal(text, &payload); err != nil {
		d.log.Warn().Err(err).Msg("dispatcher: failed to decode frame")
		return err
	}

	switch payload.Op {
	case events.OpDispatch:
		d.handleDispatch(payload)
	case events.OpHeartbeat:
		if d.callbacks.OnHeartbeatTrigger != nil {
			d.callbacks.OnHeartbeatTrigger()
		}
	case events.OpReconnect:
		if d.callbacks.OnReconnectRequested != nil {
			d.callbacks.OnReconnectRequested()
		}
	case events.OpInvalidSession:
		var resumable events.InvalidSession
		_ = json.Unmarshal(payload.Data, &resumable)
		if d.callbacks.OnInvalidateSession != nil {
			d.callbacks.OnInvalidateSession(bool(resumable))
		}
	case events.OpHello:
		var hello events.Hello
		if err := json.Unmarshal(payload.Data, &hello); err != nil {
			d.log.Warn().Err(err).Msg("dispatcher: failed to decode hello")
			return nil
		}
		if d.callbacks.OnHello != nil {
			d.callbacks.OnHello(hello.HeartbeatInterval * time.Millisecond)
		}
	case events.OpHeartbeatAck:
		if d.callbacks.OnHeartbeatAck != nil {
			d.callbacks.OnHeartbeatAck()
		}
	default:
		d.log.Debug().Int("op", int(payload.Op)).Msg("dispatcher: dropping unhandled opcode")
	}

	return nil
}

func (d *Dispatcher) handleDispatch(payload events.ReceivedPayload) {
	if payload.Seq > 0 {
		for {
			old := atomic.LoadInt64(d.lastSequence)
			if payload.Seq <= old {
				break
			}
			if atomic.CompareAndSwapInt64(d.lastSequence, old, payload.Seq) {
				break
			}
		}
	}

	switch payload.Type {
	case "READY":
		var ready events.Ready
		if err := json.Unmarshal(payload.Data, &ready); err != nil {
			d.log.Warn().Err(err).Msg("dispatcher: failed to decode READY")
			return
		}
		d.runHandler("READY", payload.Seq, payload.Data)
		if d.callbacks.OnReady != nil {
			d.callbacks.OnReady(ready.SessionID)
		}
	case "RESUMED":
		d.runHandler("RESUMED", payload.Seq, payload.Data)
		if d.callbacks.OnResumed != nil {
			d.callbacks.OnResumed()
		}
	case "PRESENCES_REPLACE":
		d.handlePresencesReplace(payload)
	default:
		d.runHandler(payload.Type, payload.Seq, payload.Data)
	}

	d.maybeTimeout()
	d.emitRaw(payload)
}

// handlePresencesReplace synthesises one PRESENCE_UPDATE frame per
// array element, since Discord sends the entire replacement list as a
// single array instead of individual dispatches.
func (d *Dispatcher) handlePresencesReplace(payload events.ReceivedPayload) {
	var presences []encjson.RawMessage
	if err := json.Unmarshal(payload.Data, &presences); err != nil {
		d.log.Warn().Err(err).Msg("dispatcher: failed to decode PRESENCES_REPLACE array")
		return
	}

	for _, presence := range presences {
		d.runHandler("PRESENCE_UPDATE", payload.Seq, presence)
	}
}

func (d *Dispatcher) runHandler(event string, seq int64, raw encjson.RawMessage) {
	handler, ok := d.registry.Lookup(event)
	if !ok {
		d.log.Debug().Str("event", event).Msg("dispatcher: no handler registered")
		return
	}

	if err := handler(seq, raw); err != nil {
		d.log.Error().Err(err).Str("event", event).RawJSON("frame", raw).Msg("dispatcher: handler returned an error")
		if d.callbacks.OnHandlerException != nil {
			d.callbacks.OnHandlerException(err, event, raw)
		}
	}
}

func (d *Dispatcher) maybeTimeout() {
	d.dispatches++
	if d.cache == nil || d.dispatches < timeoutAmount {
		return
	}
	d.dispatches = 0
	d.cache.Timeout(atomic.LoadInt64(d.lastSequence))
}

func (d *Dispatcher) emitRaw(payload events.ReceivedPayload) {
	if !d.rawEventsEnabled || d.rawHandler == nil {
		return
	}
	if err := d.rawHandler(payload.Seq, payload.Data); err != nil {
		d.log.Warn().Err(err).Str("event", payload.Type).Msg("dispatcher: raw event sink returned an error")
	}
}
