package gateway

import (
	stan "github.com/nats-io/stan.go"
	"github.com/rs/zerolog"
	msgpack "github.com/vmihailenco/msgpack/v5"

	"github.com/sandwich-labs/gatewaycore/events"
)

// Stream publishes dispatched gateway events onto a NATS Streaming
// channel as msgpack-encoded StreamEvent envelopes, so that consumer
// processes (caches, bots, dashboards) never need to speak the
// gateway protocol themselves.
type Stream struct {
	conn      stan.Conn
	channel   string
	blacklist map[string]void
	log       zerolog.Logger
}

// NewStream wires a Stream to an already-connected STAN client.
func NewStream(conn stan.Conn, channel string, blacklist map[string]void, log zerolog.Logger) *Stream {
	if blacklist == nil {
		blacklist = make(map[string]void)
	}
	return &Stream{conn: conn, channel: channel, blacklist: blacklist, log: log}
}

// Publish encodes and publishes one dispatch, unless eventType is on
// the produce blacklist.
func (s *Stream) Publish(eventType string, data interface{}) {
	if s == nil || s.conn == nil {
		return
	}
	if _, blocked := s.blacklist[eventType]; blocked {
		return
	}

	payload, err := msgpack.Marshal(events.StreamEvent{Type: eventType, Data: data})
	if err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("stream: failed to encode event")
		return
	}

	if err := s.conn.Publish(s.channel, payload); err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("stream: failed to publish event")
	}
}
