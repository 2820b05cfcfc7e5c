package events

import (
	"encoding/json"
	"time"
)

// ReceivedPayload is the envelope every inbound gateway frame is decoded
// into before being handed to the dispatcher.
type ReceivedPayload struct {
	Op   GatewayOp       `json:"op"`
	Data json.RawMessage `json:"d"`
	Seq  int64           `json:"s"`
	Type string          `json:"t"`
}

// SentPayload is the envelope every outbound gateway frame is wrapped in.
type SentPayload struct {
	Op   GatewayOp   `json:"op"`
	Data interface{} `json:"d"`
}

// Hello is the payload of an OpHello frame.
type Hello struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
}

// IdentifyProperties describes the connecting client to Discord.
type IdentifyProperties struct {
	OS              string `json:"$os"`
	Browser         string `json:"$browser"`
	Device          string `json:"$device"`
	Referrer        string `json:"$referrer"`
	ReferringDomain string `json:"$referring_domain"`
}

// Identify is the payload of an OpIdentify frame.
type Identify struct {
	Token          string               `json:"token"`
	Properties     *IdentifyProperties  `json:"properties"`
	Version        int                  `json:"v"`
	LargeThreshold int                  `json:"large_threshold"`
	Presence       interface{}          `json:"presence,omitempty"`
	Shard          *[2]int              `json:"shard,omitempty"`
	Compress       bool                 `json:"compress,omitempty"`
	Intents        int                  `json:"intents,omitempty"`
	GuildSubs      *bool                `json:"guild_subscriptions,omitempty"`
}

// Resume is the payload of an OpResume frame.
type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// VoiceStateUpdateData is the payload of an OpVoiceStateUpdate frame.
type VoiceStateUpdateData struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

// RequestGuildMembersData is the payload of an OpRequestGuildMembers frame.
type RequestGuildMembersData struct {
	GuildID string `json:"guild_id"`
	Query   string `json:"query"`
	Limit   int    `json:"limit"`
}

// InvalidSession is the payload of an OpInvalidSession frame; true if the
// session is still resumable.
type InvalidSession bool

// Ready is the payload of a READY dispatch.
type Ready struct {
	Version  int    `json:"v"`
	SessionID string `json:"session_id"`
}

// PresenceUpdateData is the optional `presence` field of an IDENTIFY
// payload, describing the initial status the session should appear
// with.
type PresenceUpdateData struct {
	IdleSince *int   `json:"since"`
	Game      *Game  `json:"game"`
	AFK       bool   `json:"afk"`
	Status    string `json:"status"`
}

// Game is the "playing ..." activity attached to a presence update.
type Game struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	URL  string `json:"url,omitempty"`
}

// GatewayBot is the decoded response of a GET /gateway/bot REST call.
type GatewayBot struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// SessionStartLimit is the session_start_limit object of GatewayBot.
type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

// StreamEvent is the envelope every dispatch is wrapped in before
// being published to the distributed event stream.
type StreamEvent struct {
	Type string      `msgpack:"i"`
	Data interface{} `msgpack:"d"`
}
