package handlers

import (
	encjson "encoding/json"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/sandwich-labs/gatewaycore/events"
	"github.com/sandwich-labs/gatewaycore/gateway"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonRaw matches events.Handler's raw-frame parameter type exactly so
// these methods satisfy events.Handler by value, without a wrapping
// closure at registration time.
type jsonRaw = encjson.RawMessage

// Registrar owns the wiring between decoded gateway events, the entity
// cache and the distributed stream. RegisterAll attaches its methods
// to a handler registry; the gateway core never imports this package.
type Registrar struct {
	Manager *gateway.Manager
	Cache   *Cache
	log     zerolog.Logger
}

// NewRegistrar builds a Registrar over an already-constructed manager
// and cache.
func NewRegistrar(manager *gateway.Manager, cache *Cache, log zerolog.Logger) *Registrar {
	return &Registrar{Manager: manager, Cache: cache, log: log}
}

// RegisterAll attaches every handler this package implements to
// registry.
func (r *Registrar) RegisterAll(registry *events.Registry) {
	registry.On("READY", r.handleReady)
	registry.On("GUILD_CREATE", r.handleGuildCreate)
	registry.On("GUILD_DELETE", r.handleGuildDelete)
	registry.On("CHANNEL_CREATE", r.handleChannelCreate)
	registry.On("CHANNEL_DELETE", r.handleChannelDelete)
	registry.On("GUILD_MEMBER_ADD", r.handleGuildMemberAdd)
	registry.On("GUILD_MEMBER_REMOVE", r.handleGuildMemberRemove)
	registry.On("MESSAGE_CREATE", r.handleMessageCreate)
	registry.On("VOICE_STATE_UPDATE", r.handleVoiceStateUpdate)
}

type readyPayload struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	SessionID string `json:"session_id"`
}

func (r *Registrar) handleReady(seq int64, raw jsonRaw) error {
	var payload readyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	r.Cache.BotUserID = payload.User.ID
	r.Manager.Stream.Publish("READY", payload)
	return nil
}

func (r *Registrar) handleGuildCreate(seq int64, raw jsonRaw) error {
	guild := new(Guild)
	if err := json.Unmarshal(raw, guild); err != nil {
		return err
	}
	for _, member := range guild.Members {
		member.GuildID = guild.ID
	}
	if err := r.Cache.SaveGuild(guild); err != nil {
		r.log.Warn().Err(err).Str("guild_id", guild.ID).Msg("failed to save guild")
	}
	for _, channel := range guild.Channels {
		channel.GuildID = guild.ID
		if err := r.Cache.SaveChannel(channel); err != nil {
			r.log.Warn().Err(err).Str("channel_id", channel.ID).Msg("failed to save channel")
		}
	}
	for _, member := range guild.Members {
		if err := r.Cache.SaveMember(member); err != nil {
			r.log.Warn().Err(err).Str("guild_id", guild.ID).Msg("failed to save member")
		}
	}
	r.Manager.Stream.Publish("GUILD_CREATE", guild)
	return nil
}

func (r *Registrar) handleGuildDelete(seq int64, raw jsonRaw) error {
	unavailable := new(UnavailableGuild)
	if err := json.Unmarshal(raw, unavailable); err != nil {
		return err
	}
	if !unavailable.Unavailable {
		if err := r.Cache.DeleteGuild(unavailable.ID); err != nil {
			r.log.Warn().Err(err).Str("guild_id", unavailable.ID).Msg("failed to delete guild")
		}
	}
	r.Manager.Stream.Publish("GUILD_DELETE", unavailable)
	return nil
}

func (r *Registrar) handleChannelCreate(seq int64, raw jsonRaw) error {
	channel := new(Channel)
	if err := json.Unmarshal(raw, channel); err != nil {
		return err
	}
	if err := r.Cache.SaveChannel(channel); err != nil {
		r.log.Warn().Err(err).Str("channel_id", channel.ID).Msg("failed to save channel")
	}
	r.Manager.Stream.Publish("CHANNEL_CREATE", channel)
	return nil
}

func (r *Registrar) handleChannelDelete(seq int64, raw jsonRaw) error {
	channel := new(Channel)
	if err := json.Unmarshal(raw, channel); err != nil {
		return err
	}
	if err := r.Cache.DeleteChannel(channel.ID); err != nil {
		r.log.Warn().Err(err).Str("channel_id", channel.ID).Msg("failed to delete channel")
	}
	r.Manager.Stream.Publish("CHANNEL_DELETE", channel)
	return nil
}

func (r *Registrar) handleGuildMemberAdd(seq int64, raw jsonRaw) error {
	member := new(Member)
	if err := json.Unmarshal(raw, member); err != nil {
		return err
	}
	if err := r.Cache.SaveMember(member); err != nil {
		r.log.Warn().Err(err).Str("guild_id", member.GuildID).Msg("failed to save member")
	}
	r.Manager.Stream.Publish("GUILD_MEMBER_ADD", member)
	return nil
}

type guildMemberRemovePayload struct {
	GuildID string `json:"guild_id"`
	User    User   `json:"user"`
}

func (r *Registrar) handleGuildMemberRemove(seq int64, raw jsonRaw) error {
	var payload guildMemberRemovePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if err := r.Cache.DeleteMember(payload.GuildID, payload.User.ID); err != nil {
		r.log.Warn().Err(err).Str("guild_id", payload.GuildID).Msg("failed to delete member")
	}
	r.Manager.Stream.Publish("GUILD_MEMBER_REMOVE", payload)
	return nil
}

func (r *Registrar) handleMessageCreate(seq int64, raw jsonRaw) error {
	message := new(Message)
	if err := json.Unmarshal(raw, message); err != nil {
		return err
	}
	r.Manager.Stream.Publish("MESSAGE_CREATE", message)
	return nil
}

type voiceStateUpdatePayload struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	UserID    string  `json:"user_id"`
}

// handleVoiceStateUpdate publishes the reported voice state and, when
// it names the bot's own user, feeds the owning shard's voice queue via
// Session.IngestVoiceStateUpdate so component 4.D's update() runs. It
// does not write the voice state to the cache.
func (r *Registrar) handleVoiceStateUpdate(seq int64, raw jsonRaw) error {
	var payload voiceStateUpdatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}

	if payload.UserID == r.Cache.BotUserID && payload.GuildID != "" {
		if session, ok := r.sessionForGuild(payload.GuildID); ok {
			session.IngestVoiceStateUpdate(payload.GuildID, payload.ChannelID)
		}
	}

	r.Manager.Stream.Publish("VOICE_STATE_UPDATE", payload)
	return nil
}

// sessionForGuild resolves the shard owning guildID using Discord's
// snowflake sharding formula: shard_id = (guild_id >> 22) % shard_count.
func (r *Registrar) sessionForGuild(guildID string) (*gateway.Session, bool) {
	id, err := strconv.ParseUint(guildID, 10, 64)
	if err != nil || r.Manager.Gateway == nil {
		return nil, false
	}
	shardCount := r.Manager.Configuration.ShardCount
	if shardCount <= 0 {
		shardCount = 1
	}
	shardID := int((id >> 22) % uint64(shardCount))
	return r.Manager.SessionForShard(shardID)
}
