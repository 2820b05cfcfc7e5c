// Package handlers implements the concrete per-event Discord entity
// decoding, Redis-backed caching and distributed re-publishing that the
// gateway core treats as an external collaborator through
// events.Registry, gateway.EntityCacheTimeout/EntityCacheInvalidator
// and gateway.GuildPermissionChecker.
package handlers

// Timestamp stores a timestamp, as sent by the Discord API.
type Timestamp string

// ChannelType is the type of a Channel.
type ChannelType int

// Known ChannelType values.
const (
	ChannelTypeGuildText ChannelType = iota
	ChannelTypeDM
	ChannelTypeGuildVoice
	ChannelTypeGroupDM
	ChannelTypeGuildCategory
	ChannelTypeGuildNews
	ChannelTypeGuildStore
)

// VerificationLevel is a guild's verification requirement.
type VerificationLevel int

// User stores the data for an individual Discord user.
type User struct {
	ID            string `json:"id" msgpack:"id"`
	Username      string `json:"username" msgpack:"username"`
	Avatar        string `json:"avatar" msgpack:"avatar"`
	Discriminator string `json:"discriminator" msgpack:"discriminator"`
	Bot           bool   `json:"bot" msgpack:"bot"`
}

// Member stores a user's presence in a guild.
type Member struct {
	GuildID      string    `json:"guild_id" msgpack:"guild_id"`
	UserID       string    `json:"-" msgpack:"user_id"`
	JoinedAt     Timestamp `json:"joined_at" msgpack:"joined_at"`
	Nick         string    `json:"nick" msgpack:"nick"`
	Deaf         bool      `json:"deaf" msgpack:"deaf"`
	Mute         bool      `json:"mute" msgpack:"mute"`
	User         *User     `json:"user" msgpack:"-"`
	Roles        []string  `json:"roles" msgpack:"roles"`
	PremiumSince Timestamp `json:"premium_since" msgpack:"premium_since"`
}

// UnavailableGuild is the payload of a GUILD_DELETE dispatch.
type UnavailableGuild struct {
	ID          string `json:"id" msgpack:"id"`
	Unavailable bool   `json:"unavailable" msgpack:"unavailable"`
}

// Guild holds the data related to a specific Discord guild.
type Guild struct {
	ID                string             `json:"id" msgpack:"id"`
	Name              string             `json:"name" msgpack:"name"`
	Icon              string             `json:"icon" msgpack:"icon"`
	OwnerID           string             `json:"owner_id" msgpack:"owner_id"`
	AfkChannelID      string             `json:"afk_channel_id" msgpack:"afk_channel_id"`
	AfkTimeout        int                `json:"afk_timeout" msgpack:"afk_timeout"`
	MemberCount       int                `json:"member_count" msgpack:"member_count"`
	VerificationLevel VerificationLevel  `json:"verification_level" msgpack:"verification_level"`
	Large             bool               `json:"large" msgpack:"large"`
	Roles             []*Role            `json:"roles" msgpack:"roles"`
	Emojis            []*Emoji           `json:"emojis" msgpack:"emojis"`
	Members           []*Member          `json:"members" msgpack:"-"`
	Channels          []*Channel         `json:"channels" msgpack:"channels"`
	Unavailable       bool               `json:"unavailable" msgpack:"unavailable"`
	VoiceStates       []*VoiceState      `json:"voice_states" msgpack:"-"`
}

// Channel holds the data related to an individual Discord channel.
type Channel struct {
	ID                   string                 `json:"id" msgpack:"id"`
	GuildID              string                 `json:"guild_id" msgpack:"guild_id"`
	Name                 string                 `json:"name" msgpack:"name"`
	Topic                string                 `json:"topic" msgpack:"topic,omitempty"`
	Type                 ChannelType            `json:"type" msgpack:"type"`
	Position             int                    `json:"position" msgpack:"position"`
	Bitrate              int                    `json:"bitrate" msgpack:"bitrate,omitempty"`
	ParentID             string                 `json:"parent_id" msgpack:"parent_id,omitempty"`
	PermissionOverwrites []*PermissionOverwrite `json:"permission_overwrites" msgpack:"permission_overwrites,omitempty"`
}

// PermissionOverwrite describes a permission override on a channel.
type PermissionOverwrite struct {
	ID    string `json:"id" msgpack:"id"`
	Type  string `json:"type" msgpack:"type"`
	Deny  int64  `json:"deny,string" msgpack:"deny"`
	Allow int64  `json:"allow,string" msgpack:"allow"`
}

// Role stores information about a Discord guild role.
type Role struct {
	ID          string `json:"id" msgpack:"id"`
	Name        string `json:"name" msgpack:"name"`
	Managed     bool   `json:"managed" msgpack:"managed"`
	Mentionable bool   `json:"mentionable" msgpack:"mentionable"`
	Hoist       bool   `json:"hoist" msgpack:"hoist"`
	Color       int    `json:"color" msgpack:"color"`
	Position    int    `json:"position" msgpack:"position"`
	Permissions int64  `json:"permissions,string" msgpack:"permissions"`
}

// Emoji holds the data related to a custom guild emoji.
type Emoji struct {
	ID            string   `json:"id" msgpack:"id"`
	Name          string   `json:"name" msgpack:"name"`
	Roles         []string `json:"roles" msgpack:"roles"`
	Managed       bool     `json:"managed" msgpack:"managed"`
	RequireColons bool     `json:"require_colons" msgpack:"require_colons"`
	Animated      bool     `json:"animated" msgpack:"animated"`
	Available     bool     `json:"available" msgpack:"available"`
}

// VoiceState stores the voice connection state of a guild member.
type VoiceState struct {
	UserID    string `json:"user_id" msgpack:"user_id"`
	ChannelID string `json:"channel_id" msgpack:"channel_id"`
	GuildID   string `json:"guild_id" msgpack:"guild_id"`
	SelfMute  bool   `json:"self_mute" msgpack:"self_mute"`
	SelfDeaf  bool   `json:"self_deaf" msgpack:"self_deaf"`
	Mute      bool   `json:"mute" msgpack:"mute"`
	Deaf      bool   `json:"deaf" msgpack:"deaf"`
}

// Message stores the data related to a specific Discord message.
type Message struct {
	ID        string `json:"id" msgpack:"id"`
	ChannelID string `json:"channel_id" msgpack:"channel_id"`
	GuildID   string `json:"guild_id" msgpack:"guild_id"`
	Content   string `json:"content" msgpack:"content"`
	Author    *User  `json:"author" msgpack:"author"`
}

// Permission bits relevant to voice-connect eligibility checks (subset
// of Discord's full permission bitfield).
const (
	PermissionAdministrator int64 = 1 << 3
	PermissionVoiceConnect  int64 = 1 << 20
)

// memberPermissions computes the effective permission bitfield for a
// member's roles in a channel, combining guild-level @everyone/role
// permissions with channel-level role overwrites. Per-member overwrites
// are not evaluated: the voice eligibility checks this feeds only need
// role-derived permissions.
func memberPermissions(guild *Guild, channel *Channel, roleIDs []string) int64 {
	var permissions int64
	roleSet := make(map[string]bool, len(roleIDs))
	for _, id := range roleIDs {
		roleSet[id] = true
	}

	for _, role := range guild.Roles {
		if role.ID == guild.ID || roleSet[role.ID] {
			permissions |= role.Permissions
		}
	}

	if permissions&PermissionAdministrator == PermissionAdministrator {
		// Administrator implies every permission and ignores overwrites.
		return permissions | PermissionVoiceConnect
	}

	for _, overwrite := range channel.PermissionOverwrites {
		if overwrite.Type == "role" && (overwrite.ID == guild.ID || roleSet[overwrite.ID]) {
			permissions &= ^overwrite.Deny
			permissions |= overwrite.Allow
		}
	}

	return permissions
}
