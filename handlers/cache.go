package handlers

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	msgpack "github.com/vmihailenco/msgpack/v5"
)

// Cache is a Redis-backed store of Discord entities, namespaced under
// Prefix. It implements gateway.EntityCacheTimeout,
// gateway.EntityCacheInvalidator and gateway.GuildPermissionChecker,
// so a *Cache can be passed directly into gateway.NewManager.
type Cache struct {
	Redis  *redis.Client
	Prefix string
	log    zerolog.Logger

	// BotUserID is set once from the READY payload; CanConnect uses it
	// to look up the bot's own roles rather than the guild owner's.
	BotUserID string

	ctx context.Context
}

// NewCache wraps an already-connected redis client.
func NewCache(client *redis.Client, prefix string, log zerolog.Logger) *Cache {
	return &Cache{Redis: client, Prefix: prefix, log: log, ctx: context.Background()}
}

func (c *Cache) guildKey(guildID string) string {
	return fmt.Sprintf("%s:guild:%s", c.Prefix, guildID)
}

func (c *Cache) channelsKey() string {
	return fmt.Sprintf("%s:channels", c.Prefix)
}

func (c *Cache) rolesKey(guildID string) string {
	return fmt.Sprintf("%s:guild:%s:roles", c.Prefix, guildID)
}

func (c *Cache) emojisKey() string {
	return fmt.Sprintf("%s:emojis", c.Prefix)
}

func (c *Cache) membersKey(guildID string) string {
	return fmt.Sprintf("%s:guild:%s:members", c.Prefix, guildID)
}

func (c *Cache) usersKey() string {
	return fmt.Sprintf("%s:user", c.Prefix)
}

// SaveGuild upserts a guild, its roles and its emojis.
func (c *Cache) SaveGuild(guild *Guild) error {
	payload, err := msgpack.Marshal(guild)
	if err != nil {
		return err
	}
	if err := c.Redis.Set(c.ctx, c.guildKey(guild.ID), payload, 0).Err(); err != nil {
		return err
	}
	for _, role := range guild.Roles {
		if err := c.SaveRole(guild.ID, role); err != nil {
			return err
		}
	}
	for _, emoji := range guild.Emojis {
		if err := c.SaveEmoji(emoji); err != nil {
			return err
		}
	}
	return nil
}

// DeleteGuild removes a guild and every key namespaced under it.
func (c *Cache) DeleteGuild(guildID string) error {
	if err := c.Redis.Del(c.ctx, c.guildKey(guildID)).Err(); err != nil {
		return err
	}
	scripts := &RediScripts{}
	_, err := scripts.ClearKeys(c.ctx, c.Redis, fmt.Sprintf("%s:guild:%s:*", c.Prefix, guildID))
	return err
}

// Guild fetches a cached guild by id.
func (c *Cache) Guild(guildID string) (*Guild, error) {
	data, err := c.Redis.Get(c.ctx, c.guildKey(guildID)).Bytes()
	if err != nil {
		return nil, err
	}
	guild := new(Guild)
	if err := msgpack.Unmarshal(data, guild); err != nil {
		return nil, err
	}
	return guild, nil
}

// SaveChannel upserts a channel.
func (c *Cache) SaveChannel(channel *Channel) error {
	payload, err := msgpack.Marshal(channel)
	if err != nil {
		return err
	}
	return c.Redis.HSet(c.ctx, c.channelsKey(), channel.ID, payload).Err()
}

// DeleteChannel removes a channel.
func (c *Cache) DeleteChannel(channelID string) error {
	return c.Redis.HDel(c.ctx, c.channelsKey(), channelID).Err()
}

// Channel fetches a cached channel by id.
func (c *Cache) Channel(channelID string) (*Channel, error) {
	data, err := c.Redis.HGet(c.ctx, c.channelsKey(), channelID).Bytes()
	if err != nil {
		return nil, err
	}
	channel := new(Channel)
	if err := msgpack.Unmarshal(data, channel); err != nil {
		return nil, err
	}
	return channel, nil
}

// SaveRole upserts a role under its guild.
func (c *Cache) SaveRole(guildID string, role *Role) error {
	payload, err := msgpack.Marshal(role)
	if err != nil {
		return err
	}
	return c.Redis.HSet(c.ctx, c.rolesKey(guildID), role.ID, payload).Err()
}

// Role fetches a cached role.
func (c *Cache) Role(guildID, roleID string) (*Role, error) {
	data, err := c.Redis.HGet(c.ctx, c.rolesKey(guildID), roleID).Bytes()
	if err != nil {
		return nil, err
	}
	role := new(Role)
	if err := msgpack.Unmarshal(data, role); err != nil {
		return nil, err
	}
	return role, nil
}

// SaveEmoji upserts a custom emoji.
func (c *Cache) SaveEmoji(emoji *Emoji) error {
	payload, err := msgpack.Marshal(emoji)
	if err != nil {
		return err
	}
	return c.Redis.HSet(c.ctx, c.emojisKey(), emoji.ID, payload).Err()
}

// SaveMember upserts a guild member, along with its embedded user.
func (c *Cache) SaveMember(member *Member) error {
	if member.User != nil {
		member.UserID = member.User.ID
		if err := c.SaveUser(member.User); err != nil {
			return err
		}
	}
	payload, err := msgpack.Marshal(member)
	if err != nil {
		return err
	}
	return c.Redis.HSet(c.ctx, c.membersKey(member.GuildID), member.UserID, payload).Err()
}

// DeleteMember removes a guild member.
func (c *Cache) DeleteMember(guildID, userID string) error {
	return c.Redis.HDel(c.ctx, c.membersKey(guildID), userID).Err()
}

// Member fetches a cached guild member, hydrating its user.
func (c *Cache) Member(guildID, userID string) (*Member, error) {
	data, err := c.Redis.HGet(c.ctx, c.membersKey(guildID), userID).Bytes()
	if err != nil {
		return nil, err
	}
	member := new(Member)
	if err := msgpack.Unmarshal(data, member); err != nil {
		return nil, err
	}
	member.User, _ = c.User(userID)
	return member, nil
}

// SaveUser upserts a user.
func (c *Cache) SaveUser(user *User) error {
	payload, err := msgpack.Marshal(user)
	if err != nil {
		return err
	}
	return c.Redis.HSet(c.ctx, c.usersKey(), user.ID, payload).Err()
}

// User fetches a cached user.
func (c *Cache) User(userID string) (*User, error) {
	data, err := c.Redis.HGet(c.ctx, c.usersKey(), userID).Bytes()
	if err != nil {
		return nil, err
	}
	user := new(User)
	if err := msgpack.Unmarshal(data, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Timeout implements gateway.EntityCacheTimeout. Nothing in this cache
// defers lookups past a given sequence, so there is nothing to expire;
// the hook exists so a future deferred-lookup feature has somewhere to
// live without touching the gateway core.
func (c *Cache) Timeout(lastSequence int64) {}

// Clear implements gateway.EntityCacheInvalidator: it wipes every key
// under Prefix, forcing a full re-sync on the next READY.
func (c *Cache) Clear() {
	scripts := &RediScripts{}
	if _, err := scripts.ClearKeys(c.ctx, c.Redis, c.Prefix+":*"); err != nil {
		c.log.Warn().Err(err).Msg("cache: failed to clear keys on invalidate")
	}
}

// GuildExists implements gateway.GuildPermissionChecker.
func (c *Cache) GuildExists(guildID string) bool {
	_, err := c.Guild(guildID)
	return err == nil
}

// ChannelExists implements gateway.GuildPermissionChecker. Channels are
// keyed globally, so the channel is looked up by id alone and then
// must belong to guildID.
func (c *Cache) ChannelExists(guildID, channelID string) bool {
	channel, err := c.Channel(channelID)
	return err == nil && channel.GuildID == guildID
}

// CanConnect implements gateway.GuildPermissionChecker: it reports
// whether the bot still holds VOICE_CONNECT on channelID.
func (c *Cache) CanConnect(guildID, channelID string) bool {
	guild, err := c.Guild(guildID)
	if err != nil {
		return false
	}
	channel, err := c.Channel(channelID)
	if err != nil {
		return false
	}

	self, err := c.Member(guildID, c.BotUserID)
	if err != nil {
		// fall back to @everyone permissions when the bot's own member
		// object has not been cached yet
		return memberPermissions(guild, channel, nil)&PermissionVoiceConnect != 0
	}

	return memberPermissions(guild, channel, self.Roles)&PermissionVoiceConnect != 0
}
