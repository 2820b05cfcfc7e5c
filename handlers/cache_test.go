package handlers

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestCacheKeyNamespacing(t *testing.T) {
	c := NewCache(nil, "gatewaycore", zerolog.Nop())

	assert.Equal(t, "gatewaycore:guild:123", c.guildKey("123"))
	assert.Equal(t, "gatewaycore:channels", c.channelsKey())
	assert.Equal(t, "gatewaycore:guild:123:roles", c.rolesKey("123"))
	assert.Equal(t, "gatewaycore:emojis", c.emojisKey())
	assert.Equal(t, "gatewaycore:guild:123:members", c.membersKey("123"))
	assert.Equal(t, "gatewaycore:user", c.usersKey())
}
