package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemberPermissionsEveryoneRole(t *testing.T) {
	guild := &Guild{
		ID: "1",
		Roles: []*Role{
			{ID: "1", Permissions: PermissionVoiceConnect},
		},
	}
	channel := &Channel{ID: "10", GuildID: "1"}

	perms := memberPermissions(guild, channel, nil)

	assert.NotZero(t, perms&PermissionVoiceConnect)
}

func TestMemberPermissionsRoleGrant(t *testing.T) {
	guild := &Guild{
		ID: "1",
		Roles: []*Role{
			{ID: "1", Permissions: 0},
			{ID: "2", Permissions: PermissionVoiceConnect},
		},
	}
	channel := &Channel{ID: "10", GuildID: "1"}

	perms := memberPermissions(guild, channel, []string{"2"})

	assert.NotZero(t, perms&PermissionVoiceConnect)
}

func TestMemberPermissionsChannelOverwriteDenies(t *testing.T) {
	guild := &Guild{
		ID: "1",
		Roles: []*Role{
			{ID: "1", Permissions: PermissionVoiceConnect},
		},
	}
	channel := &Channel{
		ID:      "10",
		GuildID: "1",
		PermissionOverwrites: []*PermissionOverwrite{
			{ID: "1", Type: "role", Deny: PermissionVoiceConnect},
		},
	}

	perms := memberPermissions(guild, channel, nil)

	assert.Zero(t, perms&PermissionVoiceConnect)
}

func TestMemberPermissionsChannelOverwriteAllows(t *testing.T) {
	guild := &Guild{
		ID: "1",
		Roles: []*Role{
			{ID: "1", Permissions: 0},
			{ID: "2", Permissions: 0},
		},
	}
	channel := &Channel{
		ID:      "10",
		GuildID: "1",
		PermissionOverwrites: []*PermissionOverwrite{
			{ID: "2", Type: "role", Allow: PermissionVoiceConnect},
		},
	}

	perms := memberPermissions(guild, channel, []string{"2"})

	assert.NotZero(t, perms&PermissionVoiceConnect)
}

func TestMemberPermissionsAdministratorBypassesOverwrites(t *testing.T) {
	guild := &Guild{
		ID: "1",
		Roles: []*Role{
			{ID: "2", Permissions: PermissionAdministrator},
		},
	}
	channel := &Channel{
		ID:      "10",
		GuildID: "1",
		PermissionOverwrites: []*PermissionOverwrite{
			{ID: "2", Type: "role", Deny: PermissionVoiceConnect},
		},
	}

	perms := memberPermissions(guild, channel, []string{"2"})

	assert.NotZero(t, perms&PermissionVoiceConnect)
}
