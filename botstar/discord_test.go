package botstar

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommands(t *testing.T) {
	t.Parallel()

	d := &Discord{config: &DiscordConfig{}}
	cmds := d.commands()
	require.Len(t, cmds, 3)

	byName := map[string]*discordgo.ApplicationCommand{}
	for _, cmd := range cmds {
		byName[cmd.Name] = cmd
	}
	require.Contains(t, byName, DiscordSlashCommandActivityTracking)
	require.Contains(t, byName, DiscordSlashCommandTimezone)
	require.Contains(t, byName, DiscordSlashCommandCounter)
}

func TestRegisterCommands(t *testing.T) {
	t.Parallel()

	session := newStubSession()
	d := &Discord{
		session: session,
		config:  &DiscordConfig{ApplicationID: "app", GuildID: "guild"},
	}
	registered, err := d.registerCommands()
	require.NoError(t, err)
	assert.Len(t, registered, 3)
}

func TestUpdateCustomStatus(t *testing.T) {
	t.Parallel()

	bot, session := testBot(t)
	bot.discord.updateCustomStatus()
	require.Len(t, session.statuses, 1)
	assert.Equal(t, DefaultDiscordCustomStatus, session.statuses[0])
}

func TestAppCommandActivityTracking(t *testing.T) {
	t.Parallel()

	cmd := (&Discord{}).appCommandActivityTracking()
	require.Len(t, cmd.Options, 2)

	toggle := cmd.Options[0]
	assert.Equal(t, subcommandGroupToggle, toggle.Name)
	assert.Equal(
		t, discordgo.ApplicationCommandOptionSubCommandGroup, toggle.Type,
	)
	require.Len(t, toggle.Options, 2)
	assert.Equal(t, subcommandEnable, toggle.Options[0].Name)
	assert.Equal(t, subcommandDisable, toggle.Options[1].Name)

	history := cmd.Options[1]
	assert.Equal(t, subcommandHistory, history.Name)
	require.Len(t, history.Options, 1)
	assert.Equal(t, optionTarget, history.Options[0].Name)
	assert.False(t, history.Options[0].Required)
	assert.Equal(
		t, discordgo.ApplicationCommandOptionUser, history.Options[0].Type,
	)
}

func TestAppCommandTimezone(t *testing.T) {
	t.Parallel()

	cmd := (&Discord{}).appCommandTimezone()
	require.Len(t, cmd.Options, 3)

	set := cmd.Options[0]
	assert.Equal(t, subcommandSet, set.Name)
	require.Len(t, set.Options, 2)
	for _, opt := range set.Options {
		assert.True(t, opt.Required)
		assert.True(t, opt.Autocomplete)
	}
	assert.Equal(t, optionRegion, set.Options[0].Name)
	assert.Equal(t, optionSubregion, set.Options[1].Name)

	assert.Equal(t, subcommandCheck, cmd.Options[1].Name)
	assert.Equal(t, subcommandHelp, cmd.Options[2].Name)
}

func TestAppCommandCounter(t *testing.T) {
	t.Parallel()

	cmd := (&Discord{}).appCommandCounter()

	// counter management is gated on channel management permission
	require.NotNil(t, cmd.DefaultMemberPermissions)
	assert.Equal(
		t,
		int64(discordgo.PermissionManageChannels),
		*cmd.DefaultMemberPermissions,
	)

	require.Len(t, cmd.Options, 4)
	names := make([]string, 0, len(cmd.Options))
	for _, opt := range cmd.Options {
		names = append(names, opt.Name)
	}
	assert.Equal(
		t,
		[]string{subcommandAdd, subcommandUpdate, subcommandDelete, subcommandList},
		names,
	)

	add := cmd.Options[0]
	require.Len(t, add.Options, 2)
	assert.Equal(t, optionType, add.Options[0].Name)
	require.Len(t, add.Options[0].Choices, 3)
	assert.Equal(t, optionChannel, add.Options[1].Name)
	assert.True(t, add.Options[1].Required)
	assert.Contains(
		t, add.Options[1].ChannelTypes, discordgo.ChannelTypeGuildVoice,
	)
}
