package botstar

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterOption(
	sub string,
	counterType CounterType,
	channelID string,
) *discordgo.ApplicationCommandInteractionDataOption {
	opt := &discordgo.ApplicationCommandInteractionDataOption{
		Name: sub,
		Type: discordgo.ApplicationCommandOptionSubCommand,
	}
	if counterType != "" {
		opt.Options = append(
			opt.Options, &discordgo.ApplicationCommandInteractionDataOption{
				Name:  optionType,
				Type:  discordgo.ApplicationCommandOptionString,
				Value: string(counterType),
			},
		)
	}
	if channelID != "" {
		opt.Options = append(
			opt.Options, &discordgo.ApplicationCommandInteractionDataOption{
				Name:  optionChannel,
				Type:  discordgo.ApplicationCommandOptionChannel,
				Value: channelID,
			},
		)
	}
	return opt
}

// seedGuild registers a guild with a few members and the given channels
// on the stub session.
func seedGuild(session *stubSession, guildID string, channelIDs ...string) {
	guild := &discordgo.Guild{
		ID:          guildID,
		MemberCount: 4,
		Members: []*discordgo.Member{
			{User: &discordgo.User{ID: "m1"}},
			{User: &discordgo.User{ID: "m2"}},
			{User: &discordgo.User{ID: "m3"}},
			{User: &discordgo.User{ID: "b1", Bot: true}},
		},
	}
	session.guilds[guildID] = guild
	for _, id := range channelIDs {
		session.channels[id] = &discordgo.Channel{
			ID:      id,
			GuildID: guildID,
			Name:    "Channel " + id,
			Type:    discordgo.ChannelTypeGuildVoice,
		}
	}
}

func TestCounterAdd(t *testing.T) {
	t.Parallel()

	bot, session := testBot(t)
	ctx := context.Background()
	guildID := t.Name()
	seedGuild(session, guildID, "chan-1")

	i := commandInteraction(
		"caller", guildID, DiscordSlashCommandCounter,
		counterOption(subcommandAdd, CounterAll, "chan-1"),
	)
	bot.counterCommand(ctx, testGatewayHandler(session, i), nil)

	// the channel picks up the count suffix immediately
	assert.Equal(t, "Channel chan-1: 4", session.channels["chan-1"].Name)

	counter, err := bot.writeDB.GetCounter(ctx, guildID, CounterAll)
	require.NoError(t, err)
	assert.Equal(t, "chan-1", counter.ChannelID)

	require.Len(t, session.responses, 1)
	embeds := session.responses[0].Data.Embeds
	require.Len(t, embeds, 1)
	assert.Equal(t, "COUNTER CREATED", embeds[0].Title)
	assert.Contains(t, embeds[0].Description, "`All`")
	assert.Contains(t, embeds[0].Description, "Channel chan-1: 4")
}

func TestCounterAddDuplicate(t *testing.T) {
	t.Parallel()

	bot, session := testBot(t)
	ctx := context.Background()
	guildID := t.Name()
	seedGuild(session, guildID, "chan-1", "chan-2")

	i := commandInteraction(
		"caller", guildID, DiscordSlashCommandCounter,
		counterOption(subcommandAdd, CounterMembers, "chan-1"),
	)
	bot.counterCommand(ctx, testGatewayHandler(session, i), nil)
	require.Len(t, session.responses, 1)

	i = commandInteraction(
		"caller", guildID, DiscordSlashCommandCounter,
		counterOption(subcommandAdd, CounterMembers, "chan-2"),
	)
	bot.counterCommand(ctx, testGatewayHandler(session, i), nil)
	require.Len(t, session.responses, 2)
	assert.Contains(
		t,
		session.responses[1].Data.Content,
		"There already exists a counter for `members`",
	)

	// the original counter is untouched
	counter, err := bot.writeDB.GetCounter(ctx, guildID, CounterMembers)
	require.NoError(t, err)
	assert.Equal(t, "chan-1", counter.ChannelID)
}

func TestCounterUpdateMovesCounter(t *testing.T) {
	t.Parallel()

	bot, session := testBot(t)
	ctx := context.Background()
	guildID := t.Name()
	seedGuild(session, guildID, "chan-1", "chan-2")

	i := commandInteraction(
		"caller", guildID, DiscordSlashCommandCounter,
		counterOption(subcommandAdd, CounterBots, "chan-1"),
	)
	bot.counterCommand(ctx, testGatewayHandler(session, i), nil)
	require.Equal(t, "Channel chan-1: 1", session.channels["chan-1"].Name)

	i = commandInteraction(
		"caller", guildID, DiscordSlashCommandCounter,
		counterOption(subcommandUpdate, CounterBots, "chan-2"),
	)
	bot.counterCommand(ctx, testGatewayHandler(session, i), nil)

	// old channel name reverted, new channel renamed
	assert.Equal(t, "Channel chan-1", session.channels["chan-1"].Name)
	assert.Equal(t, "Channel chan-2: 1", session.channels["chan-2"].Name)

	counter, err := bot.writeDB.GetCounter(ctx, guildID, CounterBots)
	require.NoError(t, err)
	assert.Equal(t, "chan-2", counter.ChannelID)

	require.Len(t, session.responses, 2)
	assert.Equal(t, "COUNTER UPDATED", session.responses[1].Data.Embeds[0].Title)
}

func TestCounterUpdateMissing(t *testing.T) {
	t.Parallel()

	bot, session := testBot(t)
	guildID := t.Name()
	seedGuild(session, guildID, "chan-1")

	i := commandInteraction(
		"caller", guildID, DiscordSlashCommandCounter,
		counterOption(subcommandUpdate, CounterAll, "chan-1"),
	)
	bot.counterCommand(context.Background(), testGatewayHandler(session, i), nil)

	require.Len(t, session.responses, 1)
	assert.Contains(
		t,
		session.responses[0].Data.Content,
		"There is no existing `all` counter",
	)
}

func TestCounterDelete(t *testing.T) {
	t.Parallel()

	bot, session := testBot(t)
	ctx := context.Background()
	guildID := t.Name()
	seedGuild(session, guildID, "chan-1")

	i := commandInteraction(
		"caller", guildID, DiscordSlashCommandCounter,
		counterOption(subcommandAdd, CounterAll, "chan-1"),
	)
	bot.counterCommand(ctx, testGatewayHandler(session, i), nil)
	require.Equal(t, "Channel chan-1: 4", session.channels["chan-1"].Name)

	i = commandInteraction(
		"caller", guildID, DiscordSlashCommandCounter,
		counterOption(subcommandDelete, CounterAll, ""),
	)
	bot.counterCommand(ctx, testGatewayHandler(session, i), nil)

	assert.Equal(t, "Channel chan-1", session.channels["chan-1"].Name)
	_, err := bot.writeDB.GetCounter(ctx, guildID, CounterAll)
	assert.Error(t, err)

	require.Len(t, session.responses, 2)
	assert.Equal(t, "COUNTER REMOVED", session.responses[1].Data.Embeds[0].Title)
}

func TestCounterList(t *testing.T) {
	t.Parallel()

	bot, session := testBot(t)
	ctx := context.Background()
	guildID := t.Name()
	seedGuild(session, guildID, "chan-1", "chan-2")

	i := commandInteraction(
		"caller", guildID, DiscordSlashCommandCounter,
		counterOption(subcommandList, "", ""),
	)
	bot.counterCommand(ctx, testGatewayHandler(session, i), nil)
	require.Len(t, session.responses, 1)
	assert.Equal(
		t,
		"There are no counters in this server.",
		session.responses[0].Data.Content,
	)

	for n, counterType := range map[string]CounterType{
		"chan-1": CounterMembers,
		"chan-2": CounterBots,
	} {
		require.NoError(
			t, bot.writeDB.SaveCounter(
				ctx, &Counter{GuildID: guildID, ChannelID: n, Type: counterType},
			),
		)
	}

	bot.counterCommand(ctx, testGatewayHandler(session, i), nil)
	require.Len(t, session.responses, 2)
	embeds := session.responses[1].Data.Embeds
	require.Len(t, embeds, 1)
	assert.Equal(t, "ACTIVE COUNTERS", embeds[0].Title)
	assert.Contains(t, embeds[0].Description, "<#chan-1>")
	assert.Contains(t, embeds[0].Description, "<#chan-2>")
}

func TestCounterGuildOnly(t *testing.T) {
	t.Parallel()

	bot, session := testBot(t)

	i := commandInteraction(
		"caller", "", DiscordSlashCommandCounter,
		counterOption(subcommandList, "", ""),
	)
	bot.counterCommand(context.Background(), testGatewayHandler(session, i), nil)

	require.Len(t, session.responses, 1)
	assert.Equal(
		t,
		"Counters can only be managed in a server.",
		session.responses[0].Data.Content,
	)
}

func TestRefreshGuildCounters(t *testing.T) {
	t.Parallel()

	bot, session := testBot(t)
	ctx := context.Background()
	guildID := t.Name()
	seedGuild(session, guildID, "chan-1")

	require.NoError(
		t, bot.writeDB.SaveCounter(
			ctx, &Counter{
				GuildID:   guildID,
				ChannelID: "chan-1",
				Type:      CounterMembers,
			},
		),
	)

	bot.refreshGuildCounters(ctx, guildID)
	assert.Equal(t, "Channel chan-1: 3", session.channels["chan-1"].Name)

	// refreshing with an unchanged count skips the rename call
	edits := session.channelEdit
	bot.refreshGuildCounters(ctx, guildID)
	assert.Equal(t, edits, session.channelEdit)

	// a membership change updates the suffix in place
	session.guilds[guildID].Members = session.guilds[guildID].Members[:2]
	bot.refreshGuildCounters(ctx, guildID)
	assert.Equal(t, "Channel chan-1: 2", session.channels["chan-1"].Name)
}
