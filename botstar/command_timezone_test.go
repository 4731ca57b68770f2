package botstar

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timezoneSetOption(
	region string,
	subregion string,
	focused string,
) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name: subcommandSet,
		Type: discordgo.ApplicationCommandOptionSubCommand,
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{
				Name:    optionRegion,
				Type:    discordgo.ApplicationCommandOptionString,
				Value:   region,
				Focused: focused == optionRegion,
			},
			{
				Name:    optionSubregion,
				Type:    discordgo.ApplicationCommandOptionString,
				Value:   subregion,
				Focused: focused == optionSubregion,
			},
		},
	}
}

func TestTimezoneSet(t *testing.T) {
	t.Parallel()

	bot, session := testBot(t)
	ctx := context.Background()

	user, _, err := bot.writeDB.GetOrCreateUser(ctx, discordgo.User{ID: t.Name()})
	require.NoError(t, err)

	i := commandInteraction(
		t.Name(), "", DiscordSlashCommandTimezone,
		timezoneSetOption("America", "New_York", ""),
	)
	bot.timezoneCommand(ctx, testGatewayHandler(session, i), user)

	require.Len(t, session.responses, 1)
	resp := session.responses[0]
	assert.Equal(
		t, discordgo.InteractionResponseChannelMessageWithSource, resp.Type,
	)
	assert.Equal(
		t,
		"Your timezone has been set to `America/New_York`.",
		resp.Data.Content,
	)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)

	assert.Equal(t, "America/New_York", user.Timezone)
	stored := bot.writeDB.ReloadUser(t.Name())
	require.NotNil(t, stored)
	assert.Equal(t, "America/New_York", stored.Timezone)
}

func TestTimezoneSetInvalidZone(t *testing.T) {
	t.Parallel()

	bot, session := testBot(t)
	ctx := context.Background()

	user, _, err := bot.writeDB.GetOrCreateUser(ctx, discordgo.User{ID: t.Name()})
	require.NoError(t, err)

	i := commandInteraction(
		t.Name(), "", DiscordSlashCommandTimezone,
		timezoneSetOption("Atlantis", "Lost_City", ""),
	)
	bot.timezoneCommand(ctx, testGatewayHandler(session, i), user)

	require.Len(t, session.responses, 1)
	assert.Contains(t, session.responses[0].Data.Content, "Timezone not found")
	assert.Empty(t, user.Timezone)
}

func TestTimezoneCheck(t *testing.T) {
	t.Parallel()

	bot, session := testBot(t)
	ctx := context.Background()

	user, _, err := bot.writeDB.GetOrCreateUser(ctx, discordgo.User{ID: t.Name()})
	require.NoError(t, err)

	check := &discordgo.ApplicationCommandInteractionDataOption{
		Name: subcommandCheck,
		Type: discordgo.ApplicationCommandOptionSubCommand,
	}

	i := commandInteraction(t.Name(), "", DiscordSlashCommandTimezone, check)
	bot.timezoneCommand(ctx, testGatewayHandler(session, i), user)
	require.Len(t, session.responses, 1)
	assert.Equal(
		t, "No timezone configured.", session.responses[0].Data.Content,
	)

	user.Timezone = "Asia/Tokyo"
	bot.timezoneCommand(ctx, testGatewayHandler(session, i), user)
	require.Len(t, session.responses, 2)
	assert.Equal(
		t,
		"Your timezone is set to `Asia/Tokyo`.",
		session.responses[1].Data.Content,
	)
}

func TestTimezoneHelp(t *testing.T) {
	t.Parallel()

	bot, session := testBot(t)

	i := commandInteraction(
		t.Name(), "", DiscordSlashCommandTimezone,
		&discordgo.ApplicationCommandInteractionDataOption{
			Name: subcommandHelp,
			Type: discordgo.ApplicationCommandOptionSubCommand,
		},
	)
	bot.timezoneCommand(
		context.Background(), testGatewayHandler(session, i), &User{ID: t.Name()},
	)

	require.Len(t, session.responses, 1)
	embeds := session.responses[0].Data.Embeds
	require.Len(t, embeds, 1)
	assert.Equal(t, "Timezone Help:", embeds[0].Title)
	assert.Len(t, embeds[0].Fields, len(TimezoneRegions()))
}

func TestTimezoneAutocompleteRegion(t *testing.T) {
	t.Parallel()

	bot, session := testBot(t)

	i := commandInteraction(
		t.Name(), "", DiscordSlashCommandTimezone,
		timezoneSetOption("A", "", optionRegion),
	)
	i.Type = discordgo.InteractionApplicationCommandAutocomplete

	bot.timezoneAutocomplete(context.Background(), testGatewayHandler(session, i))

	require.Len(t, session.responses, 1)
	resp := session.responses[0]
	assert.Equal(
		t, discordgo.InteractionApplicationCommandAutocompleteResult, resp.Type,
	)
	names := make([]string, 0, len(resp.Data.Choices))
	for _, c := range resp.Data.Choices {
		names = append(names, c.Name)
	}
	assert.Equal(
		t,
		[]string{"Africa", "America", "Asia", "Atlantic", "Australia"},
		names,
	)
}

func TestTimezoneAutocompleteSubregion(t *testing.T) {
	t.Parallel()

	bot, session := testBot(t)
	ctx := context.Background()

	i := commandInteraction(
		t.Name(), "", DiscordSlashCommandTimezone,
		timezoneSetOption("Europe", "lo", optionSubregion),
	)
	i.Type = discordgo.InteractionApplicationCommandAutocomplete

	bot.timezoneAutocomplete(ctx, testGatewayHandler(session, i))
	require.Len(t, session.responses, 1)
	choices := session.responses[0].Data.Choices
	require.Len(t, choices, 1)
	assert.Equal(t, "London", choices[0].Value)

	// an invalid region gets a placeholder prompting a valid selection
	i = commandInteraction(
		t.Name(), "", DiscordSlashCommandTimezone,
		timezoneSetOption("Atlantis", "", optionSubregion),
	)
	i.Type = discordgo.InteractionApplicationCommandAutocomplete
	bot.timezoneAutocomplete(ctx, testGatewayHandler(session, i))
	require.Len(t, session.responses, 2)
	choices = session.responses[1].Data.Choices
	require.Len(t, choices, 1)
	assert.Equal(t, "invalid", choices[0].Value)
}
