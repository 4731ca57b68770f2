package botstar

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// timezoneCommand handles the `/timezone` command.
func (b *BotStar) timezoneCommand(
	ctx context.Context,
	handler InteractionHandler,
	user *User,
) {
	i := handler.GetInteraction()
	options := discordInteractionOptions(i)

	switch {
	case options[subcommandSet] != nil:
		b.timezoneSet(ctx, handler, user, options[subcommandSet])
	case options[subcommandCheck] != nil:
		b.timezoneCheck(ctx, handler, user)
	case options[subcommandHelp] != nil:
		b.timezoneHelp(ctx, handler)
	default:
		handler.Logger().WarnContext(
			ctx,
			"unknown timezone subcommand",
			"data", i.ApplicationCommandData(),
		)
	}
}

// timezoneSet validates and stores the user's timezone.
func (b *BotStar) timezoneSet(
	ctx context.Context,
	handler InteractionHandler,
	user *User,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	logger := handler.Logger()
	opts := subcommandOptions(sub)
	if opts[optionRegion] == nil || opts[optionSubregion] == nil {
		b.interactionError(ctx, handler)
		return
	}
	region := opts[optionRegion].StringValue()
	subregion := opts[optionSubregion].StringValue()

	zone, ok := ValidTimezone(region, subregion)
	if !ok {
		b.ephemeralReply(
			ctx, handler,
			"Timezone not found, please select a region and subregion from "+
				"the autocomplete options. For a list of timezone options, "+
				"check out the `help` subcommand.",
		)
		return
	}

	if _, err := b.writeDB.Update(ctx, user, columnUserTimezone, zone); err != nil {
		logger.ErrorContext(ctx, "error updating timezone", tint.Err(err))
		b.interactionError(ctx, handler)
		return
	}
	user.Timezone = zone
	logger.InfoContext(ctx, "timezone updated", "user", user, "timezone", zone)
	b.ephemeralReply(
		ctx, handler,
		fmt.Sprintf("Your timezone has been set to `%s`.", zone),
	)
}

// timezoneCheck reports the user's configured timezone.
func (b *BotStar) timezoneCheck(
	ctx context.Context,
	handler InteractionHandler,
	user *User,
) {
	if user.Timezone == "" {
		b.ephemeralReply(ctx, handler, "No timezone configured.")
		return
	}
	b.ephemeralReply(
		ctx, handler,
		fmt.Sprintf("Your timezone is set to `%s`.", user.Timezone),
	)
}

// timezoneHelp replies with an embed listing every region and its
// subregions.
func (b *BotStar) timezoneHelp(ctx context.Context, handler InteractionHandler) {
	embed := &discordgo.MessageEmbed{
		Title: "Timezone Help:",
		Color: embedColor,
		Description: "In order to set your timezone using the `set` command, " +
			"select a region from the list of options, then select a " +
			"sub-region. A list of sub-regions can be found below. When " +
			"entering regions ensure you select an autocomplete option, do " +
			"not enter a custom field.",
	}
	for _, region := range TimezoneRegions() {
		embed.Fields = append(
			embed.Fields, &discordgo.MessageEmbedField{
				Name:  region,
				Value: strings.Join(TimezoneSubregions(region), ", "),
			},
		)
	}
	if err := handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{embed},
				Flags:  discordgo.MessageFlagsEphemeral,
			},
		},
	); err != nil {
		handler.Logger().ErrorContext(
			ctx, "error responding to interaction", tint.Err(err),
		)
	}
}

// timezoneAutocomplete answers autocomplete queries for the region and
// subregion options, prefix-filtered and capped at Discord's choice limit.
func (b *BotStar) timezoneAutocomplete(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	options := discordInteractionOptions(i)
	sub := options[subcommandSet]
	if sub == nil {
		return
	}
	opts := subcommandOptions(sub)

	var choices []string
	switch {
	case opts[optionRegion] != nil && opts[optionRegion].Focused:
		choices = filterPrefix(
			TimezoneRegions(),
			opts[optionRegion].StringValue(),
		)
	case opts[optionSubregion] != nil && opts[optionSubregion].Focused:
		region := ""
		if opts[optionRegion] != nil {
			region = opts[optionRegion].StringValue()
		}
		subregions := TimezoneSubregions(region)
		if len(subregions) == 0 {
			b.respondChoices(
				ctx, handler, []*discordgo.ApplicationCommandOptionChoice{
					{
						Name:  "Please select a valid region from the list.",
						Value: "invalid",
					},
				},
			)
			return
		}
		choices = filterPrefix(
			subregions,
			opts[optionSubregion].StringValue(),
		)
	default:
		return
	}

	if len(choices) > discordAutocompleteLimit {
		choices = choices[:discordAutocompleteLimit]
	}
	optionChoices := make(
		[]*discordgo.ApplicationCommandOptionChoice, 0, len(choices),
	)
	for _, c := range choices {
		optionChoices = append(
			optionChoices,
			&discordgo.ApplicationCommandOptionChoice{Name: c, Value: c},
		)
	}
	b.respondChoices(ctx, handler, optionChoices)
}

func (b *BotStar) respondChoices(
	ctx context.Context,
	handler InteractionHandler,
	choices []*discordgo.ApplicationCommandOptionChoice,
) {
	if err := handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionApplicationCommandAutocompleteResult,
			Data: &discordgo.InteractionResponseData{Choices: choices},
		},
	); err != nil {
		handler.Logger().ErrorContext(
			ctx, "error sending autocomplete choices", tint.Err(err),
		)
	}
}

// ephemeralReply sends a plain, ephemeral text reply.
func (b *BotStar) ephemeralReply(
	ctx context.Context,
	handler InteractionHandler,
	content string,
) {
	if err := handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	); err != nil {
		handler.Logger().ErrorContext(
			ctx, "error responding to interaction", tint.Err(err),
		)
	}
}
