package botstar

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

// counterCommand handles the `/counter` command.
func (b *BotStar) counterCommand(
	ctx context.Context,
	handler InteractionHandler,
	_ *User,
) {
	i := handler.GetInteraction()
	if i.GuildID == "" {
		b.ephemeralReply(ctx, handler, "Counters can only be managed in a server.")
		return
	}
	options := discordInteractionOptions(i)

	switch {
	case options[subcommandAdd] != nil:
		b.counterAdd(ctx, handler, options[subcommandAdd])
	case options[subcommandUpdate] != nil:
		b.counterUpdate(ctx, handler, options[subcommandUpdate])
	case options[subcommandDelete] != nil:
		b.counterDelete(ctx, handler, options[subcommandDelete])
	case options[subcommandList] != nil:
		b.counterList(ctx, handler)
	default:
		handler.Logger().WarnContext(
			ctx,
			"unknown counter subcommand",
			"data", i.ApplicationCommandData(),
		)
	}
}

// counterOptions pulls the type (and optional channel) arguments from a
// counter subcommand.
func (b *BotStar) counterOptions(
	sub *discordgo.ApplicationCommandInteractionDataOption,
) (CounterType, string, error) {
	opts := subcommandOptions(sub)
	if opts[optionType] == nil {
		return "", "", fmt.Errorf("%w: missing counter type", ErrInvalidArgument)
	}
	counterType, err := parseCounterType(opts[optionType].StringValue())
	if err != nil {
		return "", "", err
	}
	channelID := ""
	if opts[optionChannel] != nil {
		channelID = opts[optionChannel].Value.(string)
	}
	return counterType, channelID, nil
}

// counterAdd creates a counter on a channel and performs its first
// refresh.
func (b *BotStar) counterAdd(
	ctx context.Context,
	handler InteractionHandler,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	logger := handler.Logger()
	i := handler.GetInteraction()

	counterType, channelID, err := b.counterOptions(sub)
	if err != nil || channelID == "" {
		b.interactionError(ctx, handler)
		return
	}

	if _, err = b.writeDB.GetCounter(ctx, i.GuildID, counterType); err == nil {
		b.ephemeralReply(
			ctx, handler,
			fmt.Sprintf(
				"There already exists a counter for `%s` in this server. "+
					"You can update it instead.",
				counterType,
			),
		)
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		logger.ErrorContext(ctx, "error checking for counter", tint.Err(err))
		b.interactionError(ctx, handler)
		return
	}

	channel, err := b.discord.session.Channel(channelID)
	if err != nil {
		logger.ErrorContext(ctx, "error getting channel", tint.Err(err))
		b.interactionError(ctx, handler)
		return
	}
	oldName := channel.Name

	counter := &Counter{
		GuildID:   i.GuildID,
		ChannelID: channelID,
		Type:      counterType,
	}
	if err = b.writeDB.SaveCounter(ctx, counter); err != nil {
		logger.ErrorContext(ctx, "error saving counter", tint.Err(err))
		b.interactionError(ctx, handler)
		return
	}
	if err = b.refreshCounter(*counter); err != nil {
		logger.WarnContext(ctx, "error refreshing new counter", tint.Err(err))
	}
	newName := oldName
	if ch, chErr := b.discord.session.Channel(channelID); chErr == nil {
		newName = ch.Name
	}
	logger.InfoContext(ctx, "counter created", "counter", counter)

	b.counterEmbedReply(
		ctx, handler, "COUNTER CREATED",
		fmt.Sprintf(
			"`%s` counter has been added to the channel `%s` and it has "+
				"been renamed to `%s`.",
			titleCase(string(counterType)), oldName, newName,
		),
	)
}

// counterUpdate moves an existing counter to a different channel,
// reverting the old channel's name.
func (b *BotStar) counterUpdate(
	ctx context.Context,
	handler InteractionHandler,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	logger := handler.Logger()
	i := handler.GetInteraction()

	counterType, channelID, err := b.counterOptions(sub)
	if err != nil || channelID == "" {
		b.interactionError(ctx, handler)
		return
	}

	existing, err := b.writeDB.GetCounter(ctx, i.GuildID, counterType)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			b.ephemeralReply(
				ctx, handler,
				fmt.Sprintf(
					"There is no existing `%s` counter in this server. "+
						"You can add it instead.",
					counterType,
				),
			)
			return
		}
		logger.ErrorContext(ctx, "error loading counter", tint.Err(err))
		b.interactionError(ctx, handler)
		return
	}

	// Revert the old channel's name before moving the counter.
	oldChannelOldName := ""
	oldChannelNewName := ""
	if oldChannel, chErr := b.discord.session.Channel(existing.ChannelID); chErr == nil {
		oldChannelOldName = oldChannel.Name
		oldChannelNewName = stripCounterSuffix(oldChannel.Name)
		if _, chErr = b.discord.session.ChannelEdit(
			existing.ChannelID,
			&discordgo.ChannelEdit{Name: oldChannelNewName},
		); chErr != nil {
			logger.WarnContext(ctx, "error reverting channel name", tint.Err(chErr))
		}
	}

	newChannelOldName := ""
	if newChannel, chErr := b.discord.session.Channel(channelID); chErr == nil {
		newChannelOldName = newChannel.Name
	}

	existing.ChannelID = channelID
	if err = b.writeDB.SaveCounter(ctx, existing); err != nil {
		logger.ErrorContext(ctx, "error saving counter", tint.Err(err))
		b.interactionError(ctx, handler)
		return
	}
	if err = b.refreshCounter(*existing); err != nil {
		logger.WarnContext(ctx, "error refreshing moved counter", tint.Err(err))
	}
	newChannelNewName := newChannelOldName
	if ch, chErr := b.discord.session.Channel(channelID); chErr == nil {
		newChannelNewName = ch.Name
	}
	logger.InfoContext(ctx, "counter moved", "counter", existing)

	b.counterEmbedReply(
		ctx, handler, "COUNTER UPDATED",
		fmt.Sprintf(
			"`%s` counter has been swapped from the channel `%s` (renamed "+
				"`%s`) to the channel `%s` (renamed `%s`).",
			titleCase(string(counterType)),
			oldChannelOldName, oldChannelNewName,
			newChannelOldName, newChannelNewName,
		),
	)
}

// counterDelete removes a counter and reverts its channel's name.
func (b *BotStar) counterDelete(
	ctx context.Context,
	handler InteractionHandler,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	logger := handler.Logger()
	i := handler.GetInteraction()

	counterType, _, err := b.counterOptions(sub)
	if err != nil {
		b.interactionError(ctx, handler)
		return
	}

	existing, err := b.writeDB.GetCounter(ctx, i.GuildID, counterType)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			b.ephemeralReply(
				ctx, handler,
				fmt.Sprintf(
					"There is no existing `%s` counter in this server.",
					counterType,
				),
			)
			return
		}
		logger.ErrorContext(ctx, "error loading counter", tint.Err(err))
		b.interactionError(ctx, handler)
		return
	}

	if _, err = b.writeDB.DeleteCounter(ctx, i.GuildID, counterType); err != nil {
		logger.ErrorContext(ctx, "error deleting counter", tint.Err(err))
		b.interactionError(ctx, handler)
		return
	}

	oldName := ""
	newName := ""
	if channel, chErr := b.discord.session.Channel(existing.ChannelID); chErr == nil {
		oldName = channel.Name
		newName = stripCounterSuffix(channel.Name)
		if _, chErr = b.discord.session.ChannelEdit(
			existing.ChannelID,
			&discordgo.ChannelEdit{Name: newName},
		); chErr != nil {
			logger.WarnContext(ctx, "error reverting channel name", tint.Err(chErr))
		}
	}
	logger.InfoContext(ctx, "counter deleted", "counter", existing)

	b.counterEmbedReply(
		ctx, handler, "COUNTER REMOVED",
		fmt.Sprintf(
			"`%s` counter has been removed from the channel `%s` and the "+
				"channel has been reverted to `%s`.",
			titleCase(string(counterType)), oldName, newName,
		),
	)
}

// counterList lists the guild's configured counters.
func (b *BotStar) counterList(ctx context.Context, handler InteractionHandler) {
	logger := handler.Logger()
	i := handler.GetInteraction()

	counters, err := b.writeDB.GuildCounters(ctx, i.GuildID)
	if err != nil {
		logger.ErrorContext(ctx, "error loading counters", tint.Err(err))
		b.interactionError(ctx, handler)
		return
	}
	if len(counters) == 0 {
		b.ephemeralReply(ctx, handler, "There are no counters in this server.")
		return
	}

	lines := make([]string, 0, len(counters))
	for _, counter := range counters {
		lines = append(
			lines, fmt.Sprintf(
				"`%s` counter on <#%s>",
				titleCase(string(counter.Type)),
				counter.ChannelID,
			),
		)
	}
	b.counterEmbedReply(
		ctx, handler, "ACTIVE COUNTERS", strings.Join(lines, "\n"),
	)
}

func (b *BotStar) counterEmbedReply(
	ctx context.Context,
	handler InteractionHandler,
	title string,
	description string,
) {
	if err := handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{
					{
						Title:       title,
						Color:       embedColor,
						Description: description,
					},
				},
			},
		},
	); err != nil {
		handler.Logger().ErrorContext(
			ctx, "error responding to interaction", tint.Err(err),
		)
	}
}

// titleCase uppercases the first letter of a counter type for display.
func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
