package botstar

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// embedColor is the accent color used on command reply embeds.
const embedColor = 0x5865f2

// trackingPrivacyNotice is appended to every tracking toggle reply.
const trackingPrivacyNotice = "Tracking is disabled by default, and may be " +
	"disabled at any time by the user. This bot does not track users who " +
	"have not manually enabled tracking themselves. We make no guarantees " +
	"about data collected when a user has enabled tracking for themselves, " +
	"that data may be retained for an indefinite period, but no further " +
	"data will be collected if the user disables tracking."

// activityTrackingCommand handles the `/activitytracking` command.
func (b *BotStar) activityTrackingCommand(
	ctx context.Context,
	handler InteractionHandler,
	user *User,
) {
	i := handler.GetInteraction()
	options := discordInteractionOptions(i)

	switch {
	case options[subcommandGroupToggle] != nil:
		group := options[subcommandGroupToggle]
		if len(group.Options) == 0 {
			return
		}
		enable := group.Options[0].Name == subcommandEnable
		b.activityTrackingToggle(ctx, handler, user, enable)
	case options[subcommandHistory] != nil:
		b.activityTrackingHistory(ctx, handler, user, options[subcommandHistory])
	default:
		handler.Logger().WarnContext(
			ctx,
			"unknown activitytracking subcommand",
			"data", i.ApplicationCommandData(),
		)
	}
}

// activityTrackingToggle enables or disables presence logging for the
// calling user, updating both the stored preference and the in-memory
// tracked set so the change takes effect immediately.
func (b *BotStar) activityTrackingToggle(
	ctx context.Context,
	handler InteractionHandler,
	user *User,
	enable bool,
) {
	logger := handler.Logger()
	i := handler.GetInteraction()

	visibility := TrackingDisabled
	verb := "disabled"
	if enable {
		visibility = TrackingPublic
		verb = "enabled"
	}

	if _, err := b.writeDB.Update(
		ctx, user, columnUserTrackingVisibility, visibility,
	); err != nil {
		logger.ErrorContext(ctx, "error updating tracking preference", tint.Err(err))
		b.interactionError(ctx, handler)
		return
	}
	user.TrackingVisibility = visibility
	b.tracker.SetTracking(user.ID, enable)
	logger.InfoContext(
		ctx, "tracking preference updated",
		"user", user, "visibility", string(visibility),
	)

	discordUser := interactionUser(i)
	embed := &discordgo.MessageEmbed{
		Color: embedColor,
		Author: &discordgo.MessageEmbedAuthor{
			Name: fmt.Sprintf(
				"Tracking %s for %s.",
				verb,
				displayName(i.Member, discordUser),
			),
			IconURL: discordUser.AvatarURL("128"),
		},
		Description: trackingPrivacyNotice,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if err := handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{embed},
			},
		},
	); err != nil {
		logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	}
}

// activityTrackingHistory renders an activity card for the target user
// (default: the caller) covering the configured history window.
func (b *BotStar) activityTrackingHistory(
	ctx context.Context,
	handler InteractionHandler,
	caller *User,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	logger := handler.Logger()
	i := handler.GetInteraction()

	target := interactionUser(i)
	targetMember := i.Member
	if opts := subcommandOptions(sub); opts[optionTarget] != nil {
		target = opts[optionTarget].UserValue(nil)
		if resolved := i.ApplicationCommandData().Resolved; resolved != nil {
			if u, ok := resolved.Users[target.ID]; ok {
				target = u
			}
			if m, ok := resolved.Members[target.ID]; ok {
				targetMember = m
				if m.User == nil {
					m.User = target
				}
			} else {
				targetMember = nil
			}
		}
	}

	targetUser := caller
	if target.ID != caller.ID {
		var err error
		targetUser, _, err = b.writeDB.GetOrCreateUser(ctx, *target)
		if err != nil {
			logger.ErrorContext(ctx, "error loading target user", tint.Err(err))
			b.interactionError(ctx, handler)
			return
		}
	}

	// Private tracking data is only visible to its owner.
	if targetUser.TrackingVisibility == TrackingPrivate && caller.ID != targetUser.ID {
		b.interactionMessage(
			ctx, handler,
			"This user's tracking data is private.",
		)
		return
	}

	tracking := b.config.Tracking
	now := time.Now().UTC()
	endMs := now.UnixMilli()
	startMs := now.Add(-tracking.HistoryWindow).UnixMilli()

	records, err := b.writeDB.ActivitySince(ctx, targetUser.ID, startMs)
	if err != nil {
		logger.ErrorContext(ctx, "error querying activity", tint.Err(err))
		b.interactionError(ctx, handler)
		return
	}
	if len(records) == 0 {
		b.interactionMessage(
			ctx, handler,
			"No tracking data available for this user.",
		)
		return
	}

	// Card rendering can involve an avatar fetch; defer the reply.
	if err = handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		},
	); err != nil {
		logger.ErrorContext(ctx, "error deferring interaction", tint.Err(err))
		return
	}

	intervalMs := tracking.BucketInterval.Milliseconds()
	buckets := ReconstructTimeline(records, startMs, endMs, intervalMs)
	summaries, err := SummarizeBuckets(buckets, 1)
	if err != nil {
		logger.ErrorContext(ctx, "error summarizing timeline", tint.Err(err))
		return
	}
	runs := MergeDeviceRuns(buckets)

	legend, err := GenerateTimeLabels(
		startMs,
		endMs,
		tracking.LegendLabelCount,
		GranularityHours,
		targetUser.Location(tracking.DefaultTimezone),
	)
	if err != nil {
		logger.ErrorContext(ctx, "error generating legend", tint.Err(err))
		return
	}

	presence := PresenceOffline
	if last := records[len(records)-1]; last.TimestampMs <= endMs {
		presence = last.Presence
	}
	card := NewUserActivityCard(
		CardUser{
			ID:          targetUser.ID,
			DisplayName: displayName(targetMember, target),
			AvatarURL:   target.AvatarURL("128"),
			Presence:    presence,
		},
		historyWindowLabel(tracking.HistoryWindow),
	)
	if err = card.Init(ctx, nil); err != nil {
		logger.ErrorContext(ctx, "error initializing card", tint.Err(err))
		return
	}
	if err = card.RenderTimeline(summaries, runs, legend); err != nil {
		logger.ErrorContext(ctx, "error rendering timeline", tint.Err(err))
		return
	}
	png, err := card.EncodePNG()
	if err != nil {
		logger.ErrorContext(ctx, "error encoding card", tint.Err(err))
		return
	}

	if _, err = handler.Edit(
		ctx, &discordgo.WebhookEdit{
			Files: []*discordgo.File{
				{
					Name:        "activity.png",
					ContentType: "image/png",
					Reader:      bytes.NewReader(png),
				},
			},
		},
	); err != nil {
		logger.ErrorContext(ctx, "error sending activity card", tint.Err(err))
	}
}

// historyWindowLabel renders a window duration as a compact label for the
// card title ('24hr', '7d').
func historyWindowLabel(window time.Duration) string {
	if window%(24*time.Hour) == 0 && window >= 48*time.Hour {
		return fmt.Sprintf("%dd", int(window.Hours())/24)
	}
	return fmt.Sprintf("%dhr", int(window.Hours()))
}

// interactionMessage sends a simple embed-only reply.
func (b *BotStar) interactionMessage(
	ctx context.Context,
	handler InteractionHandler,
	message string,
) {
	if err := handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{
					{Color: embedColor, Description: message},
				},
			},
		},
	); err != nil {
		handler.Logger().ErrorContext(
			ctx, "error responding to interaction", tint.Err(err),
		)
	}
}

// interactionError sends a generic, ephemeral failure reply.
func (b *BotStar) interactionError(ctx context.Context, handler InteractionHandler) {
	if err := handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: "Something went wrong. Please try again later.",
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	); err != nil {
		handler.Logger().ErrorContext(
			ctx, "error sending error response", tint.Err(err),
		)
	}
}
