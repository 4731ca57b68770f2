package botstar

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CounterType determines which guild members a counter channel counts.
type CounterType string

const (
	// CounterMembers counts only non-bot members.
	CounterMembers CounterType = "members"

	// CounterBots counts only bot members.
	CounterBots CounterType = "bots"

	// CounterAll counts every member.
	CounterAll CounterType = "all"
)

// counterSuffixPattern matches a channel name that already carries a
// counter value, capturing the base name.
var counterSuffixPattern = regexp.MustCompile(`^(.*): \d+$`)

// stripCounterSuffix removes a trailing `: <count>` from a channel name,
// leaving the channel's own base name.
func stripCounterSuffix(name string) string {
	if m := counterSuffixPattern.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	return name
}

// Counter is a guild channel whose name displays a live member count.
// One row exists per (guild, type) pair.
type Counter struct {
	ModelUintID
	ModelUnixTime
	GuildID   string      `json:"guild_id" gorm:"uniqueIndex:idx_counter_guild_type"`
	ChannelID string      `json:"channel_id" gorm:"not null"`
	Type      CounterType `json:"type" gorm:"uniqueIndex:idx_counter_guild_type"`
}

func (c Counter) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("guild_id", c.GuildID),
		slog.String("channel_id", c.ChannelID),
		slog.String("type", string(c.Type)),
	)
}

// parseCounterType validates a counter type string from a command option.
func parseCounterType(s string) (CounterType, error) {
	switch CounterType(s) {
	case CounterMembers, CounterBots, CounterAll:
		return CounterType(s), nil
	default:
		return "", fmt.Errorf("%w: unknown counter type %q", ErrInvalidArgument, s)
	}
}

// SaveCounter upserts a counter row, replacing any existing counter of the
// same type in the guild.
func (d *database) SaveCounter(ctx context.Context, counter *Counter) error {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	if _, deadline := ctx.Deadline(); !deadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	rv := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}, {Name: "type"}},
		DoUpdates: clause.AssignmentColumns([]string{"channel_id", "updated_at"}),
	}).Create(counter)
	if rv.Error != nil {
		return fmt.Errorf("%w: saving counter: %w", ErrStorage, rv.Error)
	}
	return nil
}

// DeleteCounter removes a counter row. A missing row deletes zero rows
// and returns (false, nil).
func (d *database) DeleteCounter(
	ctx context.Context,
	guildID string,
	counterType CounterType,
) (bool, error) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	if _, deadline := ctx.Deadline(); !deadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	rv := d.db.WithContext(ctx).Where(
		"guild_id = ? AND type = ?",
		guildID,
		counterType,
	).Delete(&Counter{})
	if rv.Error != nil {
		return false, fmt.Errorf("%w: deleting counter: %w", ErrStorage, rv.Error)
	}
	return rv.RowsAffected > 0, nil
}

// GuildCounters returns all counters configured for a guild.
func (d *database) GuildCounters(
	ctx context.Context,
	guildID string,
) ([]Counter, error) {
	if _, deadline := ctx.Deadline(); !deadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	counters := make([]Counter, 0)
	rv := d.db.WithContext(ctx).Where(
		"guild_id = ?",
		guildID,
	).Order("type").Find(&counters)
	if rv.Error != nil {
		return nil, fmt.Errorf("%w: loading counters: %w", ErrStorage, rv.Error)
	}
	return counters, nil
}

// AllCounters returns every counter row, used for the startup refresh.
func (d *database) AllCounters(ctx context.Context) ([]Counter, error) {
	if _, deadline := ctx.Deadline(); !deadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	counters := make([]Counter, 0)
	rv := d.db.WithContext(ctx).Order("guild_id, type").Find(&counters)
	if rv.Error != nil {
		return nil, fmt.Errorf("%w: loading counters: %w", ErrStorage, rv.Error)
	}
	return counters, nil
}

// GetCounter returns a guild's counter of the given type, or
// gorm.ErrRecordNotFound.
func (d *database) GetCounter(
	ctx context.Context,
	guildID string,
	counterType CounterType,
) (*Counter, error) {
	if _, deadline := ctx.Deadline(); !deadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	var counter Counter
	rv := d.db.WithContext(ctx).Where(
		"guild_id = ? AND type = ?",
		guildID,
		counterType,
	).First(&counter)
	if rv.Error != nil {
		if rv.Error == gorm.ErrRecordNotFound {
			return nil, rv.Error
		}
		return nil, fmt.Errorf("%w: loading counter: %w", ErrStorage, rv.Error)
	}
	return &counter, nil
}

// countGuildMembers counts the guild's members matching the counter type.
// Counts come from the session state cache, which is populated when the
// GuildMembers intent is enabled.
func countGuildMembers(
	guild *discordgo.Guild,
	counterType CounterType,
) int {
	switch counterType {
	case CounterAll:
		// MemberCount is maintained by the gateway even when the member
		// list itself hasn't been fully chunked.
		if guild.MemberCount > 0 {
			return guild.MemberCount
		}
		return len(guild.Members)
	case CounterBots:
		n := 0
		for _, m := range guild.Members {
			if m.User != nil && m.User.Bot {
				n++
			}
		}
		return n
	default:
		n := 0
		for _, m := range guild.Members {
			if m.User != nil && !m.User.Bot {
				n++
			}
		}
		return n
	}
}

// counterChannelName builds the channel name for a counter, preserving
// the channel's own base name.
func counterChannelName(currentName string, count int) string {
	return fmt.Sprintf("%s: %d", stripCounterSuffix(currentName), count)
}

// refreshCounter updates a single counter channel's name to the current
// member count.
func (b *BotStar) refreshCounter(counter Counter) error {
	guild, err := b.discord.session.Guild(counter.GuildID)
	if err != nil {
		return fmt.Errorf("error getting guild %s: %w", counter.GuildID, err)
	}
	channel, err := b.discord.session.Channel(counter.ChannelID)
	if err != nil {
		return fmt.Errorf("error getting channel %s: %w", counter.ChannelID, err)
	}
	count := countGuildMembers(guild, counter.Type)
	name := counterChannelName(channel.Name, count)
	if name == channel.Name {
		return nil
	}
	_, err = b.discord.session.ChannelEdit(
		counter.ChannelID,
		&discordgo.ChannelEdit{Name: name},
	)
	if err != nil {
		return fmt.Errorf("error renaming channel %s: %w", counter.ChannelID, err)
	}
	return nil
}

// refreshAllCounters updates every counter channel. Called on startup and
// on member join/leave events. Channel renames are rate limited hard by
// Discord (2 per 10 minutes), so failures here are logged and skipped.
func (b *BotStar) refreshAllCounters(ctx context.Context) {
	counters, err := b.writeDB.AllCounters(ctx)
	if err != nil {
		b.logger.Error("error loading counters", tint.Err(err))
		return
	}
	for _, counter := range counters {
		if err := b.refreshCounter(counter); err != nil {
			b.logger.Warn(
				"error refreshing counter",
				tint.Err(err),
				"counter", counter,
			)
		}
	}
}

// refreshGuildCounters updates the counter channels for one guild.
func (b *BotStar) refreshGuildCounters(ctx context.Context, guildID string) {
	counters, err := b.writeDB.GuildCounters(ctx, guildID)
	if err != nil {
		b.logger.Error("error loading counters", tint.Err(err), "guild_id", guildID)
		return
	}
	for _, counter := range counters {
		if err := b.refreshCounter(counter); err != nil {
			b.logger.Warn(
				"error refreshing counter",
				tint.Err(err),
				"counter", counter,
			)
		}
	}
}
