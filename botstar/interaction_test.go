package botstar

import (
	"log/slog"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUserInteraction(t *testing.T) {
	t.Parallel()

	i := commandInteraction(
		t.Name(), "guild-1", DiscordSlashCommandTimezone,
	)
	i.Token = "interaction-token"
	user := &User{ID: t.Name(), Username: "some_user"}

	before := time.Now().UTC()
	r := NewUserInteraction(i, user)
	require.NotNil(t, r)

	assert.Equal(t, i.ID, r.InteractionID)
	assert.Equal(t, "interaction-token", r.Token)
	assert.Equal(t, "guild-1", r.GuildID)
	assert.Equal(t, discordgo.InteractionApplicationCommand.String(), r.Type)
	assert.Same(t, user, r.User)
	assert.Equal(t, t.Name(), r.UserID)

	// the token expiry mirrors Discord's 15-minute interaction window
	expiresAt := time.UnixMilli(r.TokenExpires)
	assert.WithinDuration(
		t,
		before.Add(discordInteractionTokenLifespan),
		expiresAt,
		5*time.Second,
	)
}

func TestNewUserInteractionNilUser(t *testing.T) {
	t.Parallel()

	i := commandInteraction(t.Name(), "", DiscordSlashCommandCounter)
	r := NewUserInteraction(i, nil)
	require.NotNil(t, r)
	assert.Nil(t, r.User)
	assert.Empty(t, r.UserID)
}

func TestInteractionLogValue(t *testing.T) {
	t.Parallel()

	r := Interaction{
		UserID:        t.Name(),
		InteractionID: "interaction-1",
		AppID:         "app-1",
		Type:          discordgo.InteractionApplicationCommand.String(),
	}
	attrs := map[string]slog.Value{}
	for _, attr := range r.LogValue().Group() {
		attrs[attr.Key] = attr.Value
	}
	assert.Equal(t, t.Name(), attrs[columnUserID].String())
	assert.Equal(t, "interaction-1", attrs["interaction_id"].String())
	assert.Equal(t, "app-1", attrs["app_id"].String())
}
