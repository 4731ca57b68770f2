package botstar

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestLongestString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, -1, longestString(nil))
	assert.Equal(t, 0, longestString([]string{"only"}))
	assert.Equal(t, 1, longestString([]string{"ab", "abcd", "abc"}))
	// first wins on ties
	assert.Equal(t, 0, longestString([]string{"aaa", "bbb"}))
}

func TestInteractionUser(t *testing.T) {
	t.Parallel()

	guildUser := &discordgo.User{ID: "guild-user"}
	dmUser := &discordgo.User{ID: "dm-user"}

	i := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Member: &discordgo.Member{User: guildUser},
			User:   dmUser,
		},
	}
	assert.Same(t, guildUser, interactionUser(i))

	i.Member = nil
	assert.Same(t, dmUser, interactionUser(i))
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	user := &discordgo.User{Username: "some_user", GlobalName: "Some User"}

	assert.Equal(
		t,
		"Nickname",
		displayName(&discordgo.Member{Nick: "Nickname"}, user),
	)
	assert.Equal(t, "Some User", displayName(nil, user))

	user.GlobalName = ""
	assert.Equal(t, "some_user", displayName(&discordgo.Member{}, user))

	assert.Equal(t, "", displayName(nil, nil))
}

func TestSubcommandOptions(t *testing.T) {
	t.Parallel()

	opt := &discordgo.ApplicationCommandInteractionDataOption{
		Name: subcommandSet,
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{Name: optionRegion, Value: "America"},
			{Name: optionSubregion, Value: "New_York"},
		},
	}
	opts := subcommandOptions(opt)
	assert.Len(t, opts, 2)
	assert.Equal(t, "America", opts[optionRegion].Value)
	assert.Equal(t, "New_York", opts[optionSubregion].Value)
}
