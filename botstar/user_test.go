package botstar

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackingVisibilityScan(t *testing.T) {
	t.Parallel()

	var v TrackingVisibility
	require.NoError(t, v.Scan("public"))
	assert.Equal(t, TrackingPublic, v)

	require.NoError(t, v.Scan([]byte("PRIVATE")))
	assert.Equal(t, TrackingPrivate, v)

	require.NoError(t, v.Scan("disabled"))
	assert.Equal(t, TrackingDisabled, v)

	// absent preferences read as disabled
	require.NoError(t, v.Scan(nil))
	assert.Equal(t, TrackingDisabled, v)
	require.NoError(t, v.Scan(""))
	assert.Equal(t, TrackingDisabled, v)

	assert.Error(t, v.Scan("friends-only"))
	assert.Error(t, v.Scan(42))
}

func TestTrackingVisibilityEnabled(t *testing.T) {
	t.Parallel()

	assert.True(t, TrackingPublic.Enabled())
	assert.True(t, TrackingPrivate.Enabled())
	assert.False(t, TrackingDisabled.Enabled())
	assert.False(t, TrackingVisibility("").Enabled())
}

func TestNewUser(t *testing.T) {
	t.Parallel()

	user, err := NewUser(
		discordgo.User{
			ID:         t.Name(),
			Username:   "some_user",
			GlobalName: "Some User",
			Bot:        false,
		},
	)
	require.NoError(t, err)
	assert.Equal(t, t.Name(), user.ID)
	assert.Equal(t, TrackingDisabled, user.TrackingVisibility)
	assert.Empty(t, user.Timezone)
	assert.Greater(t, user.LastSeen, int64(0))
}

func TestUserLocation(t *testing.T) {
	t.Parallel()

	eastern, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)

	user := &User{ID: t.Name(), Timezone: "America/New_York"}
	assert.Equal(t, eastern, user.Location("Europe/London"))

	user.Timezone = ""
	assert.Equal(t, london, user.Location("Europe/London"))

	// invalid zones fall through to the default, then UTC
	user.Timezone = "Not/A_Zone"
	assert.Equal(t, london, user.Location("Europe/London"))
	assert.Equal(t, time.UTC, user.Location("Also/Not_A_Zone"))

	var nilUser *User
	assert.Equal(t, time.UTC, nilUser.Location("bogus"))
}

func TestUserMarshalJSONNormalizesVisibility(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(User{ID: t.Name()})
	require.NoError(t, err)

	parsed := map[string]any{}
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, "disabled", parsed["tracking_visibility"])
}
