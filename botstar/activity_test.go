package botstar

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogActivityAndActivitySince(t *testing.T) {
	t.Parallel()

	db := testWriteDB(t)
	ctx := context.Background()

	base := time.Now().UTC().UnixMilli()
	records := []*ActivityRecord{
		{
			UserID:      t.Name(),
			Presence:    PresenceOnline,
			StatusText:  StatusNone,
			TimestampMs: base,
			DeviceFlags: DeviceFlags{Desktop: true},
		},
		{
			UserID:      t.Name(),
			Presence:    PresenceIdle,
			StatusText:  "afk",
			TimestampMs: base + 1000,
			DeviceFlags: DeviceFlags{Desktop: true},
		},
		{
			UserID:      t.Name(),
			Presence:    PresenceOffline,
			StatusText:  StatusNone,
			TimestampMs: base + 2000,
		},
	}
	// insert out of order to verify the query sorts
	for _, i := range []int{2, 0, 1} {
		require.NoError(t, db.LogActivity(ctx, records[i]))
	}

	// a record for another user must not bleed in
	require.NoError(
		t, db.LogActivity(
			ctx, &ActivityRecord{
				UserID:      t.Name() + "-other",
				Presence:    PresenceOnline,
				StatusText:  StatusNone,
				TimestampMs: base,
			},
		),
	)

	got, err := db.ActivitySince(ctx, t.Name(), base)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, PresenceOnline, got[0].Presence)
	assert.Equal(t, PresenceIdle, got[1].Presence)
	assert.Equal(t, PresenceOffline, got[2].Presence)
	assert.True(t, got[0].TimestampMs <= got[1].TimestampMs)
	assert.True(t, got[1].TimestampMs <= got[2].TimestampMs)
	assert.Equal(t, DeviceFlags{Desktop: true}, got[0].DeviceFlags)
	assert.Equal(t, "afk", got[1].StatusText)

	// sinceMs is inclusive
	got, err = db.ActivitySince(ctx, t.Name(), base+1000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, PresenceIdle, got[0].Presence)
}

func TestActivitySinceEmptyWindow(t *testing.T) {
	t.Parallel()

	db := testWriteDB(t)
	got, err := db.ActivitySince(context.Background(), t.Name(), 0)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCleanupActivityLogs(t *testing.T) {
	t.Parallel()

	db := testWriteDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	stale := []*ActivityRecord{
		{
			UserID:      t.Name(),
			Presence:    PresenceOnline,
			StatusText:  StatusNone,
			TimestampMs: now.Add(-10 * 24 * time.Hour).UnixMilli(),
		},
		{
			UserID:      t.Name(),
			Presence:    PresenceOffline,
			StatusText:  StatusNone,
			TimestampMs: now.Add(-8 * 24 * time.Hour).UnixMilli(),
		},
	}
	fresh := &ActivityRecord{
		UserID:      t.Name(),
		Presence:    PresenceIdle,
		StatusText:  StatusNone,
		TimestampMs: now.Add(-time.Hour).UnixMilli(),
	}
	for _, rec := range append(stale, fresh) {
		require.NoError(t, db.LogActivity(ctx, rec))
	}

	deleted, err := db.CleanupActivityLogs(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	remaining, err := db.ActivitySince(ctx, t.Name(), 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, PresenceIdle, remaining[0].Presence)

	// a second pass has nothing left to remove
	deleted, err = db.CleanupActivityLogs(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)
}

func TestPresenceColor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "#43b581", PresenceOnline.Color())
	assert.Equal(t, "#747f8d", PresenceOffline.Color())
	assert.Equal(t, PresenceOffline.Color(), Presence("mystery").Color())
}

func TestGetOrCreateUser(t *testing.T) {
	t.Parallel()

	db := testWriteDB(t)
	ctx := context.Background()

	discordUser := discordgo.User{
		ID:         t.Name(),
		Username:   "some_user",
		GlobalName: "Some User",
	}
	user, created, err := db.GetOrCreateUser(ctx, discordUser)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, user)
	assert.Equal(t, TrackingDisabled, user.TrackingVisibility)
	assert.Equal(t, "some_user", user.Username)

	again, created, err := db.GetOrCreateUser(ctx, discordUser)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, user, again)

	assert.Same(t, user, db.GetUser(discordUser.ID))
	assert.Nil(t, db.GetUser("never-seen"))
}

func TestGetOrCreateUserRefreshesLastSeen(t *testing.T) {
	t.Parallel()

	db := testWriteDB(t)
	ctx := context.Background()

	discordUser := discordgo.User{
		ID:         t.Name(),
		Username:   "old_name",
		GlobalName: "Old Name",
	}
	user, _, err := db.GetOrCreateUser(ctx, discordUser)
	require.NoError(t, err)

	// backdate the stored timestamp so the refresh is observable
	stale := time.Now().UTC().Add(-time.Hour).UnixMilli()
	_, err = db.Update(ctx, user, columnUserLastSeen, stale)
	require.NoError(t, err)
	user.LastSeen = stale

	discordUser.Username = "new_name"
	discordUser.GlobalName = "New Name"
	refreshed, created, err := db.GetOrCreateUser(ctx, discordUser)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Greater(t, refreshed.LastSeen, stale)
	assert.Equal(t, "new_name", refreshed.Username)
	assert.Equal(t, "New Name", refreshed.GlobalName)

	var stored User
	rv := db.DB().Where("id = ?", t.Name()).Find(&stored)
	require.NoError(t, rv.Error)
	assert.Equal(t, refreshed.LastSeen, stored.LastSeen)
	assert.Equal(t, "new_name", stored.Username)
	assert.Equal(t, "New Name", stored.GlobalName)
}

func TestReloadUser(t *testing.T) {
	t.Parallel()

	db := testWriteDB(t)
	ctx := context.Background()

	assert.Nil(t, db.ReloadUser(t.Name()))

	user, _, err := db.GetOrCreateUser(ctx, discordgo.User{ID: t.Name()})
	require.NoError(t, err)

	_, err = db.Update(ctx, user, columnUserTimezone, "America/Chicago")
	require.NoError(t, err)

	reloaded := db.ReloadUser(t.Name())
	require.NotNil(t, reloaded)
	assert.Equal(t, "America/Chicago", reloaded.Timezone)
	assert.Same(t, reloaded, db.GetUser(t.Name()))
}
