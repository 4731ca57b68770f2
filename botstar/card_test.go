package botstar

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCardEncodePNG(t *testing.T) {
	t.Parallel()

	card := NewCard(100, 50)
	card.SetBackground(cardBackgroundColor, cardBorderColor, 4)
	card.DrawCircle(25, 25, 10, "#43b581")

	data, err := card.EncodePNG()
	require.NoError(t, err)
	require.NotEmpty(t, data)

	decoded, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 50), decoded.Bounds())
}

func TestUserActivityCardRenderTimeline(t *testing.T) {
	t.Parallel()

	card := NewUserActivityCard(
		CardUser{
			ID:          t.Name(),
			DisplayName: "Some User",
			Presence:    PresenceOnline,
		},
		"(24hr)",
	)
	// no avatar URL: Init falls back to the placeholder avatar
	require.NoError(t, card.Init(context.Background(), nil))

	summaries := []GroupSummary{
		{Presence: PresenceOffline},
		{Presence: PresenceOnline},
		{Presence: PresenceOnline},
		{Presence: PresenceIdle},
		{Presence: PresenceDND},
		{Presence: PresenceOffline},
	}
	runs := []DeviceRun{
		{Devices: DeviceFlags{}, Buckets: 1},
		{Devices: DeviceFlags{Desktop: true}, Buckets: 3},
		{Devices: DeviceFlags{Mobile: true, Web: true}, Buckets: 2},
	}
	legend := []string{"12 AM", "6 AM", "12 PM", "6 PM", "12 AM"}
	require.NoError(t, card.RenderTimeline(summaries, runs, legend))

	data, err := card.EncodePNG()
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestUserCardInitFetchesAvatar(t *testing.T) {
	t.Parallel()

	avatar := image.NewRGBA(image.Rect(0, 0, 64, 64))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, avatar))

	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "image/png")
				_, _ = w.Write(buf.Bytes())
			},
		),
	)
	t.Cleanup(srv.Close)

	card := NewUserCard(
		CardUser{
			ID:          t.Name(),
			DisplayName: "Some User",
			AvatarURL:   srv.URL + "/avatar.png",
			Presence:    PresenceDND,
		},
		"User Activity (7d):",
	)
	require.NoError(t, card.Init(context.Background(), srv.Client()))

	data, err := card.EncodePNG()
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestDrawSegmentBarRejectsEmpty(t *testing.T) {
	t.Parallel()

	card := NewCard(100, 50)
	err := card.DrawSegmentBar(0, 0, 90, 10, nil, 1, nil)
	assert.Error(t, err)
}

func TestResizeImage(t *testing.T) {
	t.Parallel()

	src := image.NewRGBA(image.Rect(0, 0, 10, 10))
	resized := resizeImage(src, 4, 4)
	assert.Equal(t, image.Rect(0, 0, 4, 4), resized.Bounds())

	// an image already at the target size is returned as-is
	same := resizeImage(src, 10, 10)
	assert.Equal(t, src, same)
}
