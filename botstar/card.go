package botstar

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

const (
	cardWidth  = 800
	cardHeight = 360

	cardBackgroundColor = "#29292e"
	cardBorderColor     = "#202020"
	cardBorderThickness = 20
	cardTextColor       = "#ffffff"

	deviceActiveColor   = "#43b581"
	deviceInactiveColor = "#36393f"

	avatarSize = 128

	legendTextWidth = 40
)

var avatarFetchTimeout = 10 * time.Second

var (
	fontOnce   sync.Once
	parsedFont *opentype.Font
	fontErr    error
	faceMu     sync.Mutex
	faceCache  = map[float64]font.Face{}
)

// fontFace returns a Go Regular face at the given point size. Faces are
// cached; the underlying font parses once.
func fontFace(points float64) (font.Face, error) {
	fontOnce.Do(
		func() {
			parsedFont, fontErr = opentype.Parse(goregular.TTF)
		},
	)
	if fontErr != nil {
		return nil, fontErr
	}
	faceMu.Lock()
	defer faceMu.Unlock()
	if face, ok := faceCache[points]; ok {
		return face, nil
	}
	face, err := opentype.NewFace(
		parsedFont, &opentype.FaceOptions{
			Size:    points,
			DPI:     72,
			Hinting: font.HintingFull,
		},
	)
	if err != nil {
		return nil, err
	}
	faceCache[points] = face
	return face, nil
}

// Card wraps a 2D drawing context with the primitives the bot's image
// templates are built from (rectangles, circles, pills, autosized text).
type Card struct {
	dc     *gg.Context
	width  int
	height int
}

func NewCard(w, h int) *Card {
	return &Card{dc: gg.NewContext(w, h), width: w, height: h}
}

// SetBackground fills the canvas with bgColor and, if borderColor is
// non-empty, strokes a border of the given thickness around it.
func (c *Card) SetBackground(bgColor, borderColor string, thickness float64) {
	c.DrawRectangle(0, 0, float64(c.width), float64(c.height), bgColor)
	if borderColor != "" {
		c.dc.SetHexColor(borderColor)
		c.dc.SetLineWidth(thickness)
		c.dc.DrawRectangle(0, 0, float64(c.width), float64(c.height))
		c.dc.Stroke()
	}
}

// DrawRectangle draws a solid rectangle with its top-left corner at (x, y).
func (c *Card) DrawRectangle(x, y, w, h float64, color string) {
	c.dc.SetHexColor(color)
	c.dc.DrawRectangle(x, y, w, h)
	c.dc.Fill()
}

// DrawCircle draws a solid circle centered at (x, y).
func (c *Card) DrawCircle(x, y, radius float64, color string) {
	c.dc.SetHexColor(color)
	c.dc.DrawCircle(x, y, radius)
	c.dc.Fill()
}

// DrawCircleOutline strokes a circle outline centered at (x, y).
func (c *Card) DrawCircleOutline(x, y, radius float64, color string, thickness float64) {
	c.dc.SetHexColor(color)
	c.dc.SetLineWidth(thickness)
	c.dc.DrawCircle(x, y, radius)
	c.dc.Stroke()
}

// DrawPillBody draws a vertical "pill": a rectangle capped by semicircles.
// (x, y) is the imaginary top-left corner cut off by the fillet. Since the
// rectangle covers the arc midsections we can cheat and use full circles.
func (c *Card) DrawPillBody(x, y, w, h float64, color string) {
	radius := w / 2
	c.DrawCircle(x+radius, y+radius, radius, color)
	c.DrawRectangle(x, y+radius, w, h, color)
	c.DrawCircle(x+radius, y+radius+h, radius, color)
}

// sizeTextFace finds the largest face, descending from 100pt, whose
// rendering of text fits maxWidth.
func (c *Card) sizeTextFace(text string, maxWidth float64) (font.Face, error) {
	fontSize := 100.0
	for {
		if fontSize <= 20 {
			fontSize -= 3
		} else {
			fontSize -= 10
		}
		if fontSize <= 0 {
			return fontFace(1)
		}
		face, err := fontFace(fontSize)
		if err != nil {
			return nil, err
		}
		c.dc.SetFontFace(face)
		if w, _ := c.dc.MeasureString(text); w <= maxWidth {
			return face, nil
		}
	}
}

// DrawText draws text with its bottom-left corner at (x, y), autosized to
// fit maxWidth.
func (c *Card) DrawText(text string, x, y, maxWidth float64, color string) error {
	face, err := c.sizeTextFace(text, maxWidth)
	if err != nil {
		return err
	}
	c.dc.SetFontFace(face)
	c.dc.SetHexColor(color)
	c.dc.DrawString(text, x, y)
	return nil
}

// drawTextFixed draws text without autosizing; the caller is responsible
// for having set an appropriate face.
func (c *Card) drawTextFixed(text string, x, y float64, color string) {
	c.dc.SetHexColor(color)
	c.dc.DrawString(text, x, y)
}

// DrawAvatar draws the given image as a circle of diameter avatarSize
// with its top-left corner at (x, y), optionally ringed with a border.
func (c *Card) DrawAvatar(im image.Image, x, y float64, borderColor string, borderThickness float64) {
	radius := float64(avatarSize) / 2
	scaled := gg.NewContext(avatarSize, avatarSize)
	scaled.DrawImage(resizeImage(im, avatarSize, avatarSize), 0, 0)

	c.dc.Push()
	c.dc.DrawCircle(x+radius, y+radius, radius)
	c.dc.Clip()
	c.dc.DrawImage(scaled.Image(), int(x), int(y))
	c.dc.ResetClip()
	c.dc.Pop()

	if borderColor != "" {
		c.DrawCircleOutline(
			x+radius, y+radius, radius+borderThickness/2,
			borderColor, borderThickness,
		)
	}
}

// DrawSegmentBar draws a bar of equal pill segments, one per color, and
// (optionally) a row of legend markers spaced evenly beneath it.
func (c *Card) DrawSegmentBar(
	x, y, maxWidth, height float64,
	colors []string,
	segmentSpacing float64,
	legend []string,
) error {
	if len(colors) == 0 {
		return fmt.Errorf("%w: segment bar needs at least one color", ErrInvalidArgument)
	}
	// Trim any extra width that won't divide evenly, and recenter.
	extraWidth := math.Mod(maxWidth+segmentSpacing, float64(len(colors)))
	adjWidth := maxWidth - extraWidth
	x += math.Ceil(extraWidth / 2)

	segmentWidth := adjWidth/float64(len(colors)) - segmentSpacing
	for i, color := range colors {
		iX := x + float64(i)*(segmentWidth+segmentSpacing)
		c.DrawPillBody(iX, y, segmentWidth, height, color)
	}

	if len(legend) > 1 {
		longest := legend[longestString(legend)]
		face, err := c.sizeTextFace(longest, legendTextWidth)
		if err != nil {
			return err
		}
		c.dc.SetFontFace(face)
		step := math.Floor(adjWidth / float64(len(legend)-1))
		for i, label := range legend {
			iX := x + float64(i)*step - legendTextWidth/2
			c.drawTextFixed(label, iX, y+height+20, cardTextColor)
		}
	}
	return nil
}

// DrawDeviceRows draws one thin row per device surface (mobile, desktop,
// web), with each run-length-merged span filled when that device was
// connected.
func (c *Card) DrawDeviceRows(
	x, y, maxWidth, rowHeight float64,
	runs []DeviceRun,
) error {
	total := 0
	for _, r := range runs {
		total += r.Buckets
	}
	if total == 0 {
		return nil
	}

	labels := []string{"mobile", "desktop", "web"}
	active := func(run DeviceRun, row int) bool {
		switch row {
		case 0:
			return run.Devices.Mobile
		case 1:
			return run.Devices.Desktop
		default:
			return run.Devices.Web
		}
	}

	labelWidth := 70.0
	barWidth := maxWidth - labelWidth
	face, err := fontFace(14)
	if err != nil {
		return err
	}
	c.dc.SetFontFace(face)

	for row, label := range labels {
		rowY := y + float64(row)*(rowHeight+4)
		c.drawTextFixed(label, x, rowY+rowHeight-2, cardTextColor)

		runX := x + labelWidth
		for _, run := range runs {
			runW := barWidth * float64(run.Buckets) / float64(total)
			color := deviceInactiveColor
			if active(run, row) {
				color = deviceActiveColor
			}
			c.DrawRectangle(runX, rowY, runW, rowHeight, color)
			runX += runW
		}
	}
	return nil
}

// EncodePNG returns the rendered card as PNG bytes.
func (c *Card) EncodePNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := c.dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CardUser is the plain-data view of a user consumed by card templates.
// The renderer is purely presentational: it never touches Discord or the
// database.
type CardUser struct {
	ID          string
	DisplayName string
	AvatarURL   string
	Presence    Presence
}

// UserCard is the base user-card template: bordered background, circular
// avatar with a presence-colored ring, title, display name and user ID.
type UserCard struct {
	Card
	user  CardUser
	title string
}

func NewUserCard(user CardUser, title string) *UserCard {
	return &UserCard{
		Card:  *NewCard(cardWidth, cardHeight),
		user:  user,
		title: title,
	}
}

// Init draws the card template. A failed avatar fetch degrades to a
// plain presence-colored disc rather than failing the whole card.
func (u *UserCard) Init(ctx context.Context, client *http.Client) error {
	u.SetBackground(cardBackgroundColor, cardBorderColor, cardBorderThickness)

	avatar, err := fetchImage(ctx, client, u.user.AvatarURL)
	if err == nil {
		u.DrawAvatar(avatar, 25, 25, u.user.Presence.Color(), 5)
	} else {
		u.DrawCircle(
			25+float64(avatarSize)/2,
			25+float64(avatarSize)/2,
			float64(avatarSize)/2,
			u.user.Presence.Color(),
		)
	}

	if err = u.DrawText(u.title, 180, 55, 400, cardTextColor); err != nil {
		return err
	}
	if err = u.DrawText(u.user.DisplayName, 180, 135, 500, cardTextColor); err != nil {
		return err
	}
	return u.DrawText(
		fmt.Sprintf("id:%s", u.user.ID), 590, 40, 200, cardTextColor,
	)
}

// UserActivityCard renders a user's reconstructed activity timeline:
// a segment bar of summarized presence colors, the run-length-merged
// device rows, and the timezone-localized legend.
type UserActivityCard struct {
	UserCard
}

func NewUserActivityCard(user CardUser, timePeriod string) *UserActivityCard {
	return &UserActivityCard{
		UserCard: *NewUserCard(user, fmt.Sprintf("User Activity %s:", timePeriod)),
	}
}

// RenderTimeline draws the activity bar, device rows and legend onto the
// initialized card template.
func (u *UserActivityCard) RenderTimeline(
	summaries []GroupSummary,
	runs []DeviceRun,
	legend []string,
) error {
	colors := make([]string, 0, len(summaries))
	for _, s := range summaries {
		colors = append(colors, s.Presence.Color())
	}
	if err := u.DrawSegmentBar(20, 170, 760, 70, colors, 3, legend); err != nil {
		return err
	}
	return u.DrawDeviceRows(20, 290, 760, 14, runs)
}

// fetchImage retrieves and decodes an image over HTTP.
func fetchImage(
	ctx context.Context,
	client *http.Client,
	url string,
) (image.Image, error) {
	if url == "" {
		return nil, fmt.Errorf("no image URL")
	}
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, avatarFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching image", resp.StatusCode)
	}
	im, _, err := image.Decode(resp.Body)
	return im, err
}

// resizeImage scales an image to the given size with nearest-neighbor
// sampling. Avatars are small; anything fancier isn't visible at card
// resolution.
func resizeImage(im image.Image, w, h int) image.Image {
	bounds := im.Bounds()
	if bounds.Dx() == w && bounds.Dy() == h {
		return im
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		srcY := bounds.Min.Y + y*bounds.Dy()/h
		for x := 0; x < w; x++ {
			srcX := bounds.Min.X + x*bounds.Dx()/w
			out.Set(x, y, im.At(srcX, srcY))
		}
	}
	return out
}
