package botstar

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

var (
	columnUserID                 = "user_id"
	columnUserUsername           = "username"
	columnUserGlobalName         = "global_name"
	columnUserLastSeen           = "last_seen"
	columnUserTimezone           = "timezone"
	columnUserTrackingVisibility = "tracking_visibility"
)

const (
	// TrackingPublic allows anyone in a shared guild to view the user's
	// activity history.
	TrackingPublic TrackingVisibility = "public"

	// TrackingPrivate logs activity, but only the user themselves may
	// view their history.
	TrackingPrivate TrackingVisibility = "private"

	// TrackingDisabled suppresses all presence logging for the user.
	// This is the default for users with no stored preference.
	TrackingDisabled TrackingVisibility = "disabled"
)

// TrackingVisibility is a user's activity-tracking preference. A user with
// no stored preference is treated as [TrackingDisabled]; the preference is
// only ever created or changed by an explicit user action, never by
// presence events.
type TrackingVisibility string

// Scan implements the sql.Scanner interface.
func (v *TrackingVisibility) Scan(value any) error {
	switch val := value.(type) {
	case nil:
		*v = TrackingDisabled
		return nil
	case []byte:
		return v.parse(string(val))
	case string:
		return v.parse(val)
	default:
		return fmt.Errorf("invalid type for TrackingVisibility: %T", value)
	}
}

// Value implements the driver.Valuer interface.
func (v TrackingVisibility) Value() (driver.Value, error) {
	return string(v), nil
}

// GormDataType implements the gorm.GormDataTypeInterface interface.
func (TrackingVisibility) GormDataType() string {
	return "string"
}

func (v *TrackingVisibility) parse(s string) error {
	switch strings.ToLower(s) {
	case "", string(TrackingDisabled):
		*v = TrackingDisabled
	case string(TrackingPublic):
		*v = TrackingPublic
	case string(TrackingPrivate):
		*v = TrackingPrivate
	default:
		return fmt.Errorf("unknown tracking visibility: %s", s)
	}
	return nil
}

// Enabled indicates whether presence events should be logged for a user
// with this preference.
func (v TrackingVisibility) Enabled() bool {
	return v == TrackingPublic || v == TrackingPrivate
}

// User is a record of a Discord user, and their Bot*-specific preferences.
// See: https://discord.com/developers/docs/resources/user
//
//nolint:lll // struct tags can't be split
type User struct {
	//
	// The first set of fields are set from the Discord user object
	//

	// ID is the Discord user ID
	ID string `json:"id" gorm:"primaryKey;unique;type:string"`

	// Username, not unique
	Username string `json:"username" gorm:"type:string"`

	// User's display name - for bots, the application name
	GlobalName string `json:"global_name" gorm:"type:string"`

	// Indicates this user is a Discord bot user. Bots are never tracked.
	Bot bool `json:"bot" gorm:"type:bool"`

	//
	// The fields below are Bot*-specific
	//

	// TrackingVisibility is the user's activity-tracking preference.
	// Absent/empty means disabled.
	TrackingVisibility TrackingVisibility `json:"tracking_visibility" gorm:"type:string;default:disabled"`

	// Timezone is the user's IANA zone name (ex: 'America/New_York'),
	// set via /timezone. Empty means the configured default zone is used.
	Timezone string `json:"timezone" gorm:"type:string"`

	// LastSeen is the last time this user was seen in a Discord
	// interaction (slash command, button, autocomplete, ...)
	LastSeen int64 `json:"last_seen" gorm:"column:last_seen"`

	ModelUnixTime
}

func NewUser(u discordgo.User) (*User, error) {
	user := User{
		ID:                 u.ID,
		Username:           u.Username,
		GlobalName:         u.GlobalName,
		Bot:                u.Bot,
		TrackingVisibility: TrackingDisabled,
		LastSeen:           time.Now().UTC().UnixMilli(),
	}
	return &user, nil
}

func (u *User) String() string {
	return fmt.Sprintf("%s [%s]", u.Username, u.ID)
}

// Location resolves the user's configured timezone, falling back to the
// given default zone name when unset or invalid.
func (u *User) Location(fallback string) *time.Location {
	if u != nil && u.Timezone != "" {
		if loc, err := time.LoadLocation(u.Timezone); err == nil {
			return loc
		}
	}
	if loc, err := time.LoadLocation(fallback); err == nil {
		return loc
	}
	return time.UTC
}

func (u *User) LogValue() slog.Value {
	if u == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("id", u.ID),
		slog.String(columnUserUsername, u.Username),
		slog.String(columnUserGlobalName, u.GlobalName),
		slog.Bool("bot", u.Bot),
		slog.String(columnUserTrackingVisibility, string(u.TrackingVisibility)),
		slog.String(columnUserTimezone, u.Timezone),
	)
}

// MarshalJSON implements the json.Marshaller interface, normalizing the
// visibility field so absent preferences serialize as 'disabled'.
func (u User) MarshalJSON() ([]byte, error) {
	type alias User
	a := alias(u)
	if a.TrackingVisibility == "" {
		a.TrackingVisibility = TrackingDisabled
	}
	return json.Marshal(a)
}

// ErrUserNotFound is returned by lookups for users with no stored record.
var ErrUserNotFound = errors.New("user not found")
