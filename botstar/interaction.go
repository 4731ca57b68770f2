package botstar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// discordInteractionTokenLifespan is the lifespan of a Discord
// interaction token. Tokens currently expire after 15 minutes.
const discordInteractionTokenLifespan = 15 * time.Minute

//nolint:lll // struct tags can't be split
type InteractionLog struct {
	ModelUintID
	InteractionID string `json:"interaction_id" gorm:"not null"`
	Type          string `json:"type" gorm:"type:string"`
	UserID        string `json:"user_id" gorm:"not null"`
	Username      string `json:"username" gorm:"type:string"`
	AppID         string `json:"application_id" gorm:"type:string"`
	GuildID       string `json:"guild_id" gorm:"type:string"`
	ChannelID     string `json:"channel_id" gorm:"type:string"`
	Command       string `json:"command" gorm:"type:string"`
	Payload       string `json:"payload" gorm:"type:string"`
	CreatedAt     int64  `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
}

func newInteractionLog(
	i *discordgo.InteractionCreate,
	u *discordgo.User,
	command string,
) (*InteractionLog, error) {
	p, err := json.Marshal(i)
	if err != nil {
		return nil, fmt.Errorf("error marshaling interaction: %w", err)
	}

	interactionLog := &InteractionLog{
		InteractionID: i.ID,
		Type:          i.Type.String(),
		UserID:        u.ID,
		Username:      u.String(),
		AppID:         i.AppID,
		GuildID:       i.GuildID,
		ChannelID:     i.ChannelID,
		Command:       command,
		Payload:       string(p),
	}
	return interactionLog, nil
}

// Interaction is a 'base' struct of fields for Discord interactions,
// shared across command types.
type Interaction struct {
	UserID        string `json:"user_id"`
	InteractionID string `json:"interaction_id"`
	Token         string `json:"token"`
	TokenExpires  int64  `json:"token_expires"`
	AppID         string `json:"application_id"`
	Type          string `json:"type"`
	GuildID       string `json:"guild_id"`
	ChannelID     string `json:"channel_id"`
	User          *User  `json:"user"`
}

func NewUserInteraction(i *discordgo.InteractionCreate, u *User) *Interaction {
	created := time.Now().UTC()
	r := &Interaction{
		InteractionID: i.ID,
		Token:         i.Token,
		TokenExpires:  created.Add(discordInteractionTokenLifespan).UnixMilli(),
		AppID:         i.AppID,
		Type:          i.Type.String(),
		GuildID:       i.GuildID,
		ChannelID:     i.ChannelID,
	}
	if u != nil {
		r.User = u
		r.UserID = u.ID
	}
	return r
}

func (i Interaction) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String(columnUserID, i.UserID),
		slog.String("interaction_id", i.InteractionID),
		slog.Int64("token_expires", i.TokenExpires),
		slog.String("app_id", i.AppID),
		slog.String("type", i.Type),
	)
}

// InteractionHandler abstracts responding to a Discord interaction, so
// command handlers can be exercised in tests without a live session.
type InteractionHandler interface {
	// Respond sends an initial response to a Discord interaction.
	Respond(ctx context.Context, i *discordgo.InteractionResponse) error

	// Edit modifies an existing interaction response.
	Edit(
		ctx context.Context,
		e *discordgo.WebhookEdit,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// Delete removes an interaction response.
	Delete(ctx context.Context, opts ...discordgo.RequestOption)

	// GetInteraction returns the original InteractionCreate event.
	GetInteraction() *discordgo.InteractionCreate

	// Logger returns the logger associated with this handler.
	Logger() *slog.Logger
}

// GatewayHandler implements InteractionHandler for interactions received
// over the gateway websocket.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
	mu          *sync.RWMutex
}

func (w GatewayHandler) Logger() *slog.Logger {
	if w.logger == nil {
		return slog.Default()
	}
	return w.logger
}

func (w GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	return w.session.InteractionRespond(
		w.interaction.Interaction,
		response,
		discordgo.WithContext(ctx),
	)
}

func (w GatewayHandler) Edit(
	ctx context.Context,
	e *discordgo.WebhookEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	opts = append(opts, discordgo.WithContext(ctx))
	msg, err := w.session.InteractionResponseEdit(
		w.interaction.Interaction, e, opts...,
	)
	if err != nil {
		w.Logger().ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	}
	return msg, err
}

func (w GatewayHandler) Delete(ctx context.Context, opts ...discordgo.RequestOption) {
	opts = append(opts, discordgo.WithContext(ctx))
	if err := w.session.InteractionResponseDelete(
		w.interaction.Interaction, opts...,
	); err != nil {
		w.Logger().ErrorContext(ctx, "error deleting interaction response", tint.Err(err))
	}
}
