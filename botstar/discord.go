package botstar

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	// DiscordSlashCommandActivityTracking is the `/activitytracking`
	// command: opt in/out of presence tracking, and view history cards.
	DiscordSlashCommandActivityTracking = "activitytracking"

	// DiscordSlashCommandTimezone is the `/timezone` command.
	DiscordSlashCommandTimezone = "timezone"

	// DiscordSlashCommandCounter is the `/counter` command.
	DiscordSlashCommandCounter = "counter"

	// discordAutocompleteLimit is the maximum number of choices Discord
	// accepts in an autocomplete response.
	discordAutocompleteLimit = 25
)

const (
	subcommandGroupToggle = "toggle"
	subcommandEnable      = "enable"
	subcommandDisable     = "disable"
	subcommandHistory     = "history"
	subcommandSet         = "set"
	subcommandCheck       = "check"
	subcommandHelp        = "help"
	subcommandAdd         = "add"
	subcommandDelete      = "delete"
	subcommandList        = "list"
	subcommandUpdate      = "update"

	optionTarget    = "target"
	optionRegion    = "region"
	optionSubregion = "subregion"
	optionType      = "type"
	optionChannel   = "channel"
)

// Discord manages the Discord session for Bot*: the gateway connection,
// event handlers, and slash-command registration.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	connected                   atomic.Bool
	discordgoRemoveHandlerFuncs []func()
	bot                         *BotStar
}

// newDiscord initializes a new Discord instance with the provided configuration
func newDiscord(config *DiscordConfig) (*Discord, error) {
	if config == nil {
		return nil, fmt.Errorf("nil discord config")
	}
	return &Discord{
		config:                      config,
		discordgoRemoveHandlerFuncs: []func(){},
	}, nil
}

// newSession initializes a new Discord session for the Discord struct.
// It sets up the session with the appropriate logger, token, and configuration.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{
		logger: d.logger.With(loggerNameKey, "discord_session_handler"),
	}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true

	// The session state caches guild members, which member counters and
	// history target lookups read from.
	disc.StateEnabled = true
	disc.State.TrackPresences = true
	disc.State.TrackMembers = true

	session.session = disc
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}

	if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
		return session, err
	}
	return session, nil
}

// appCommandActivityTracking creates the ApplicationCommand for
// `/activitytracking`, mirroring the toggle enable/disable group and the
// history subcommand.
func (*Discord) appCommandActivityTracking() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandActivityTracking,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Activity tracking allows users to track their Discord online activity.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
				Name:        subcommandGroupToggle,
				Description: "Enable/disable activity tracking for your account (disabled by default).",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        subcommandEnable,
						Description: "Enable activity tracking for your account.",
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        subcommandDisable,
						Description: "Disable activity tracking for your account.",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandHistory,
				Description: "View activity tracking history for a user.",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        optionTarget,
						Description: "The user to view history for.",
						Required:    false,
					},
				},
			},
		},
	}
}

// appCommandTimezone creates the ApplicationCommand for `/timezone`.
func (*Discord) appCommandTimezone() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandTimezone,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Configure your timezone for features that depend on time.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandSet,
				Description: "Set your timezone.",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:         discordgo.ApplicationCommandOptionString,
						Name:         optionRegion,
						Description:  "Your timezone region.",
						Required:     true,
						Autocomplete: true,
					},
					{
						Type:         discordgo.ApplicationCommandOptionString,
						Name:         optionSubregion,
						Description:  "The subregion of your timezone.",
						Required:     true,
						Autocomplete: true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandCheck,
				Description: "Check your configured timezone.",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandHelp,
				Description: "Learn how to set your timezone.",
			},
		},
	}
}

// appCommandCounter creates the ApplicationCommand for `/counter`.
func (*Discord) appCommandCounter() *discordgo.ApplicationCommand {
	counterTypeChoices := []*discordgo.ApplicationCommandOptionChoice{
		{Name: "Members only", Value: string(CounterMembers)},
		{Name: "Bots only", Value: string(CounterBots)},
		{Name: "All members", Value: string(CounterAll)},
	}
	channelTypes := []discordgo.ChannelType{
		discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeGuildVoice,
	}
	manageChannels := int64(discordgo.PermissionManageChannels)
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandCounter,
		Type:                     discordgo.ChatApplicationCommand,
		Description:              "Create counters to display in the server (think membercount).",
		DefaultMemberPermissions: &manageChannels,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandAdd,
				Description: "Add a counter to a channel.",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        optionType,
						Description: "The type of counter.",
						Required:    true,
						Choices:     counterTypeChoices,
					},
					{
						Type:         discordgo.ApplicationCommandOptionChannel,
						Name:         optionChannel,
						Description:  "The channel to display the counter on.",
						Required:     true,
						ChannelTypes: channelTypes,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandUpdate,
				Description: "Move an existing counter to another channel.",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        optionType,
						Description: "The type of counter to update.",
						Required:    true,
						Choices:     counterTypeChoices,
					},
					{
						Type:         discordgo.ApplicationCommandOptionChannel,
						Name:         optionChannel,
						Description:  "The new channel to display the counter.",
						Required:     true,
						ChannelTypes: channelTypes,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandDelete,
				Description: "Remove a counter.",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        optionType,
						Description: "The type of counter to remove.",
						Required:    true,
						Choices:     counterTypeChoices,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        subcommandList,
				Description: "List this server's counters.",
			},
		},
	}
}

// commands returns all slash commands to register.
func (d *Discord) commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		d.appCommandActivityTracking(),
		d.appCommandTimezone(),
		d.appCommandCounter(),
	}
}

// registerCommands bulk-overwrites the bot's application commands. If
// DiscordConfig.GuildID is set, commands are registered on that guild
// only (global registration can take up to an hour to propagate).
func (d *Discord) registerCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		d.commands(),
		options...,
	)
}

// handlerConnect returns a discordgo Connect event handler.
func (d *Discord) handlerConnect() func(
	_ *discordgo.Session,
	_ *discordgo.Connect,
) {
	return func(_ *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		d.logger.Info("discord gateway connected")
	}
}

// handlerDisconnect returns a discordgo Disconnect event handler.
func (d *Discord) handlerDisconnect() func(
	_ *discordgo.Session,
	_ *discordgo.Disconnect,
) {
	return func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		d.metricDisconnects.Add(1)
		d.connected.Store(false)
		d.logger.Warn("discord gateway disconnected")
	}
}

// updateCustomStatus sets the bot user's custom status from config.
func (d *Discord) updateCustomStatus() {
	if d.config.CustomStatus == "" {
		return
	}
	if err := d.session.UpdateCustomStatus(d.config.CustomStatus); err != nil {
		d.logger.Error("error setting custom status", tint.Err(err))
	}
}

// DiscordSessionHandler is the subset of discordgo.Session the bot uses,
// abstracted for testability.
type DiscordSessionHandler interface {
	// Open opens the gateway websocket connection
	Open() error

	// Close closes the gateway websocket connection
	Close() error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// ApplicationCommandBulkOverwrite takes all given commands and,
	// in a single call, overwrites the bot's registered commands
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// UpdateCustomStatus sets the bot's user status to the given string.
	UpdateCustomStatus(status string) error

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// InteractionResponseEdit modifies the given interaction response
	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// InteractionResponseDelete deletes the given interaction response
	InteractionResponseDelete(
		interaction *discordgo.Interaction,
		options ...discordgo.RequestOption,
	) error

	// Guild retrieves a guild, preferring the state cache
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)

	// ChannelEdit edits a channel (used to rename counter channels)
	ChannelEdit(
		channelID string,
		data *discordgo.ChannelEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	// Channel retrieves a channel, preferring the state cache
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)

	// SetIdentify sets the identify object that's sent during the
	// initial handshake with the discord gateway
	SetIdentify(discordgo.Identify)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("created command", "command", c.Name)
	}
	return created, nil
}

func (d DiscordSession) UpdateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.InteractionResponseEdit(interaction, newresp, options...)
}

func (d DiscordSession) InteractionResponseDelete(
	interaction *discordgo.Interaction,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionResponseDelete(interaction, options...)
}

func (d DiscordSession) Guild(
	guildID string,
	options ...discordgo.RequestOption,
) (*discordgo.Guild, error) {
	if g, err := d.session.State.Guild(guildID); err == nil {
		return g, nil
	}
	return d.session.Guild(guildID, options...)
}

func (d DiscordSession) ChannelEdit(
	channelID string,
	data *discordgo.ChannelEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	ch, err := d.session.ChannelEdit(channelID, data, options...)
	if err != nil {
		d.logger.Error(
			"error editing channel",
			tint.Err(err),
			"channel_id", channelID,
		)
	}
	return ch, err
}

func (d DiscordSession) Channel(
	channelID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	if ch, err := d.session.State.Channel(channelID); err == nil {
		return ch, nil
	}
	return d.session.Channel(channelID, options...)
}

func (d DiscordSession) SetIdentify(i discordgo.Identify) {
	d.session.Identify = i
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}
