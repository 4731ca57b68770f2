package botstar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/TristanOther/Bot-Star/botstar.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout
)

// structValidator validates config structs, using the `binding` tag.
var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.SetTagName("binding")
	return v
}

type loggerKey struct{}

// WithLogger returns a copy of ctx carrying the given logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// ContextLogger returns the logger carried by ctx, if any.
func ContextLogger(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(loggerKey{}).(*slog.Logger)
	return logger, ok
}

// BotStar is the main application struct for the Bot* Discord bot.
// It wires together the Discord session, the database, the presence
// tracking pipeline and the read-only HTTP API.
type BotStar struct {
	config *Config

	// Pointer to a read-only GORM connection. This is from an
	// overabundance of caution for using SQLite.
	db *gorm.DB

	// gorm.DB wrapper for write/update/delete operations.
	// The only difference between this and [BotStar.db]
	// is that, when using sqlite, a mutex is used. Otherwise,
	// just use [BotStar.db].
	writeDB DBI

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// Provides the read-only HTTP API
	api *API

	// Normalizes and debounces presence events for tracked users
	tracker *PresenceTracker

	// signalStop enables an explicit stop signal to be sent to the bot
	signalStop chan struct{}

	// signalReady has a value sent on it when Run finishes startup:
	// after initializing the database, cleaning up expired activity
	// rows, loading the tracked-user set, starting the API, opening a
	// discord session and registering commands
	signalReady chan struct{}

	// A signal is sent on this channel when shutdown finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time

	// presenceEventsSeen counts raw presence updates received;
	// presenceEventsLogged counts the rows actually appended after
	// debouncing
	presenceEventsSeen   atomic.Int64
	presenceEventsLogged atomic.Int64

	// getInteractionHandlerFunc returns the InteractionHandler to use
	// for an incoming interaction. Swappable so tests can intercept
	// responses.
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler
}

// New creates a BotStar instance from the given config. The returned bot
// is inert until [BotStar.Run] is called.
func New(config *Config) (*BotStar, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	b := &BotStar{
		config:        config,
		signalReady:   make(chan struct{}, 1),
		eventShutdown: make(chan struct{}, 1),
	}

	b.logHandler = newLogHandler(defaultLogWriter, b.config.LogLevel)
	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	disc, err := newDiscord(b.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(
			defaultLogWriter, b.config.Discord.DiscordGoLogLevel,
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	if disc != nil {
		disc.logger = slog.New(
			newLogHandler(defaultLogWriter, b.config.Discord.LogLevel),
		).With(loggerNameKey, "discord")
		disc.bot = b
		b.discord = disc
	}

	b.tracker = NewPresenceTracker(b.logger.With(loggerNameKey, "tracker"))

	if config.API.Enabled {
		api, apiErr := newAPI(b, config.API)
		errs = append(errs, apiErr)
		b.api = api
	}

	return b, errors.Join(errs...)
}

// ValidateConfig validates the bot's configuration.
func (b *BotStar) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

// RegisterSlashCommands registers the bot's slash commands with Discord.
func (b *BotStar) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return b.discord.registerCommands(options...)
}

// Run starts the bot and blocks until ctx is canceled or a stop signal
// arrives, then shuts down gracefully.
func (b *BotStar) Run(ctx context.Context) error {
	// prevents concurrent runs
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.signalStop = make(chan struct{}, 1)
	b.startedAt = time.Now()
	logger := b.logger

	if err := b.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	runtimeWG := &sync.WaitGroup{}

	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", b.config))
	if b.signalReady == nil {
		b.signalReady = make(chan struct{}, 1)
	}

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.signalStop:
			b.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			b.logger.Warn("context canceled, sending stop signal")
			b.signalStop <- struct{}{}
			return
		}
	}()

	if b.api != nil {
		go func() {
			httpErr := b.api.Serve(ctx)
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				b.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
			}
		}()
	}

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- b.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			if b.api != nil && b.api.listener != nil {
				go func() {
					if e := b.api.listener.Close(); e != nil {
						logger.ErrorContext(ctx, "error closing listener", tint.Err(e))
					}
				}()
			}
			return err
		}
		logger.InfoContext(ctx, "init complete")
	}

	if discErr := b.initDiscordSession(ctx, runtimeWG); discErr != nil {
		b.logger.ErrorContext(ctx, "error creating discord session", tint.Err(discErr))
		return discErr
	}

	if err := b.discord.session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}

	commands, err := b.RegisterSlashCommands(discordgo.WithContext(startCtx))
	if err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}
	logger.InfoContext(ctx, "registered commands", "count", len(commands))

	b.discord.updateCustomStatus()
	b.refreshAllCounters(ctx)

	b.signalReady <- struct{}{}
	b.logger.InfoContext(ctx, "sent ready signal")

	// block until something cancels the main runtime context - generally
	// an interrupt
	<-ctx.Done()

	return b.shutdown(runtimeWG)
}

// initRun performs the startup sequence that must complete within
// [Config.StartupTimeout]: opening the database, deleting expired
// activity rows and loading the tracked-user set.
func (b *BotStar) initRun(startCtx context.Context) error {
	b.logger.Debug("initializing DB...")
	if err := b.initDB(startCtx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	b.logger.Debug("finished initializing DB")

	deleted, err := b.writeDB.CleanupActivityLogs(
		startCtx,
		b.config.Tracking.Retention,
	)
	if err != nil {
		return fmt.Errorf("error cleaning up activity logs: %w", err)
	}
	b.logger.Info("cleaned up expired activity rows", "deleted", deleted)

	if err = b.tracker.LoadTrackedUsers(startCtx, b.writeDB); err != nil {
		return fmt.Errorf("error loading tracked users: %w", err)
	}
	b.logger.Info("loaded tracked users", "count", b.tracker.TrackedCount())
	return nil
}

// initDB opens the database connection, applies sqlite pragmas and
// migrates the bot's models.
func (b *BotStar) initDB(ctx context.Context) error {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = b.logger
	}

	handler := newLogHandler(defaultLogWriter, b.config.DatabaseLogLevel)

	gormLogger := newGORMLogger(handler, b.config.DatabaseSlowThreshold)
	db, err := getDB(b.config.DatabaseType, b.config.Database, gormLogger)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}

	b.db = db
	b.writeDB = NewDatabase(db, nil, b.config.DatabaseType == dbTypePostgres)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("error getting database connection: %w", err)
	}

	if b.config.DatabaseType == dbTypeSQLite {
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		pragmaErrors := make([]error, 0, len(sqliteExecPragma))
		for _, p := range sqliteExecPragma {
			pragmaErrors = append(
				pragmaErrors,
				db.WithContext(ctx).Exec(p).Error,
			)
		}
		if pragmaErr := errors.Join(pragmaErrors...); pragmaErr != nil {
			return pragmaErr
		}
	}

	logger.Debug("migrating database...")
	txn := db.WithContext(ctx).Begin()
	err = txn.Migrator().AutoMigrate(
		&User{},
		&ActivityRecord{},
		&Counter{},
		&InteractionLog{},
	)
	if err != nil {
		logger.Error("error migrating database", tint.Err(err))
		return fmt.Errorf("error migrating database: %w", err)
	}
	logger.Debug("finished migrating database")

	if commitErr := txn.Commit().Error; commitErr != nil {
		return fmt.Errorf("error committing transaction: %w", commitErr)
	}
	return nil
}

// initDiscordSession creates the gateway session (if needed) and wires
// up the bot's event handlers.
func (b *BotStar) initDiscordSession(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	logger := b.logger.With(loggerNameKey, "discord_session")

	if b.discord.session == nil {
		disc, discErr := b.discord.newSession()
		if discErr != nil {
			return fmt.Errorf("error creating discord session: %w", discErr)
		}
		b.discord.session = disc
	}

	ctx = WithLogger(ctx, logger)

	for _, h := range b.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	b.discord.session.SetIdentify(
		discordgo.Identify{
			Intents: b.config.Discord.GatewayIntents,
			Presence: discordgo.GatewayStatusUpdate{
				Status: string(discordgo.StatusOnline),
			},
		},
	)

	b.discord.discordgoRemoveHandlerFuncs = []func(){
		b.discord.session.AddHandler(b.discord.handlerConnect()),
		b.discord.session.AddHandler(b.discord.handlerDisconnect()),
		b.discord.session.AddHandler(
			func(_ *discordgo.Session, r *discordgo.Ready) {
				logger.InfoContext(
					ctx, "discord session ready",
					"username", r.User.Username,
					"session_id", r.SessionID,
				)
			},
		),
		b.discord.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				handler := b.getInteractionHandlerFunc(ctx, i)
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					b.handleInteraction(ctx, handler)
				}()
			},
		),
		b.discord.session.AddHandler(
			func(_ *discordgo.Session, p *discordgo.PresenceUpdate) {
				b.handlePresenceUpdate(ctx, p)
			},
		),
		b.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					b.handleGuildMemberChange(ctx, m.GuildID)
				}()
			},
		),
		b.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					b.handleGuildMemberChange(ctx, m.GuildID)
				}()
			},
		),
	}

	if b.getInteractionHandlerFunc == nil {
		b.getInteractionHandlerFunc = func(
			_ context.Context,
			i *discordgo.InteractionCreate,
		) InteractionHandler {
			return GatewayHandler{
				session:     b.discord.session,
				interaction: i,
				mu:          &sync.RWMutex{},
				logger: b.logger.With(
					slog.Group(
						"interaction",
						"id", i.ID,
						"type", i.Type.String(),
						"guild_id", i.GuildID,
						"channel_id", i.ChannelID,
					),
				),
			}
		}
	}
	return nil
}

// handlePresenceUpdate feeds a raw presence event through the normalizer
// and appends the resulting record, if the event survived debouncing.
// Runs synchronously on the gateway event loop, and the insert happens
// inline so a user's records land in the order the gateway sent them.
func (b *BotStar) handlePresenceUpdate(
	ctx context.Context,
	p *discordgo.PresenceUpdate,
) {
	defer func() {
		if rc := recover(); rc != nil {
			b.handleRecover(ctx, rc)
		}
	}()
	b.presenceEventsSeen.Add(1)
	rec := b.tracker.Observe(p)
	if rec == nil {
		return
	}
	if err := b.writeDB.LogActivity(ctx, rec); err != nil {
		b.logger.ErrorContext(
			ctx, "error logging activity",
			tint.Err(err), "record", rec,
		)
		return
	}
	b.presenceEventsLogged.Add(1)
	b.logger.DebugContext(ctx, "logged activity", "record", rec)
}

// handleGuildMemberChange refreshes a guild's counters after a member
// joins or leaves.
func (b *BotStar) handleGuildMemberChange(ctx context.Context, guildID string) {
	defer func() {
		if rc := recover(); rc != nil {
			b.handleRecover(ctx, rc)
		}
	}()
	b.refreshGuildCounters(ctx, guildID)
}

// handleInteraction dispatches an incoming Discord interaction to the
// appropriate command handler.
func (b *BotStar) handleInteraction(
	ctx context.Context,
	handler InteractionHandler,
) {
	defer func() {
		if rc := recover(); rc != nil {
			b.handleRecover(ctx, rc)
		}
	}()

	i := handler.GetInteraction()
	logger := handler.Logger()

	discordUser := interactionUser(i)
	if discordUser == nil {
		logger.ErrorContext(
			ctx,
			"no user found in interaction",
			"interaction", structToSlogValue(i),
		)
		return
	}

	ctx = WithLogger(ctx, logger)

	switch i.Type {
	case discordgo.InteractionPing:
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponsePong,
			},
		)
	case discordgo.InteractionApplicationCommandAutocomplete:
		if i.ApplicationCommandData().Name == DiscordSlashCommandTimezone {
			b.timezoneAutocomplete(ctx, handler)
		}
	case discordgo.InteractionApplicationCommand:
		commandName := i.ApplicationCommandData().Name
		logger.InfoContext(
			ctx, "received command",
			"command", commandName,
			"user", structToSlogValue(discordUser),
		)

		if discordUser.Bot {
			logger.WarnContext(ctx, "user is bot, ignoring", "user_id", discordUser.ID)
			return
		}

		wg := &sync.WaitGroup{}
		defer wg.Wait()

		interactionLog, logErr := newInteractionLog(i, discordUser, commandName)
		if logErr != nil {
			logger.ErrorContext(ctx, "error marshaling interaction", tint.Err(logErr))
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, createErr := b.writeDB.Create(ctx, interactionLog); createErr != nil {
					logger.ErrorContext(ctx, "error logging interaction", tint.Err(createErr))
				}
			}()
		}

		u, isNew, err := b.writeDB.GetOrCreateUser(ctx, *discordUser)
		if err != nil {
			logger.ErrorContext(ctx, "error getting user", tint.Err(err))
			b.interactionError(ctx, handler)
			return
		}
		if isNew {
			logger.InfoContext(ctx, "new user seen", "user", u)
		}

		logger = logger.With("interaction", NewUserInteraction(i, u))
		ctx = WithLogger(ctx, logger)

		switch commandName {
		case DiscordSlashCommandActivityTracking:
			b.activityTrackingCommand(ctx, handler, u)
		case DiscordSlashCommandTimezone:
			b.timezoneCommand(ctx, handler, u)
		case DiscordSlashCommandCounter:
			b.counterCommand(ctx, handler, u)
		default:
			logger.WarnContext(ctx, "unknown command", "command", commandName)
		}
	}
}

func (*BotStar) handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	if nerr, ok := rc.(error); ok {
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(nerr),
			"stack_trace", stackTrace,
		)
		return
	}
	if nerr, ok := rc.(string); ok {
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(errors.New(nerr)),
			"stack_trace", stackTrace,
		)
		return
	}
	logger.ErrorContext(
		ctx,
		"recovered from panic",
		"panic_arg", rc,
		"stack_trace", stackTrace,
	)
}

// shutdown closes the discord session, stops the API server and closes
// the database connection, bounded by [Config.ShutdownTimeout].
func (b *BotStar) shutdown(runtimeWG *sync.WaitGroup) error {
	logger := b.logger
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		b.config.ShutdownTimeout,
	)
	defer cancel()

	var errs []error

	if b.discord != nil && b.discord.session != nil {
		if err := b.discord.session.Close(); err != nil {
			logger.Error("error closing discord session", tint.Err(err))
			errs = append(errs, err)
		}
	}

	if b.api != nil {
		if err := b.api.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down api", tint.Err(err))
			errs = append(errs, err)
		}
	}

	done := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()
		done <- struct{}{}
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("timed out waiting for in-flight handlers")
	}

	if b.db != nil {
		if sqlDB, err := b.db.DB(); err == nil {
			if closeErr := sqlDB.Close(); closeErr != nil {
				logger.Error("error closing database", tint.Err(closeErr))
				errs = append(errs, closeErr)
			}
		}
	}

	b.eventShutdown <- struct{}{}
	logger.Info("shutdown complete", "uptime", time.Since(b.startedAt))
	return errors.Join(errs...)
}
