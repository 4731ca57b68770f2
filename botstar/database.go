package botstar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
	dbOperationTimeout = 30 * time.Second
)

// ErrStorage marks persistence-layer failures. The tracking pipeline wraps
// database errors with this sentinel and never retries internally; retries,
// if any, are the caller's responsibility.
var ErrStorage = errors.New("storage error")

// ModelUnixTime is an embeddable model with Unix timestamps for
// creation, update, and deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// database wraps a GORM connection for write/update/delete operations.
//
// When using SQLite, writes are serialized behind a mutex; with postgres
// (or when enableConcurrentWrites is set), the mutex is skipped. The
// struct also owns the in-memory User cache, keyed by Discord user ID.
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	userCache              map[string]*User
	cacheMu                sync.Mutex
	enableConcurrentWrites bool
}

// NewDatabase initializes a new database instance wrapping the given GORM
// connection. If log is nil, slog.Default is used.
func NewDatabase(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		userCache:              map[string]*User{},
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) Lock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Lock()
}

func (d *database) Unlock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Unlock()
}

// GetUser returns the cached User for the given ID, or nil.
func (d *database) GetUser(userID string) *User {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	return d.userCache[userID]
}

// ReloadUser refreshes the cache entry for the given user ID from the
// database, returning nil if no row exists.
func (d *database) ReloadUser(userID string) *User {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()

	var user User
	rv := d.db.Where("id = ?", userID).Find(&user)
	if rv.Error != nil {
		d.logger.Error("error reloading user", "user_id", userID, tint.Err(rv.Error))
		return nil
	}
	if rv.RowsAffected == 0 {
		delete(d.userCache, userID)
		return nil
	}
	d.userCache[userID] = &user
	return &user
}

// touchUser refreshes the stored last-seen timestamp for a known user,
// picking up Discord username changes along the way. Caller holds cacheMu.
func (d *database) touchUser(ctx context.Context, user *User, u discordgo.User) {
	user.LastSeen = time.Now().UTC().UnixMilli()
	updates := map[string]any{columnUserLastSeen: user.LastSeen}

	if user.Username != u.Username || user.GlobalName != u.GlobalName {
		d.logger.InfoContext(
			ctx, "user changed username since last seen",
			slog.Group(
				"old",
				columnUserUsername, user.Username,
				columnUserGlobalName, user.GlobalName,
			),
			slog.Group(
				"new",
				columnUserUsername, u.Username,
				columnUserGlobalName, u.GlobalName,
			),
		)
		user.Username = u.Username
		user.GlobalName = u.GlobalName
		updates[columnUserUsername] = u.Username
		updates[columnUserGlobalName] = u.GlobalName
	}
	if _, err := d.Updates(ctx, user, updates); err != nil {
		d.logger.ErrorContext(ctx, "error updating user", "user", user, tint.Err(err))
	}
}

// GetOrCreateUser returns the User record for the given Discord user,
// creating one if it doesn't already exist. The bool return indicates
// whether a new row was created.
func (d *database) GetOrCreateUser(
	ctx context.Context,
	u discordgo.User,
) (*User, bool, error) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()

	if user, ok := d.userCache[u.ID]; ok {
		d.touchUser(ctx, user, u)
		return user, false, nil
	}

	var existing User
	rv := d.db.WithContext(ctx).Where("id = ?", u.ID).Find(&existing)
	if rv.Error != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrStorage, rv.Error)
	}
	if rv.RowsAffected > 0 {
		d.userCache[u.ID] = &existing
		d.touchUser(ctx, &existing, u)
		return &existing, false, nil
	}

	user, err := NewUser(u)
	if err != nil {
		return nil, false, err
	}
	d.logger.InfoContext(ctx, "creating new user", "user", user)
	if _, err = d.Create(ctx, user); err != nil {
		d.logger.Error("error creating user", "user", user, tint.Err(err))
		return nil, true, err
	}
	d.userCache[u.ID] = user
	return user, true, nil
}

func (d *database) Create(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	_, ok := ctx.Deadline()
	if !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	db := d.db.WithContext(ctx)

	if len(omit) > 0 {
		rv := db.Omit(omit...).Create(value)
		return rv.RowsAffected, rv.Error
	}
	rv := db.Create(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Updates(ctx context.Context, model, values any) (
	rowsAffected int64,
	err error,
) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	_, ok := ctx.Deadline()
	if !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	rv := d.db.WithContext(ctx).Model(model).Updates(values)
	return rv.RowsAffected, rv.Error
}

func (d *database) Update(
	ctx context.Context,
	model any,
	column string,
	value any,
) (rowsAffected int64, err error) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	_, ok := ctx.Deadline()
	if !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	rv := d.db.WithContext(ctx).Model(model).Update(column, value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Save(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	_, ok := ctx.Deadline()
	if !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	if len(omit) > 0 {
		rv := d.db.WithContext(ctx).Omit(omit...).Save(value)
		return rv.RowsAffected, rv.Error
	}
	rv := d.db.WithContext(ctx).Save(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Delete(
	value any,
	conds ...any,
) (rowsAffected int64, err error) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	rv := d.db.Delete(value, conds...)
	return rv.RowsAffected, rv.Error
}

func (d *database) Transaction(
	ctx context.Context,
	fc func(tx *gorm.DB) error,
	opts ...*sql.TxOptions,
) (err error) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	_, ok := ctx.Deadline()
	if !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dbOperationTimeout)
		defer cancel()
	}
	return d.db.WithContext(ctx).Transaction(fc, opts...)
}

// DBI is the write-side database interface used throughout the bot.
type DBI interface {
	Lock()
	Unlock()

	DB() *gorm.DB

	GetUser(userID string) *User
	ReloadUser(userID string) *User
	GetOrCreateUser(ctx context.Context, u discordgo.User) (*User, bool, error)

	Create(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
	Updates(ctx context.Context, model any, values any) (rowsAffected int64, err error)
	Update(ctx context.Context, model any, column string, value any) (
		rowsAffected int64,
		err error,
	)
	Save(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
	Delete(value any, conds ...any) (rowsAffected int64, err error)
	Transaction(
		ctx context.Context,
		fc func(tx *gorm.DB) error,
		opts ...*sql.TxOptions,
	) (err error)

	// LogActivity appends a single activity record. This is the only
	// write path into the activity log.
	LogActivity(ctx context.Context, rec *ActivityRecord) error

	// ActivitySince returns the user's activity records with
	// timestamp_ms >= sinceMs, in ascending timestamp order. An empty
	// slice (not an error) is returned when there are none.
	ActivitySince(ctx context.Context, userID string, sinceMs int64) ([]ActivityRecord, error)

	// CleanupActivityLogs deletes activity records older than the given
	// retention horizon, returning the number of rows removed.
	CleanupActivityLogs(ctx context.Context, retention time.Duration) (int64, error)

	// SaveCounter upserts a guild counter, one per (guild, type).
	SaveCounter(ctx context.Context, counter *Counter) error

	// DeleteCounter removes a guild counter, reporting whether a row
	// actually existed.
	DeleteCounter(ctx context.Context, guildID string, counterType CounterType) (bool, error)

	// GetCounter returns a guild's counter of the given type, or
	// gorm.ErrRecordNotFound.
	GetCounter(ctx context.Context, guildID string, counterType CounterType) (*Counter, error)

	// GuildCounters returns all counters for one guild.
	GuildCounters(ctx context.Context, guildID string) ([]Counter, error)

	// AllCounters returns every configured counter.
	AllCounters(ctx context.Context) ([]Counter, error)
}

// CreateDB initializes and returns a GORM database connection based on the
// specified database type ('sqlite' or 'postgres'), and performs
// auto-migration for the bot's models.
func CreateDB(ctx context.Context, databaseType string, database string) (*gorm.DB, error) {
	handler := newLogHandler(os.Stdout, slog.LevelWarn)

	gormLogger := newGORMLogger(handler, 500*time.Millisecond)
	dbLogger := slog.New(handler)

	dbLogger.InfoContext(
		ctx,
		"Initializing database",
		"database_type", databaseType,
		"database", database,
	)
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}

	if databaseType == dbTypeSQLite {
		sqlDB, sqlErr := db.DB()
		if sqlErr != nil {
			return db, sqlErr
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		for _, pragma := range sqliteExecPragma {
			if err = db.Exec(pragma).Error; err != nil {
				return db, err
			}
		}
	}

	txn := db.WithContext(ctx).Begin()
	err = txn.Migrator().AutoMigrate(
		&User{},
		&ActivityRecord{},
		&Counter{},
		&InteractionLog{},
	)
	if err != nil {
		return db, err
	}
	if commitErr := txn.Commit().Error; commitErr != nil {
		return db, commitErr
	}

	return db, nil
}

// getDB opens the underlying GORM connection for the given database type.
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(
			sqlite.Open(database),
			&gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	case dbTypePostgres:
		return gorm.Open(
			postgres.Open(database), &gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}
