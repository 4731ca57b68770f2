package botstar

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// testWriteDB opens a fresh sqlite database in a per-test temp directory
// and returns the write-side interface over it. The underlying connection
// is closed when the test finishes.
func testWriteDB(t testing.TB) DBI {
	t.Helper()

	db, err := CreateDB(
		context.Background(),
		dbTypeSQLite,
		filepath.Join(t.TempDir(), "botstar_test.sqlite3"),
	)
	require.NoError(t, err)

	t.Cleanup(
		func() {
			sqlDB, dberr := db.DB()
			if dberr != nil {
				t.Logf("error getting db on cleanup: %v", dberr)
				return
			}
			if dberr = sqlDB.Close(); dberr != nil {
				t.Logf("error closing db: %v", dberr)
			}
		},
	)

	return NewDatabase(db, nil, false)
}

// stubSession is an in-memory DiscordSessionHandler for exercising
// command handlers without a gateway connection.
type stubSession struct {
	mu          sync.Mutex
	guilds      map[string]*discordgo.Guild
	channels    map[string]*discordgo.Channel
	responses   []*discordgo.InteractionResponse
	edits       []*discordgo.WebhookEdit
	statuses    []string
	deleted     int
	channelEdit int
}

func newStubSession() *stubSession {
	return &stubSession{
		guilds:   map[string]*discordgo.Guild{},
		channels: map[string]*discordgo.Channel{},
	}
}

func (s *stubSession) Open() error  { return nil }
func (s *stubSession) Close() error { return nil }

func (s *stubSession) AddHandler(_ any) func() {
	return func() {}
}

func (s *stubSession) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return commands, nil
}

func (s *stubSession) UpdateCustomStatus(status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *stubSession) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, resp)
	return nil
}

func (s *stubSession) InteractionResponseEdit(
	_ *discordgo.Interaction,
	edit *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits = append(s.edits, edit)
	return &discordgo.Message{}, nil
}

func (s *stubSession) InteractionResponseDelete(
	_ *discordgo.Interaction,
	_ ...discordgo.RequestOption,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted++
	return nil
}

func (s *stubSession) Guild(
	guildID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Guild, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	guild, ok := s.guilds[guildID]
	if !ok {
		return nil, fmt.Errorf("unknown guild: %s", guildID)
	}
	return guild, nil
}

func (s *stubSession) ChannelEdit(
	channelID string,
	data *discordgo.ChannelEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	channel, ok := s.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("unknown channel: %s", channelID)
	}
	s.channelEdit++
	channel.Name = data.Name
	return channel, nil
}

func (s *stubSession) Channel(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	channel, ok := s.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("unknown channel: %s", channelID)
	}
	return channel, nil
}

func (s *stubSession) SetIdentify(_ discordgo.Identify) {}

func (s *stubSession) SetLogLevel(_ slog.Level) error { return nil }

// testBot assembles a BotStar over a stub session and a fresh database.
func testBot(t testing.TB) (*BotStar, *stubSession) {
	t.Helper()

	session := newStubSession()
	cfg := DefaultConfig()
	bot := &BotStar{
		config:  cfg,
		writeDB: testWriteDB(t),
		tracker: NewPresenceTracker(nil),
		logger:  slog.Default(),
		discord: &Discord{
			session: session,
			config:  cfg.Discord,
			logger:  slog.Default(),
		},
	}
	return bot, session
}

// testGatewayHandler wraps an interaction in a GatewayHandler backed by
// the stub session.
func testGatewayHandler(
	session *stubSession,
	i *discordgo.InteractionCreate,
) GatewayHandler {
	return GatewayHandler{
		session:     session,
		interaction: i,
		logger:      slog.Default(),
		mu:          &sync.RWMutex{},
	}
}

// commandInteraction builds a minimal slash-command interaction for the
// given user and options.
func commandInteraction(
	userID string,
	guildID string,
	name string,
	options ...*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:      "interaction-" + userID,
			Type:    discordgo.InteractionApplicationCommand,
			GuildID: guildID,
			Member: &discordgo.Member{
				User: &discordgo.User{ID: userID, Username: "user-" + userID},
			},
			Data: discordgo.ApplicationCommandInteractionData{
				Name:    name,
				Options: options,
			},
		},
	}
}
