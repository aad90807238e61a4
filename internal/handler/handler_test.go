package handler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tg-letthemknow/internal/config"
	"tg-letthemknow/internal/models"
	"tg-letthemknow/internal/service"
	"tg-letthemknow/internal/storage"
)

type sentMessage struct {
	chatID    int64
	messageID int
	text      string
	markup    *telego.InlineKeyboardMarkup
}

// fakeAPI is an in-memory stand-in for the Telegram transport
type fakeAPI struct {
	mu       sync.Mutex
	nextID   int
	sent     []sentMessage
	forwards []telego.ForwardMessageParams
	edits    []telego.EditMessageTextParams
	answered []string

	// failSendContaining makes SendMessage fail for matching texts
	failSendContaining string
}

func (f *fakeAPI) SendMessage(_ context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failSendContaining != "" && strings.Contains(params.Text, f.failSendContaining) {
		return nil, errors.New("transport rejected message")
	}

	f.nextID++
	var markup *telego.InlineKeyboardMarkup
	if rm, ok := params.ReplyMarkup.(*telego.InlineKeyboardMarkup); ok {
		markup = rm
	}
	f.sent = append(f.sent, sentMessage{
		chatID:    params.ChatID.ID,
		messageID: f.nextID,
		text:      params.Text,
		markup:    markup,
	})
	return &telego.Message{MessageID: f.nextID, Chat: telego.Chat{ID: params.ChatID.ID}}, nil
}

func (f *fakeAPI) ForwardMessage(_ context.Context, params *telego.ForwardMessageParams) (*telego.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwards = append(f.forwards, *params)
	return &telego.Message{}, nil
}

func (f *fakeAPI) EditMessageText(_ context.Context, params *telego.EditMessageTextParams) (*telego.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, *params)
	return &telego.Message{}, nil
}

func (f *fakeAPI) AnswerCallbackQuery(_ context.Context, params *telego.AnswerCallbackQueryParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, params.CallbackQueryID)
	return nil
}

func (f *fakeAPI) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	texts := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		texts = append(texts, m.text)
	}
	return texts
}

func (f *fakeAPI) lastSent(t *testing.T) sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

func countContaining(texts []string, substr string) int {
	n := 0
	for _, text := range texts {
		if strings.Contains(text, substr) {
			n++
		}
	}
	return n
}

func setupTest(t *testing.T) *fakeAPI {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	storage.DB = db

	Initialize(&config.Config{
		Bot:     config.BotConfig{GroupID: -1},
		Compose: config.ComposeConfig{TimeoutSeconds: 300},
	})
	require.NoError(t, service.InitRepositories())

	return &fakeAPI{}
}

var (
	alice = telego.User{ID: 1, FirstName: "Alice"}
	bob   = telego.User{ID: 2, FirstName: "Bob", LastName: "Builder"}
)

func groupMessage(chatID int64, from telego.User, messageID int, text string) telego.Message {
	return telego.Message{
		MessageID: messageID,
		From:      &from,
		Chat:      telego.Chat{ID: chatID, Type: "supergroup"},
		Text:      text,
	}
}

// findButton returns the callback data of the menu button with the label
func findButton(t *testing.T, markup *telego.InlineKeyboardMarkup, label string) string {
	require.NotNil(t, markup)
	for _, row := range markup.InlineKeyboard {
		for _, btn := range row {
			if btn.Text == label {
				return btn.CallbackData
			}
		}
	}
	t.Fatalf("no button labeled %q", label)
	return ""
}

func TestEndToEndScenario(t *testing.T) {
	api := setupTest(t)
	ctx := context.Background()
	chatID := int64(-2001)

	// both users become known to the directory by talking
	require.NoError(t, HandleMessage(ctx, api, groupMessage(chatID, alice, 10, "hi")))
	require.NoError(t, HandleMessage(ctx, api, groupMessage(chatID, bob, 11, "hello")))
	assert.Empty(t, api.sent)

	// Alice starts composing
	require.NoError(t, HandleMessage(ctx, api, groupMessage(chatID, alice, 12, "/letthemknow")))
	prompt := api.lastSent(t)
	assert.Equal(t, "Who's the message for?", prompt.text)
	data := findButton(t, prompt.markup, "Bob Builder")

	// Alice picks Bob from the menu
	require.NoError(t, HandleCallbackQuery(ctx, api, telego.CallbackQuery{
		ID:      "q1",
		From:    alice,
		Message: &telego.Message{MessageID: prompt.messageID, Chat: telego.Chat{ID: chatID}},
		Data:    data,
	}))
	assert.Equal(t, "OK, recording a message for Bob Builder.\n\nWhat's the message?", api.lastSent(t).text)
	assert.Equal(t, []string{"q1"}, api.answered)
	// the stale menu was edited away
	require.Len(t, api.edits, 1)
	assert.Equal(t, prompt.messageID, api.edits[0].MessageID)

	// Alice's next message is the body
	require.NoError(t, HandleMessage(ctx, api, groupMessage(chatID, alice, 50, "pick up milk")))
	assert.Equal(t, "I'll let them know.", api.lastSent(t).text)

	// Bob's next message triggers delivery
	require.NoError(t, HandleMessage(ctx, api, groupMessage(chatID, bob, 60, "anything")))
	assert.Equal(t, 1, countContaining(api.sentTexts(), "By the way, Alice wanted me to let you know:"))
	require.Len(t, api.forwards, 1)
	assert.Equal(t, chatID, api.forwards[0].FromChatID.ID)
	assert.Equal(t, 50, api.forwards[0].MessageID)

	// and only once
	require.NoError(t, HandleMessage(ctx, api, groupMessage(chatID, bob, 61, "anything else")))
	assert.Equal(t, 1, countContaining(api.sentTexts(), "By the way,"))
	assert.Len(t, api.forwards, 1)
}

func TestAlreadyComposing(t *testing.T) {
	api := setupTest(t)
	ctx := context.Background()
	chatID := int64(-2002)

	require.NoError(t, HandleMessage(ctx, api, groupMessage(chatID, alice, 10, "hi")))
	require.NoError(t, HandleMessage(ctx, api, groupMessage(chatID, alice, 11, "/letthemknow")))
	prompt := api.lastSent(t)

	require.NoError(t, HandleMessage(ctx, api, groupMessage(chatID, bob, 12, "/letthemknow")))
	assert.Equal(t, "Already recording a message!", api.lastSent(t).text)
	assert.Equal(t, 1, countContaining(api.sentTexts(), "Already recording"))

	// the first session is still usable
	data := findButton(t, prompt.markup, "Alice")
	require.NoError(t, HandleCallbackQuery(ctx, api, telego.CallbackQuery{
		ID:      "q1",
		From:    alice,
		Message: &telego.Message{MessageID: prompt.messageID, Chat: telego.Chat{ID: chatID}},
		Data:    data,
	}))
	assert.Contains(t, api.lastSent(t).text, "OK, recording a message for Alice.")
}

func TestForeignPayloadSilentlyIgnored(t *testing.T) {
	api := setupTest(t)
	ctx := context.Background()
	chatID := int64(-2003)

	require.NoError(t, HandleMessage(ctx, api, groupMessage(chatID, alice, 10, "hi")))
	require.NoError(t, HandleMessage(ctx, api, groupMessage(chatID, alice, 11, "/letthemknow")))
	prompt := api.lastSent(t)
	sendsBefore := len(api.sentTexts())

	// another bot's payload, a stale token and malformed data all fall through
	for _, data := range []string{"unban:1:2", "ltk:wrong-token:1", "ltk:also:bad:parts", "ltk:tok:notanumber"} {
		require.NoError(t, HandleCallbackQuery(ctx, api, telego.CallbackQuery{
			ID:      "q1",
			From:    alice,
			Message: &telego.Message{MessageID: prompt.messageID, Chat: telego.Chat{ID: chatID}},
			Data:    data,
		}))
	}

	assert.Len(t, api.sentTexts(), sendsBefore)
	assert.Empty(t, api.edits)
	assert.Empty(t, api.answered)

	// the genuine selection still goes through afterwards
	data := findButton(t, prompt.markup, "Alice")
	require.NoError(t, HandleCallbackQuery(ctx, api, telego.CallbackQuery{
		ID:      "q2",
		From:    alice,
		Message: &telego.Message{MessageID: prompt.messageID, Chat: telego.Chat{ID: chatID}},
		Data:    data,
	}))
	assert.Contains(t, api.lastSent(t).text, "What's the message?")
}

func TestDeliveryFailureIsolation(t *testing.T) {
	api := setupTest(t)
	ctx := context.Background()
	chatID := int64(-2004)

	require.NoError(t, service.EnqueuePendingMsg(&models.PendingMessage{
		RecipientID: bob.ID, ChatID: chatID, MessageID: 100, SenderName: "Mallory", Body: "first",
	}))
	require.NoError(t, service.EnqueuePendingMsg(&models.PendingMessage{
		RecipientID: bob.ID, ChatID: chatID, MessageID: 101, SenderName: "Ada", Body: "second",
	}))

	// the first entry's notice fails at the transport
	api.failSendContaining = "Mallory"

	require.NoError(t, HandleMessage(ctx, api, groupMessage(chatID, bob, 10, "hello")))

	// the second entry is still delivered
	assert.Equal(t, 1, countContaining(api.sentTexts(), "Ada wanted me to let you know"))
	require.Len(t, api.forwards, 1)
	assert.Equal(t, 101, api.forwards[0].MessageID)

	// nothing is re-enqueued: the next message delivers nothing
	api.failSendContaining = ""
	require.NoError(t, HandleMessage(ctx, api, groupMessage(chatID, bob, 11, "again")))
	assert.Len(t, api.forwards, 1)
	assert.Equal(t, 1, countContaining(api.sentTexts(), "wanted me to let you know"))
}

func TestTimeoutAbandonsComposition(t *testing.T) {
	api := setupTest(t)
	ctx := context.Background()
	chatID := int64(-2005)

	service.Sessions = models.NewSessionManager(30 * time.Millisecond)

	require.NoError(t, HandleMessage(ctx, api, groupMessage(chatID, alice, 10, "hi")))
	require.NoError(t, HandleMessage(ctx, api, groupMessage(chatID, bob, 11, "hello")))
	require.NoError(t, HandleMessage(ctx, api, groupMessage(chatID, alice, 12, "/letthemknow")))
	prompt := api.lastSent(t)

	data := findButton(t, prompt.markup, "Bob Builder")
	require.NoError(t, HandleCallbackQuery(ctx, api, telego.CallbackQuery{
		ID:      "q1",
		From:    alice,
		Message: &telego.Message{MessageID: prompt.messageID, Chat: telego.Chat{ID: chatID}},
		Data:    data,
	}))

	// let the inactivity window lapse before the body arrives
	assert.Eventually(t, func() bool {
		return service.Sessions.Get(chatID) == nil
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, HandleMessage(ctx, api, groupMessage(chatID, alice, 50, "too late")))
	assert.Equal(t, 0, countContaining(api.sentTexts(), "I'll let them know."))

	// nothing was enqueued for Bob
	require.NoError(t, HandleMessage(ctx, api, groupMessage(chatID, bob, 60, "anything")))
	assert.Empty(t, api.forwards)
	assert.Equal(t, 0, countContaining(api.sentTexts(), "wanted me to let you know"))
}

func TestBotAndSenderlessMessagesSkipped(t *testing.T) {
	api := setupTest(t)
	ctx := context.Background()
	chatID := int64(-2006)

	botUser := telego.User{ID: 99, FirstName: "Botty", IsBot: true}
	require.NoError(t, HandleMessage(ctx, api, groupMessage(chatID, botUser, 10, "/letthemknow")))
	require.NoError(t, HandleMessage(ctx, api, telego.Message{
		MessageID: 11,
		Chat:      telego.Chat{ID: chatID, Type: "supergroup"},
		Text:      "channel post",
	}))

	assert.Empty(t, api.sent)
	members, err := service.ListMembers(chatID)
	require.NoError(t, err)
	assert.Empty(t, members)
}
