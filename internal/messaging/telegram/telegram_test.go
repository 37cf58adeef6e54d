package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatbridge/internal/messaging"
	"chatbridge/internal/models"
)

const testToken = "123456:test-token"

type sentMessage struct {
	chatID string
	text   string
}

// fakeBotAPI serves the handful of Bot API methods the adapter uses.
type fakeBotAPI struct {
	mu        sync.Mutex
	updates   string
	delivered bool
	sent      []sentMessage
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = r.ParseForm()
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Bridge","username":"bridge_bot"}}`)
	case strings.HasSuffix(r.URL.Path, "/getUpdates"):
		f.mu.Lock()
		first := !f.delivered
		f.delivered = true
		f.mu.Unlock()
		if first {
			fmt.Fprintf(w, `{"ok":true,"result":%s}`, f.updates)
			return
		}
		time.Sleep(20 * time.Millisecond)
		fmt.Fprint(w, `{"ok":true,"result":[]}`)
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		chatID := r.FormValue("chat_id")
		if chatID == "99" {
			fmt.Fprint(w, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`)
			return
		}
		f.mu.Lock()
		f.sent = append(f.sent, sentMessage{chatID: chatID, text: r.FormValue("text")})
		f.mu.Unlock()
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":10,"date":0,"chat":{"id":%s,"type":"private"}}}`, chatID)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeBotAPI) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func newFakeBot(t *testing.T, updates string) (*fakeBotAPI, string) {
	t.Helper()
	fake := &fakeBotAPI{updates: updates}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, srv.URL + "/bot%s/%s"
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{Token: "  "}, nil)
	var cfgErr *models.AdapterConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "TELEGRAM_BOT_TOKEN", cfgErr.Field)
}

func TestPollingNormalizesUpdatesAndGreets(t *testing.T) {
	updates := `[
		{"update_id":1,"message":{"message_id":1,"date":1700000000,"chat":{"id":42,"type":"private"},
			"from":{"id":7,"is_bot":false,"first_name":"Ada"},
			"text":"/start","entities":[{"type":"bot_command","offset":0,"length":6}]}},
		{"update_id":2,"message":{"message_id":2,"date":1700000005,"chat":{"id":42,"type":"private"},
			"from":{"id":7,"is_bot":false,"first_name":"Ada","last_name":"L","username":"ada"},
			"text":"  hello  "}},
		{"update_id":3,"message":{"message_id":3,"date":1700000006,"chat":{"id":42,"type":"private"},
			"from":{"id":7,"is_bot":false,"first_name":"Ada","last_name":"L"},
			"photo":[{"file_id":"p","file_unique_id":"u","width":1,"height":1}]}}
	]`
	fake, endpoint := newFakeBot(t, updates)
	adapter, err := New(Config{Token: testToken, APIEndpoint: endpoint, PollTimeout: 1, Greeting: "welcome"}, nil)
	require.NoError(t, err)

	received := make(chan models.MessagePayload, 4)
	require.NoError(t, adapter.Connect(context.Background(), func(_ context.Context, p models.MessagePayload) error {
		received <- p
		return nil
	}))
	defer adapter.Disconnect(context.Background())

	var got []models.MessagePayload
	for len(got) < 2 {
		select {
		case p := <-received:
			got = append(got, p)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for payloads, got %d", len(got))
		}
	}

	assert.Equal(t, "42", got[0].UserID)
	assert.Equal(t, "ada", got[0].UserName)
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, time.Unix(1700000005, 0).UTC(), got[0].Timestamp)
	assert.NotNil(t, got[0].OriginalMessage)

	assert.Equal(t, "[photo]", got[1].Text)
	assert.Equal(t, "Ada L", got[1].UserName)

	sent := fake.sentMessages()
	require.Len(t, sent, 1, "only the greeting should be sent by the adapter")
	assert.Equal(t, sentMessage{chatID: "42", text: "welcome"}, sent[0])
}

func TestSendMessage(t *testing.T) {
	fake, endpoint := newFakeBot(t, `[]`)
	adapter, err := New(Config{Token: testToken, APIEndpoint: endpoint, PollTimeout: 1}, nil)
	require.NoError(t, err)

	err = adapter.SendMessage(context.Background(), "42", "early")
	require.ErrorIs(t, err, messaging.ErrNotConnected)

	require.NoError(t, adapter.Connect(context.Background(), func(context.Context, models.MessagePayload) error { return nil }))

	long := strings.Repeat("a", MaxMessageLength+10)
	require.NoError(t, adapter.SendMessage(context.Background(), "42", long))
	sent := fake.sentMessages()
	require.Len(t, sent, 2)
	assert.Len(t, sent[0].text, MaxMessageLength)

	err = adapter.SendMessage(context.Background(), "99", "hi")
	var delivery *messaging.DeliveryError
	require.ErrorAs(t, err, &delivery)
	assert.Equal(t, "99", delivery.UserID)

	err = adapter.SendMessage(context.Background(), "not-a-chat", "hi")
	require.ErrorAs(t, err, &delivery)

	require.NoError(t, adapter.Disconnect(context.Background()))
	require.NoError(t, adapter.Disconnect(context.Background()))

	// replies for turns already in flight still go out after Disconnect
	require.NoError(t, adapter.SendMessage(context.Background(), "42", "late"))
}

func TestReconnectAfterDisconnect(t *testing.T) {
	_, endpoint := newFakeBot(t, `[]`)
	adapter, err := New(Config{Token: testToken, APIEndpoint: endpoint, PollTimeout: 1}, nil)
	require.NoError(t, err)

	noop := func(context.Context, models.MessagePayload) error { return nil }
	require.NoError(t, adapter.Connect(context.Background(), noop))
	require.NoError(t, adapter.Connect(context.Background(), noop), "second Connect is a no-op")
	require.NoError(t, adapter.Disconnect(context.Background()))
	require.NoError(t, adapter.Connect(context.Background(), noop))
	require.NoError(t, adapter.Disconnect(context.Background()))
}

func TestCheckToken(t *testing.T) {
	_, endpoint := newFakeBot(t, `[]`)

	user, err := CheckToken(testToken, endpoint)
	require.NoError(t, err)
	assert.Equal(t, "bridge_bot", user.UserName)

	_, err = CheckToken("", endpoint)
	assert.Error(t, err)
	_, err = CheckToken("no-colon", endpoint)
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
	}))
	defer srv.Close()
	_, err = CheckToken(testToken, srv.URL+"/bot%s/%s")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, messaging.ErrNotConnected))
}
