package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"chatbridge/internal/dedupe"
	"chatbridge/internal/messaging"
	"chatbridge/internal/models"
)

const (
	testToken     = "auth-token"
	testPublicURL = "https://bot.example.com/webhook"
)

type fakeCreator struct {
	mu   sync.Mutex
	sent []*twilioApi.CreateMessageParams
	err  error
}

func (f *fakeCreator) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, params)
	sid := "SM-out"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

type recorder struct {
	mu       sync.Mutex
	payloads []models.MessagePayload
	err      error
}

func (r *recorder) handle(_ context.Context, p models.MessagePayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, p)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func newTestAdapter(t *testing.T, validate bool) (*Adapter, *fakeCreator, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	adapter, err := New(Config{
		AccountSID:        "AC123",
		AuthToken:         testToken,
		FromNumber:        "whatsapp:+14155238886",
		PublicURL:         testPublicURL,
		ValidateSignature: validate,
	}, dedupe.NewMemory(0), nil)
	require.NoError(t, err)
	creator := &fakeCreator{}
	adapter.messages = creator

	router := gin.New()
	adapter.RegisterRoutes(router)
	return adapter, creator, router
}

func postForm(router http.Handler, form url.Values, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func sign(form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(testPublicURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(testToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestNewRequiresCredentials(t *testing.T) {
	cases := map[string]Config{
		"TWILIO_ACCOUNT_SID": {AuthToken: "t", FromNumber: "f"},
		"TWILIO_AUTH_TOKEN":  {AccountSID: "a", FromNumber: "f"},
		"TWILIO_FROM_NUMBER": {AccountSID: "a", AuthToken: "t"},
	}
	for field, cfg := range cases {
		_, err := New(cfg, nil, nil)
		var cfgErr *models.AdapterConfigurationError
		require.ErrorAs(t, err, &cfgErr, field)
		assert.Equal(t, field, cfgErr.Field)
	}
}

func TestWebhookAcksWithEmptyTwiML(t *testing.T) {
	adapter, _, router := newTestAdapter(t, false)
	rec := &recorder{}

	resp := postForm(router, url.Values{"From": {"whatsapp:+1555"}, "Body": {"hi"}}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code, "not connected yet")

	require.NoError(t, adapter.Connect(context.Background(), rec.handle))

	resp = postForm(router, url.Values{
		"From":        {"whatsapp:+1555"},
		"Body":        {"  hello  "},
		"ProfileName": {"Ada"},
		"MessageSid":  {"SM1"},
	}, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Header().Get("Content-Type"), "xml")
	assert.Contains(t, resp.Body.String(), "<Response")
	assert.NotContains(t, resp.Body.String(), "<Message")

	require.Equal(t, 1, rec.count())
	p := rec.payloads[0]
	assert.Equal(t, "whatsapp:+1555", p.UserID)
	assert.Equal(t, "Ada", p.UserName)
	assert.Equal(t, "hello", p.Text)
	assert.False(t, p.Timestamp.IsZero())

	require.NoError(t, adapter.Disconnect(context.Background()))
	require.NoError(t, adapter.Disconnect(context.Background()))
	resp = postForm(router, url.Values{"From": {"whatsapp:+1555"}, "Body": {"again"}}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestWebhookDropsDuplicatesAndEmptyMessages(t *testing.T) {
	adapter, _, router := newTestAdapter(t, false)
	rec := &recorder{}
	require.NoError(t, adapter.Connect(context.Background(), rec.handle))

	form := url.Values{"From": {"whatsapp:+1555"}, "Body": {"hello"}, "MessageSid": {"SM2"}}
	assert.Equal(t, http.StatusOK, postForm(router, form, nil).Code)
	assert.Equal(t, http.StatusOK, postForm(router, form, nil).Code)
	assert.Equal(t, 1, rec.count(), "retry with the same MessageSid must be dropped")

	empty := url.Values{"From": {"whatsapp:+1555"}, "Body": {"   "}, "NumMedia": {"0"}}
	assert.Equal(t, http.StatusOK, postForm(router, empty, nil).Code)
	assert.Equal(t, 1, rec.count())

	media := url.Values{"From": {"whatsapp:+1555"}, "NumMedia": {"1"}, "MediaContentType0": {"image/jpeg"}}
	assert.Equal(t, http.StatusOK, postForm(router, media, nil).Code)
	require.Equal(t, 2, rec.count())
	assert.Equal(t, "[media: image/jpeg]", rec.payloads[1].Text)
}

func TestWebhookRetryAcceptedAfterHandlerFailure(t *testing.T) {
	adapter, _, router := newTestAdapter(t, false)
	rec := &recorder{err: errors.New("queue closed")}
	require.NoError(t, adapter.Connect(context.Background(), rec.handle))

	form := url.Values{"From": {"whatsapp:+1555"}, "Body": {"hello"}, "MessageSid": {"SM3"}}
	assert.Equal(t, http.StatusOK, postForm(router, form, nil).Code)
	assert.Equal(t, http.StatusOK, postForm(router, form, nil).Code)
	assert.Equal(t, 2, rec.count())
}

func TestWebhookSignatureValidation(t *testing.T) {
	adapter, _, router := newTestAdapter(t, true)
	rec := &recorder{}
	require.NoError(t, adapter.Connect(context.Background(), rec.handle))

	form := url.Values{"From": {"whatsapp:+1555"}, "Body": {"signed"}, "MessageSid": {"SM4"}}

	resp := postForm(router, form, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)
	resp = postForm(router, form, map[string]string{signatureHeader: "bogus"})
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, 0, rec.count())

	resp = postForm(router, form, map[string]string{signatureHeader: sign(form)})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 1, rec.count())
}

func TestSendMessage(t *testing.T) {
	adapter, creator, _ := newTestAdapter(t, false)

	long := strings.Repeat("b", MaxMessageLength+1)
	require.NoError(t, adapter.SendMessage(context.Background(), "whatsapp:+1555", long))
	require.Len(t, creator.sent, 2)
	first := creator.sent[0]
	assert.Equal(t, "whatsapp:+1555", *first.To)
	assert.Equal(t, "whatsapp:+14155238886", *first.From)
	assert.Len(t, *first.Body, MaxMessageLength)

	creator.err = errors.New("21211 invalid To")
	err := adapter.SendMessage(context.Background(), "whatsapp:+1555", "hi")
	var delivery *messaging.DeliveryError
	require.ErrorAs(t, err, &delivery)
	assert.Equal(t, messaging.PlatformTwilio, delivery.Platform)
}
