package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinic-agent/server/internal/agent/model"
	errx "github.com/clinic-agent/server/internal/core/error"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []model.MessageInput
	reply *model.Reply
	err   error
	block bool
}

func (f *fakeRunner) Invoke(ctx context.Context, in model.MessageInput) (*model.Reply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.reply != nil {
		return f.reply, nil
	}
	return &model.Reply{Text: "Hola " + in.Message, UserID: "user_abc", SessionID: "thread-1"}, nil
}

var tijuana = time.FixedZone("PDT", -7*3600)

func fixedNow() time.Time { return time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC) }

func newServer(runner *fakeRunner, health Health, cfg Config) *Server {
	return New(runner, health, cfg, tijuana, WithClock(fixedNow))
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestMessageReturnsReply(t *testing.T) {
	runner := &fakeRunner{}
	s := newServer(runner, Health{}, Config{})

	rec := do(t, s, http.MethodPost, "/api/whatsapp-agent/message", map[string]string{
		"chat_id":     "526641234567@c.us",
		"message":     "quiero una cita",
		"sender_name": "María",
		"timestamp":   "ignored",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "Hola quiero una cita", body["response"])
	assert.Equal(t, "user_abc", body["user_id"])
	assert.Equal(t, "thread-1", body["session_id"])

	require.Len(t, runner.calls, 1)
	in := runner.calls[0]
	assert.Equal(t, "526641234567@c.us", in.ChatID)
	assert.Equal(t, "María", in.SenderName)
	assert.Equal(t, "2026-10-19T08:00:00-07:00", in.Timestamp)
}

func TestMessageValidation(t *testing.T) {
	runner := &fakeRunner{}
	s := newServer(runner, Health{}, Config{})

	cases := map[string]any{
		"missing chat": map[string]string{"message": "hola"},
		"blank text":   map[string]string{"chat_id": "526641234567", "message": "   "},
		"bad json":     "{not json",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/whatsapp-agent/message", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			out := decodeBody(t, rec)
			assert.NotEmpty(t, out["error"])
			v, ok := out["response"]
			assert.True(t, ok)
			assert.Nil(t, v)
		})
	}
	assert.Empty(t, runner.calls)
}

func TestMessageErrorsMapToStatus(t *testing.T) {
	runner := &fakeRunner{err: errx.Validation("mensaje vacío")}
	s := newServer(runner, Health{}, Config{})

	rec := do(t, s, http.MethodPost, "/api/whatsapp-agent/message", map[string]string{"chat_id": "1", "message": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "mensaje vacío", decodeBody(t, rec)["error"])

	runner.err = errors.New("gemini exploded")
	rec = do(t, s, http.MethodPost, "/api/whatsapp-agent/message", map[string]string{"chat_id": "1", "message": "x"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	out := decodeBody(t, rec)
	assert.Equal(t, errx.SystemErrorMessage, out["error"])
	assert.Nil(t, out["response"])
	assert.NotContains(t, rec.Body.String(), "gemini")
}

func TestRequestTimeout(t *testing.T) {
	runner := &fakeRunner{block: true}
	s := newServer(runner, Health{}, Config{RequestTimeout: 20 * time.Millisecond})

	rec := do(t, s, http.MethodPost, "/api/whatsapp-agent/message", map[string]string{"chat_id": "1", "message": "x"})
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestPerChatRateLimit(t *testing.T) {
	runner := &fakeRunner{}
	s := newServer(runner, Health{}, Config{RatePerChat: 2})

	send := func(chat string) int {
		return do(t, s, http.MethodPost, "/api/whatsapp-agent/message", map[string]string{"chat_id": chat, "message": "hola"}).Code
	}
	assert.Equal(t, http.StatusOK, send("a"))
	assert.Equal(t, http.StatusOK, send("a"))
	assert.Equal(t, http.StatusTooManyRequests, send("a"))
	assert.Equal(t, http.StatusOK, send("b"))
	assert.Len(t, runner.calls, 3)
}

func TestRateLimitSharesBucketAcrossChatIDSpellings(t *testing.T) {
	runner := &fakeRunner{}
	s := newServer(runner, Health{}, Config{RatePerChat: 2})

	send := func(chat string) int {
		return do(t, s, http.MethodPost, "/api/whatsapp-agent/message", map[string]string{"chat_id": chat, "message": "hola"}).Code
	}
	assert.Equal(t, http.StatusOK, send("526641234567@c.us"))
	assert.Equal(t, http.StatusOK, send("526641234567@s.whatsapp.net"))
	assert.Equal(t, http.StatusTooManyRequests, send("+52 664 123 4567"))
	assert.Equal(t, http.StatusOK, send("526649876543@c.us"))
	assert.Len(t, runner.calls, 3)
}

func TestChatLimiterRefillsAndPrunes(t *testing.T) {
	now := fixedNow()
	l := newChatLimiter(1, func() time.Time { return now })

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	now = now.Add(time.Minute)
	assert.True(t, l.Allow("a"))

	now = now.Add(10 * time.Minute)
	assert.True(t, l.Allow("b"))
	l.mu.Lock()
	_, kept := l.visitors["a"]
	l.mu.Unlock()
	assert.False(t, kept)

	var unlimited *chatLimiter
	assert.True(t, unlimited.Allow("x"))
}

func TestInvokeUsesTestChat(t *testing.T) {
	runner := &fakeRunner{}
	s := newServer(runner, Health{}, Config{})

	rec := do(t, s, http.MethodPost, "/invoke", map[string]string{"user_input": "hola"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"response": "Hola hola"}, decodeBody(t, rec))
	require.Len(t, runner.calls, 1)
	assert.Equal(t, InvokeChatID, runner.calls[0].ChatID)

	rec = do(t, s, http.MethodPost, "/invoke", map[string]string{"user_input": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	s := newServer(&fakeRunner{}, Health{Database: ok, Redis: ok}, Config{})
	rec := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["database"])
	assert.Equal(t, "2026-10-19T08:00:00-07:00", body["timestamp"])

	s = newServer(&fakeRunner{}, Health{Database: down, Redis: ok}, Config{})
	rec = do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "error", body["database"])
	assert.Equal(t, "ok", body["redis"])
}

func TestRootAndMetrics(t *testing.T) {
	s := newServer(&fakeRunner{}, Health{}, Config{})

	rec := do(t, s, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, ServiceName, body["service"])
	assert.Contains(t, body["endpoints"], "/api/whatsapp-agent/message")

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/nope", nil).Code)

	rec = do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `clinic_agent_http_request_duration_seconds_count{code="200",route="GET /{$}"}`))
}
