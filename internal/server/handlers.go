package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clinic-agent/server/internal/agent/model"
	errx "github.com/clinic-agent/server/internal/core/error"
	"github.com/clinic-agent/server/internal/session"
	logx "github.com/clinic-agent/server/pkg/logger"
)

const maxBodyBytes = 64 << 10

type errorBody struct {
	Error    string  `json:"error"`
	Response *string `json:"response"`
}

type invokeRequest struct {
	UserInput string `json:"user_input"`
	ChatID    string `json:"chat_id,omitempty"`
}

type invokeResponse struct {
	Response string `json:"response"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   ServiceName,
		"timestamp": s.now().In(s.loc).Format(time.RFC3339),
		"endpoints": []string{"/health", "/api/whatsapp-agent/message", "/invoke", "/metrics"},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	db := probe(r.Context(), s.health.Database)
	rdb := probe(r.Context(), s.health.Redis)

	status, code := "healthy", http.StatusOK
	if db == "error" || rdb == "error" {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status":    status,
		"database":  db,
		"redis":     rdb,
		"timestamp": s.now().In(s.loc).Format(time.RFC3339),
	})
}

func probe(ctx context.Context, check Check) string {
	if check == nil {
		return "not_configured"
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := check(ctx); err != nil {
		logx.Warn().Err(err).Msg("health check failed")
		return "error"
	}
	return "ok"
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var in model.MessageInput
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(in.ChatID) == "" {
		writeError(w, errx.Validation("chat_id es obligatorio"))
		return
	}
	if strings.TrimSpace(in.Message) == "" {
		writeError(w, errx.Validation("message es obligatorio"))
		return
	}

	reply, err := s.invoke(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.UserInput) == "" {
		writeError(w, errx.Validation("user_input es obligatorio"))
		return
	}
	chatID := req.ChatID
	if chatID == "" {
		chatID = InvokeChatID
	}

	reply, err := s.invoke(r.Context(), model.MessageInput{ChatID: chatID, Message: req.UserInput, SenderName: "Prueba"})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invokeResponse{Response: reply.Text})
}

// invoke applies the per-chat budget and stamps the message with server time.
func (s *Server) invoke(ctx context.Context, in model.MessageInput) (*model.Reply, error) {
	if !s.limiter.Allow(limitKey(in.ChatID)) {
		return nil, errx.New(nil, http.StatusTooManyRequests, "demasiados mensajes, intenta de nuevo en un momento")
	}
	in.Timestamp = s.now().In(s.loc).Format(time.RFC3339)

	start := time.Now()
	reply, err := s.runner.Invoke(ctx, in)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errx.New(err, http.StatusGatewayTimeout, "el agente tardó demasiado en responder")
		}
		logx.Error().Err(err).Str("chat_id", in.ChatID).Msg("graph invocation failed")
		return nil, err
	}
	logx.Info().
		Str("chat_id", in.ChatID).
		Str("session_id", reply.SessionID).
		Dur("elapsed", time.Since(start)).
		Msg("message answered")
	return reply, nil
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errx.New(err, http.StatusBadRequest, "cuerpo JSON inválido")
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errx.StatusOf(err), errorBody{Error: errx.MessageOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Warn().Err(err).Msg("write response")
	}
}

// limitKey collapses the spellings of one WhatsApp number into one bucket.
// Unparseable ids keep their raw form and are rejected later by the graph.
func limitKey(chatID string) string {
	if phone, err := session.NormalizePhone(chatID); err == nil {
		return phone
	}
	return chatID
}
