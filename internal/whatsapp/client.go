// Package whatsapp sends outbound messages through the WhatsApp bridge service.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	errx "github.com/clinic-agent/server/internal/core/error"
	logx "github.com/clinic-agent/server/pkg/logger"
)

const sendReminderPath = "/api/send-reminder"

type Config struct {
	BaseURL       string        `envconfig:"WHATSAPP_API_URL" default:"http://localhost:3000"`
	Timeout       time.Duration `envconfig:"WHATSAPP_TIMEOUT" default:"10s"`
	RatePerSecond float64       `envconfig:"WHATSAPP_RATE_PER_SECOND" default:"80"`
}

// Client posts messages to the bridge. Sends are throttled by a token bucket
// shared by every caller.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perSec := cfg.RatePerSecond
	if perSec <= 0 {
		perSec = 80
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(perSec), 1),
	}
}

type sendRequest struct {
	Destinatario string `json:"destinatario"`
	Mensaje      string `json:"mensaje"`
}

// Send delivers text to the phone number to.
func (c *Client) Send(ctx context.Context, to, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(sendRequest{Destinatario: to, Mensaje: text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sendReminderPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errx.New(err, http.StatusBadGateway, "whatsapp bridge unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logx.Warn().Int("status", resp.StatusCode).Str("to", to).Msg("whatsapp bridge rejected message")
		return errx.New(fmt.Errorf("bridge returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
			http.StatusBadGateway, "whatsapp bridge rejected the message")
	}
	return nil
}
