package whatsapp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errx "github.com/clinic-agent/server/internal/core/error"
	"github.com/clinic-agent/server/internal/whatsapp"
)

func TestSendPostsReminder(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/send-reminder", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := whatsapp.NewClient(whatsapp.Config{BaseURL: srv.URL + "/"})
	require.NoError(t, c.Send(context.Background(), "+526640000001", "hola"))
	assert.Equal(t, map[string]string{"destinatario": "+526640000001", "mensaje": "hola"}, got)
}

func TestSendReportsBridgeErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not connected", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := whatsapp.NewClient(whatsapp.Config{BaseURL: srv.URL}).Send(context.Background(), "+526640000001", "hola")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, errx.StatusOf(err))
	assert.Contains(t, err.Error(), "503")
}
