package memory

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestGenAIEmbedderTaskTypes(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[{"values":[0.25,-0.5]}]}`))
	}))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      "test-key",
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: srv.URL},
	})
	require.NoError(t, err)
	e := NewGenAIEmbedder(client, "text-embedding-004", 2)

	vec, err := e.EmbedQuery(ctx, "¿cuándo es mi cita?")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -0.5}, vec)

	_, err = e.EmbedDocument(ctx, "Agendó cita para el jueves")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	assert.Contains(t, bodies[0], `"taskType":"RETRIEVAL_QUERY"`)
	assert.Contains(t, bodies[0], `"outputDimensionality":2`)
	assert.Contains(t, bodies[1], `"taskType":"RETRIEVAL_DOCUMENT"`)
}
