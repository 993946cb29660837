// Package memory stores conversation summaries as embeddings and retrieves the
// ones most similar to a new message.
package memory

import (
	"fmt"
	"strings"
	"time"
)

// Episode is one summarized conversation.
type Episode struct {
	UserID     string
	SessionID  string
	Summary    string
	Metadata   Metadata
	Timestamp  time.Time
	Similarity float64
}

// Metadata is stored as jsonb next to the summary.
type Metadata struct {
	Tipo          string   `json:"tipo,omitempty"`
	ThreadID      string   `json:"thread_id,omitempty"`
	Clasificacion string   `json:"clasificacion,omitempty"`
	Herramientas  []string `json:"herramientas,omitempty"`
}

// NoEpisodes is the context given to the models when nothing relevant was found.
const NoEpisodes = "No hay conversaciones previas relevantes para este contexto."

// Format renders episodes as the context block handed to the models. Times
// are shown in loc.
func Format(episodes []Episode, loc *time.Location) string {
	if len(episodes) == 0 {
		return NoEpisodes
	}
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder
	b.WriteString("CONVERSACIONES PREVIAS RELEVANTES:\n\n")
	for i, ep := range episodes {
		fmt.Fprintf(&b, "%d. [%s] (Relevancia: %.2f)\n", i+1, ep.Timestamp.In(loc).Format("02/01/2006 15:04"), ep.Similarity)
		fmt.Fprintf(&b, "   %s\n", ep.Summary)
		if ep.Metadata.Tipo != "" {
			fmt.Fprintf(&b, "   Tipo: %s\n", ep.Metadata.Tipo)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
