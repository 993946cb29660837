package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	logx "github.com/clinic-agent/server/pkg/logger"
)

const searchSQL = `SELECT resumen, metadata, timestamp, 1 - (embedding <=> ?::vector) AS similarity
FROM memoria_episodica
WHERE user_id = ?
ORDER BY embedding <=> ?::vector
LIMIT ?`

const insertSQL = `INSERT INTO memoria_episodica (user_id, session_id, resumen, embedding, metadata, timestamp)
VALUES (?, ?, ?, ?::vector, ?::jsonb, ?)`

type Config struct {
	TopK          int
	MinSimilarity float64
}

// Store reads and writes memoria_episodica. The table needs pgvector, so it
// is queried with raw SQL rather than through a gorm model.
type Store struct {
	db       *gorm.DB
	embedder Embedder
	cfg      Config
}

func NewStore(db *gorm.DB, embedder Embedder, cfg Config) *Store {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Store{db: db, embedder: embedder, cfg: cfg}
}

type episodeRow struct {
	Resumen    string
	Metadata   []byte
	Timestamp  time.Time
	Similarity float64
}

// Search returns the user's episodes most similar to text, dropping those
// below the similarity threshold.
func (s *Store) Search(ctx context.Context, userID, text string) ([]Episode, error) {
	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	lit := VectorLiteral(vec)

	var rows []episodeRow
	if err := s.db.WithContext(ctx).Raw(searchSQL, lit, userID, lit, s.cfg.TopK).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("search episodes: %w", err)
	}

	out := make([]Episode, 0, len(rows))
	for _, r := range rows {
		if r.Similarity < s.cfg.MinSimilarity {
			continue
		}
		ep := Episode{UserID: userID, Summary: r.Resumen, Timestamp: r.Timestamp, Similarity: r.Similarity}
		if len(r.Metadata) > 0 {
			if err := json.Unmarshal(r.Metadata, &ep.Metadata); err != nil {
				logx.Warn().Err(err).Str("user_id", userID).Msg("episode metadata is not valid json")
			}
		}
		out = append(out, ep)
	}
	logx.Debug().Str("user_id", userID).Int("found", len(rows)).Int("kept", len(out)).Msg("episodic search")
	return out, nil
}

// Save embeds the episode summary and stores it.
func (s *Store) Save(ctx context.Context, ep Episode) error {
	vec, err := s.embedder.EmbedDocument(ctx, ep.Summary)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(ep.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if ep.Timestamp.IsZero() {
		ep.Timestamp = time.Now()
	}
	err = s.db.WithContext(ctx).Exec(insertSQL,
		ep.UserID, ep.SessionID, ep.Summary, VectorLiteral(vec), string(meta), ep.Timestamp.UTC()).Error
	if err != nil {
		return fmt.Errorf("insert episode: %w", err)
	}
	return nil
}

// VectorLiteral renders v in pgvector's text format.
func VectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
