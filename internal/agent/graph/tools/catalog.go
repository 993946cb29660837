package tools

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clinic-agent/server/internal/session"
	logx "github.com/clinic-agent/server/pkg/logger"
)

// CatalogRow is one row of herramientas_disponibles.
type CatalogRow struct {
	IDTool       string `gorm:"column:id_tool;primaryKey;size:100"`
	ToolName     string `gorm:"column:tool_name;size:200;not null"`
	Descripcion  string `gorm:"column:descripcion;not null"`
	Activa       bool   `gorm:"column:activa;not null;default:true"`
	SoloPersonal bool   `gorm:"column:solo_personal;not null;default:false"`
	CreatedAt    time.Time
}

func (CatalogRow) TableName() string { return "herramientas_disponibles" }

// Entry is an active tool as offered to the selection model.
type Entry struct {
	ID          string
	Description string
	StaffOnly   bool
}

// Catalog serves the active tools from the database, cached for a TTL.
// Rows that do not name a compiled-in tool are ignored, and an empty or
// unreachable table falls back to the registry.
type Catalog struct {
	db  *gorm.DB
	reg *Registry
	ttl time.Duration
	now func() time.Time

	group    singleflight.Group
	mu       sync.RWMutex
	entries  []Entry
	loadedAt time.Time
}

func NewCatalog(db *gorm.DB, reg *Registry, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Catalog{db: db, reg: reg, ttl: ttl, now: time.Now}
}

// For returns the active tools a user of kind k may select.
func (c *Catalog) For(ctx context.Context, k session.Kind) []Entry {
	var out []Entry
	for _, e := range c.Active(ctx) {
		if e.StaffOnly && !k.IsStaff() {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Active returns every active tool.
func (c *Catalog) Active(ctx context.Context) []Entry {
	c.mu.RLock()
	entries, fresh := c.entries, c.entries != nil && c.now().Sub(c.loadedAt) < c.ttl
	c.mu.RUnlock()
	if fresh {
		return entries
	}

	v, _, _ := c.group.Do("catalog", func() (any, error) {
		loaded, err := c.load(ctx)
		if err != nil {
			logx.Warn().Err(err).Msg("tool catalog unavailable, using compiled-in tools")
			return c.fallback(), nil
		}
		c.mu.Lock()
		c.entries, c.loadedAt = loaded, c.now()
		c.mu.Unlock()
		return loaded, nil
	})
	return v.([]Entry)
}

// Invalidate forces the next call to reload the table.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
}

func (c *Catalog) load(ctx context.Context) ([]Entry, error) {
	if c.db == nil {
		return c.fallback(), nil
	}
	var rows []CatalogRow
	if err := c.db.WithContext(ctx).Where("activa = ?", true).Order("id_tool ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return c.fallback(), nil
	}

	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		def, ok := c.reg.Lookup(row.IDTool)
		if !ok {
			logx.Warn().Str("id_tool", row.IDTool).Msg("catalog row has no matching tool, skipping")
			continue
		}
		desc := row.Descripcion
		if desc == "" {
			desc = def.Description
		}
		out = append(out, Entry{
			ID:          row.IDTool,
			Description: desc,
			StaffOnly:   row.SoloPersonal || def.Access == AccessStaff,
		})
	}
	if len(out) == 0 {
		return c.fallback(), nil
	}
	logx.Debug().Int("tools", len(out)).Msg("tool catalog loaded")
	return out, nil
}

func (c *Catalog) fallback() []Entry {
	defs := c.reg.Definitions()
	out := make([]Entry, 0, len(defs))
	for _, d := range defs {
		out = append(out, Entry{ID: d.Name, Description: d.Description, StaffOnly: d.Access == AccessStaff})
	}
	return out
}

// SeedRows returns the catalog rows for the compiled-in tools.
func (r *Registry) SeedRows() []CatalogRow {
	rows := make([]CatalogRow, 0, len(r.defs))
	for _, d := range r.defs {
		rows = append(rows, CatalogRow{
			IDTool:       d.Name,
			ToolName:     d.Name,
			Descripcion:  d.Description,
			Activa:       true,
			SoloPersonal: d.Access == AccessStaff,
		})
	}
	return rows
}

// SeedCatalog inserts a row for every compiled-in tool that the table does not
// have yet. Existing rows keep their edited descriptions and flags.
func SeedCatalog(ctx context.Context, db *gorm.DB, reg *Registry) (int64, error) {
	rows := reg.SeedRows()
	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	return res.RowsAffected, res.Error
}
