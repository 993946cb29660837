package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/clinic-agent/server/internal/clinic"
	errx "github.com/clinic-agent/server/internal/core/error"
	logx "github.com/clinic-agent/server/pkg/logger"
)

const maxLoggedMessage = 1000

// Directory resolves phone numbers against the clinic's staff and patients.
type Directory interface {
	DoctorByPhone(ctx context.Context, phone string) (*clinic.Doctor, error)
	PatientByPhone(ctx context.Context, phone string) (*clinic.Patient, error)
}

type Config struct {
	AdminPhone string
	Timezone   string
	Window     time.Duration
}

// Identity is everything the agent knows about the sender of a message.
type Identity struct {
	User      User
	UserID    string
	Kind      Kind
	DoctorID  *uint
	PatientID *uint
}

// Session is the conversation thread a message belongs to.
type Session struct {
	ThreadID string
	UserID   string
	// Expired is set when an older session existed but fell outside the window.
	Expired bool
	Created bool
	// Previous is the expired thread replaced by this one.
	Previous string
}

type Manager struct {
	db    *gorm.DB
	dir   Directory
	cfg   Config
	now   func() time.Time
	newID func() string
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithIDGenerator(f func() string) Option {
	return func(m *Manager) { m.newID = f }
}

func NewManager(db *gorm.DB, dir Directory, cfg Config, opts ...Option) *Manager {
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if cfg.AdminPhone != "" {
		if p, err := NormalizePhone(cfg.AdminPhone); err == nil {
			cfg.AdminPhone = p
		}
	}
	m := &Manager{
		db:    db,
		dir:   dir,
		cfg:   cfg,
		now:   time.Now,
		newID: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Identify looks the sender up, registering unknown phones on the fly.
func (m *Manager) Identify(ctx context.Context, chatID, senderName string) (*Identity, error) {
	phone, err := NormalizePhone(chatID)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(senderName)
	now := m.now().UTC()

	var user User
	err = m.db.WithContext(ctx).Where("phone_number = ?", phone).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = User{
			PhoneNumber: phone,
			DisplayName: name,
			EsAdmin:     m.cfg.AdminPhone != "" && phone == m.cfg.AdminPhone,
			Timezone:    m.cfg.Timezone,
			LastSeen:    now,
		}
		if user.DisplayName == "" {
			user.DisplayName = "Usuario"
		}
		if err := m.db.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, errx.WrapDB(err)
		}
		logx.Info().Str("phone", phone).Bool("es_admin", user.EsAdmin).Msg("user registered")
	case err != nil:
		return nil, errx.WrapDB(err)
	default:
		updates := map[string]any{"last_seen": now}
		if name != "" && name != user.DisplayName {
			updates["display_name"] = name
			user.DisplayName = name
		}
		if err := m.db.WithContext(ctx).Model(&User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
			return nil, errx.WrapDB(err)
		}
		user.LastSeen = now
	}

	id := &Identity{User: user, UserID: UserIDFor(phone), Kind: KindPatient}

	doctor, err := m.dir.DoctorByPhone(ctx, phone)
	if err != nil && errx.StatusOf(err) != http.StatusNotFound {
		return nil, err
	}
	if doctor != nil {
		id.DoctorID = &doctor.ID
	}
	switch {
	case user.EsAdmin:
		id.Kind = KindAdmin
	case doctor != nil:
		id.Kind = KindDoctor
	}

	patient, err := m.dir.PatientByPhone(ctx, phone)
	if err != nil && errx.StatusOf(err) != http.StatusNotFound {
		return nil, err
	}
	if patient != nil {
		id.PatientID = &patient.ID
	}
	return id, nil
}

// Resolve picks the thread for a message: the requested one, the latest one
// still inside the session window, or a fresh one. The chosen session is touched.
func (m *Manager) Resolve(ctx context.Context, userID, phone, threadID string) (*Session, error) {
	db := m.db.WithContext(ctx)
	now := m.now().UTC()
	threadID = strings.TrimSpace(threadID)

	if threadID != "" {
		var existing UserSession
		err := db.Where("thread_id = ?", threadID).Limit(1).Find(&existing).Error
		if err != nil {
			return nil, errx.WrapDB(err)
		}
		out := &Session{ThreadID: threadID, UserID: userID}
		if existing.ID == 0 {
			if err := m.create(ctx, userID, phone, threadID, now); err != nil {
				return nil, err
			}
			out.Created = true
			return out, nil
		}
		return out, m.touch(ctx, existing.ID, now)
	}

	var latest UserSession
	err := db.Where("user_id = ?", userID).Order("last_activity DESC").Limit(1).Find(&latest).Error
	if err != nil {
		return nil, errx.WrapDB(err)
	}
	if latest.ID != 0 && !latest.LastActivity.Before(now.Add(-m.cfg.Window)) {
		return &Session{ThreadID: latest.ThreadID, UserID: userID}, m.touch(ctx, latest.ID, now)
	}

	threadID = fmt.Sprintf("thread_%s_%s", userID, m.newID()[:12])
	if err := m.create(ctx, userID, phone, threadID, now); err != nil {
		return nil, err
	}
	out := &Session{ThreadID: threadID, UserID: userID, Created: true, Expired: latest.ID != 0, Previous: latest.ThreadID}
	logx.Debug().Str("thread_id", threadID).Bool("expired", out.Expired).Msg("session created")
	return out, nil
}

func (m *Manager) create(ctx context.Context, userID, phone, threadID string, now time.Time) error {
	s := UserSession{
		UserID:        userID,
		ThreadID:      threadID,
		PhoneNumber:   phone,
		MessagesCount: 1,
		LastActivity:  now,
	}
	return errx.WrapDB(m.db.WithContext(ctx).Create(&s).Error)
}

func (m *Manager) touch(ctx context.Context, id uint, now time.Time) error {
	err := m.db.WithContext(ctx).Model(&UserSession{}).Where("id = ?", id).Updates(map[string]any{
		"last_activity":  now,
		"messages_count": gorm.Expr("messages_count + 1"),
	}).Error
	return errx.WrapDB(err)
}

// LogClassification stores a classification row and sets rec.ID.
func (m *Manager) LogClassification(ctx context.Context, rec *ClassificationRecord) error {
	if r := []rune(rec.Mensaje); len(r) > maxLoggedMessage {
		rec.Mensaje = string(r[:maxLoggedMessage])
	}
	return errx.WrapDB(m.db.WithContext(ctx).Create(rec).Error)
}

// AttachTools records the tools selected after a classification.
func (m *Manager) AttachTools(ctx context.Context, id uint, tools []string) error {
	if id == 0 {
		return nil
	}
	err := m.db.WithContext(ctx).Model(&ClassificationRecord{}).Where("id = ?", id).
		Update("herramientas_seleccionadas", strings.Join(tools, ",")).Error
	return errx.WrapDB(err)
}
