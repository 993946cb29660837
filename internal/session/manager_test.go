package session_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/clinic-agent/server/internal/clinic/clinictest"
	errx "github.com/clinic-agent/server/internal/core/error"
	"github.com/clinic-agent/server/internal/session"
)

type fixture struct {
	db  *gorm.DB
	mgr *session.Manager
	now *time.Time
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := clinictest.NewDB(t, session.Models()...)
	clinictest.SeedDoctors(t, db)
	now := clinictest.Monday(0, 9, 0)
	seq := 0
	mgr := session.NewManager(db, clinictest.NewService(db, now), session.Config{
		AdminPhone: "526649999999@c.us",
		Timezone:   "America/Tijuana",
		Window:     24 * time.Hour,
	},
		session.WithClock(func() time.Time { return now }),
		session.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("%016d", seq)
		}),
	)
	return fixture{db: db, mgr: mgr, now: &now}
}

func TestIdentifyRegistersAndClassifies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := clinictest.SeedPatient(t, f.db, "María López", "+526640000001")

	id, err := f.mgr.Identify(ctx, "526640000001@c.us", "")
	require.NoError(t, err)
	assert.Equal(t, session.KindPatient, id.Kind)
	assert.Equal(t, "Usuario", id.User.DisplayName)
	require.NotNil(t, id.PatientID)
	assert.Equal(t, p.ID, *id.PatientID)
	assert.Nil(t, id.DoctorID)
	assert.Equal(t, session.UserIDFor("+526640000001"), id.UserID)

	id, err = f.mgr.Identify(ctx, "526640000001@c.us", "Mary")
	require.NoError(t, err)
	assert.Equal(t, "Mary", id.User.DisplayName)

	var count int64
	require.NoError(t, f.db.Model(&session.User{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	doc, err := f.mgr.Identify(ctx, "526641111111@c.us", "Ana")
	require.NoError(t, err)
	assert.Equal(t, session.KindDoctor, doc.Kind)
	require.NotNil(t, doc.DoctorID)
	assert.True(t, doc.Kind.IsStaff())

	admin, err := f.mgr.Identify(ctx, "+52 664 999 9999", "Admin")
	require.NoError(t, err)
	assert.Equal(t, session.KindAdmin, admin.Kind)
	assert.True(t, admin.User.EsAdmin)
	assert.Nil(t, admin.PatientID)
}

func TestIdentifyRejectsBadChatID(t *testing.T) {
	f := newFixture(t)
	for _, chat := range []string{"grupo@g.us", "12@c.us"} {
		_, err := f.mgr.Identify(context.Background(), chat, "x")
		require.Error(t, err, chat)
		assert.Equal(t, http.StatusBadRequest, errx.StatusOf(err), chat)
	}

	var count int64
	require.NoError(t, f.db.Model(&session.User{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestResolveSessionWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	userID := session.UserIDFor("+526640000001")

	first, err := f.mgr.Resolve(ctx, userID, "+526640000001", "")
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.False(t, first.Expired)
	assert.Contains(t, first.ThreadID, "thread_"+userID+"_")

	*f.now = f.now.Add(2 * time.Hour)
	again, err := f.mgr.Resolve(ctx, userID, "+526640000001", "")
	require.NoError(t, err)
	assert.Equal(t, first.ThreadID, again.ThreadID)
	assert.False(t, again.Created)

	var s session.UserSession
	require.NoError(t, f.db.Where("thread_id = ?", first.ThreadID).First(&s).Error)
	assert.Equal(t, 2, s.MessagesCount)

	*f.now = f.now.Add(25 * time.Hour)
	later, err := f.mgr.Resolve(ctx, userID, "+526640000001", "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ThreadID, later.ThreadID)
	assert.True(t, later.Created)
	assert.True(t, later.Expired)
	assert.Equal(t, first.ThreadID, later.Previous)
}

func TestResolveExplicitThread(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	s, err := f.mgr.Resolve(ctx, "user_x", "+526640000001", "thread_custom")
	require.NoError(t, err)
	assert.Equal(t, "thread_custom", s.ThreadID)
	assert.True(t, s.Created)
	assert.Empty(t, s.Previous)

	s, err = f.mgr.Resolve(ctx, "user_x", "+526640000001", "thread_custom")
	require.NoError(t, err)
	assert.False(t, s.Created)
}

func TestClassificationLog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	long := make([]rune, 1500)
	for i := range long {
		long[i] = 'á'
	}
	rec := &session.ClassificationRecord{SessionID: "t1", UserID: "u1", Clasificacion: "medica", Confianza: 0.9, Mensaje: string(long)}
	require.NoError(t, f.mgr.LogClassification(ctx, rec))
	require.NotZero(t, rec.ID)
	require.NoError(t, f.mgr.AttachTools(ctx, rec.ID, []string{"agendar_cita", "consultar_slots_disponibles"}))

	var got session.ClassificationRecord
	require.NoError(t, f.db.First(&got, rec.ID).Error)
	assert.Len(t, []rune(got.Mensaje), 1000)
	assert.Equal(t, "agendar_cita,consultar_slots_disponibles", got.HerramientasSeleccionadas)
}
