package graph_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/clinic-agent/server/internal/agent/graph"
	"github.com/clinic-agent/server/internal/agent/graph/conversations"
	"github.com/clinic-agent/server/internal/agent/graph/nodes"
	"github.com/clinic-agent/server/internal/agent/graph/tools"
	"github.com/clinic-agent/server/internal/agent/model"
	"github.com/clinic-agent/server/internal/agent/repo"
	"github.com/clinic-agent/server/internal/clinic"
	"github.com/clinic-agent/server/internal/clinic/clinictest"
	errx "github.com/clinic-agent/server/internal/core/error"
	"github.com/clinic-agent/server/internal/memory"
	"github.com/clinic-agent/server/internal/receptionist"
	"github.com/clinic-agent/server/internal/session"
)

// scripted answers Generate calls from a queue and records every input.
type scripted struct {
	mu      sync.Mutex
	replies []*schema.Message
	err     error
	calls   [][]*schema.Message
}

func (s *scripted) Generate(_ context.Context, in []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, in)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.replies) == 0 {
		return nil, errors.New("unexpected model call")
	}
	out := s.replies[0]
	s.replies = s.replies[1:]
	return out, nil
}

func (s *scripted) Stream(context.Context, []*schema.Message, ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func (s *scripted) BindTools([]*schema.ToolInfo) error { return nil }

func (s *scripted) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fakeMemory struct {
	mu       sync.Mutex
	found    []memory.Episode
	searches []string
	saved    []memory.Episode
}

func (m *fakeMemory) Search(_ context.Context, userID, _ string) ([]memory.Episode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches = append(m.searches, userID)
	return m.found, nil
}

func (m *fakeMemory) Save(_ context.Context, ep memory.Episode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, ep)
	return nil
}

type syncCall struct {
	id     uint
	action string
}

type fakeSyncer struct {
	mu    sync.Mutex
	calls []syncCall
}

func (f *fakeSyncer) Sync(_ context.Context, id uint, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, syncCall{id, action})
	return nil
}

type fixture struct {
	db         *gorm.DB
	svc        *clinic.Service
	convos     *repo.RedisConversationRepository
	classifier *scripted
	response   *scripted
	chat       *scripted
	mem        *fakeMemory
	syncer     *fakeSyncer
	runner     graph.Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db := clinictest.NewDB(t, append(session.Models(), &tools.CatalogRow{})...)
	clinictest.SeedDoctors(t, db)
	now := clinictest.Monday(0, 7, 0)
	svc := clinictest.NewService(db, now)

	seq := 0
	sessions := session.NewManager(db, svc, session.Config{
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

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	convos := repo.NewRedisConversationRepository(rdb, time.Hour)

	reg := tools.NewRegistry(svc, tools.Config{Lookahead: 7, MaxSlots: 10})
	f := &fixture{
		db:         db,
		svc:        svc,
		convos:     convos,
		classifier: &scripted{},
		response:   &scripted{},
		chat:       &scripted{},
		mem:        &fakeMemory{},
		syncer:     &fakeSyncer{},
	}

	runner, err := graph.NewRunner(ctx, &graph.GraphConfig{
		ChatModels: &nodes.ChatModels{
			Classifier:          f.classifier,
			Response:            f.response,
			Chat:                f.chat,
			ClassifierModelName: "gemini-2.5-flash-lite",
			ResponseModelName:   "gemini-2.5-flash",
		},
		MessagesManager: conversations.NewMessagesManager(convos, model.ConversationConfig{ContextTurns: 10}),
		Flows:           repo.NewRedisFlowRepository(rdb, time.Hour),
		Sessions:        sessions,
		Memory:          f.mem,
		Practice:        svc,
		Catalog:         tools.NewCatalog(db, reg, time.Minute),
		Registry:        reg,
		Receptionist:    receptionist.New(svc, receptionist.HeuristicExtractor{}, receptionist.Config{Suggestions: 3, Lookahead: 7}),
		Calendar:        f.syncer,
		Settings: nodes.Settings{
			ClinicName:   "Clínica Sana",
			Location:     clinictest.Zone,
			Now:          func() time.Time { return now },
			ToolMaxCalls: 4,
		},
	})
	require.NoError(t, err)
	f.runner = runner
	return f
}

func (f *fixture) send(t *testing.T, chatID, text string) *model.Reply {
	t.Helper()
	out, err := f.runner.Invoke(context.Background(), model.MessageInput{ChatID: chatID, Message: text})
	require.NoError(t, err)
	require.NotNil(t, out)
	return out
}

func (f *fixture) classifications(t *testing.T) []session.ClassificationRecord {
	t.Helper()
	var rows []session.ClassificationRecord
	require.NoError(t, f.db.Order("id").Find(&rows).Error)
	return rows
}

func classification(category string) *schema.Message {
	return schema.AssistantMessage(fmt.Sprintf(`{"clasificacion": %q, "confianza": 0.92, "razonamiento": "prueba"}`, category), nil)
}

func TestGreetingSkipsClassifier(t *testing.T) {
	f := newFixture(t)
	f.chat.replies = []*schema.Message{schema.AssistantMessage("¡Hola! ¿En qué puedo ayudarte?", nil)}

	out := f.send(t, "526640000009@c.us", "hola")
	assert.Equal(t, "¡Hola! ¿En qué puedo ayudarte?", out.Text)
	assert.Equal(t, session.UserIDFor("+526640000009"), out.UserID)
	assert.NotEmpty(t, out.SessionID)
	assert.Zero(t, f.classifier.callCount())

	rows := f.classifications(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "chat", rows[0].Clasificacion)
	assert.Equal(t, model.SourceHeuristic, rows[0].Fuente)

	history, err := f.convos.LoadHistory(context.Background(), out.SessionID)
	require.NoError(t, err)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, schema.User, history.Messages[0].Role)
	assert.Equal(t, schema.Assistant, history.Messages[1].Role)

	require.Len(t, f.mem.saved, 1)
	ep := f.mem.saved[0]
	assert.True(t, strings.HasPrefix(ep.Summary, "Conversación chat - Usuario: user_"), ep.Summary)
	assert.Equal(t, "resumen_conversacion", ep.Metadata.Tipo)
	assert.Equal(t, out.SessionID, ep.SessionID)
}

func TestExpiredSessionDropsOldTranscript(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.chat.replies = []*schema.Message{
		schema.AssistantMessage("¡Hola! ¿En qué puedo ayudarte?", nil),
		schema.AssistantMessage("¡Hola de nuevo!", nil),
	}

	first := f.send(t, "526640000009@c.us", "hola")
	history, err := f.convos.LoadHistory(ctx, first.SessionID)
	require.NoError(t, err)
	require.Len(t, history.Messages, 2)

	err = f.db.Model(&session.UserSession{}).
		Where("thread_id = ?", first.SessionID).
		Update("last_activity", clinictest.Monday(0, 7, 0).Add(-48*time.Hour)).Error
	require.NoError(t, err)

	second := f.send(t, "526640000009@c.us", "hola")
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, "¡Hola de nuevo!", second.Text)

	history, err = f.convos.LoadHistory(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Empty(t, history.Messages)
	history, err = f.convos.LoadHistory(ctx, second.SessionID)
	require.NoError(t, err)
	assert.Len(t, history.Messages, 2)
}

func TestPatientBooksThroughReceptionist(t *testing.T) {
	f := newFixture(t)
	const chat = "526640000009@c.us"
	f.classifier.replies = []*schema.Message{classification("solicitud_cita_paciente")}

	out := f.send(t, chat, "quiero agendar una cita")
	assert.Contains(t, out.Text, "nombre completo")

	out = f.send(t, chat, "Soy Ana Torres")
	assert.Contains(t, out.Text, "Gracias Ana Torres")

	out = f.send(t, chat, "el jueves a las 10:30")
	assert.Contains(t, out.Text, "Jueves 22 de octubre, 10:30 - 11:30")

	out = f.send(t, chat, "sí, confirmo")
	assert.Contains(t, out.Text, "Cita agendada exitosamente")

	// Only the first message needed the classifier; the rest resumed the flow.
	assert.Equal(t, 1, f.classifier.callCount())
	assert.Zero(t, f.response.callCount())
	assert.Len(t, f.classifications(t), 1)

	require.Len(t, f.syncer.calls, 1)
	assert.Equal(t, model.ActionCreated, f.syncer.calls[0].action)
	appt, err := f.svc.AppointmentByID(context.Background(), f.syncer.calls[0].id)
	require.NoError(t, err)
	assert.True(t, appt.FechaHoraInicio.Equal(clinictest.Monday(3, 10, 30)))

	// A completed flow is cleared, so the next message is classified again.
	f.chat.replies = []*schema.Message{schema.AssistantMessage("¡Con gusto!", nil)}
	out = f.send(t, chat, "gracias")
	assert.Equal(t, "¡Con gusto!", out.Text)
}

func TestStaffRequestUsesSelectedTools(t *testing.T) {
	f := newFixture(t)
	p := clinictest.SeedPatient(t, f.db, "María López", "+526640000001")
	f.mem.found = []memory.Episode{{Summary: "Conversación previa sobre María", Timestamp: clinictest.Monday(-1, 9, 0), Similarity: 0.8}}

	f.classifier.replies = []*schema.Message{
		classification("solicitud_cita_paciente"),
		schema.AssistantMessage("agendar_cita, consultar_slots_disponibles", nil),
	}
	f.response.replies = []*schema.Message{
		schema.AssistantMessage("", []schema.ToolCall{
			{Function: schema.FunctionCall{Name: tools.ToolBook, Arguments: fmt.Sprintf(`{"paciente_id": %d, "fecha_hora": "2026-10-22 10:30"}`, p.ID)}},
			{Function: schema.FunctionCall{Name: tools.ToolCancel, Arguments: `{"cita_id": 1, "motivo": "x"}`}},
		}),
		schema.AssistantMessage("Listo, la cita de María quedó para el jueves 22 a las 10:30.", nil),
	}

	out := f.send(t, "526641111111@c.us", "agenda a María López el jueves a las 10:30")
	assert.Equal(t, "Listo, la cita de María quedó para el jueves 22 a las 10:30.", out.Text)

	require.Equal(t, 2, f.response.callCount())
	first := f.response.calls[0]
	require.NotEmpty(t, first)
	assert.Equal(t, schema.System, first[0].Role)
	assert.Contains(t, first[0].Content, "agendar_cita")
	assert.Contains(t, first[0].Content, "Conversación previa sobre María")

	second := f.response.calls[1]
	var results []*schema.Message
	for _, m := range second {
		if m.Role == schema.Tool {
			results = append(results, m)
		}
	}
	require.Len(t, results, 2)
	assert.Equal(t, "call_1", results[0].ToolCallID)
	assert.Contains(t, results[0].Content, `"exito":true`)
	assert.Equal(t, "call_2", results[1].ToolCallID)
	assert.Equal(t, tools.BlockedResult, results[1].Content)

	require.Len(t, f.syncer.calls, 1)
	assert.Equal(t, model.ActionCreated, f.syncer.calls[0].action)

	rows := f.classifications(t)
	require.Len(t, rows, 1)
	assert.Equal(t, "agendar_cita,consultar_slots_disponibles", rows[0].HerramientasSeleccionadas)
	assert.Equal(t, "gemini-2.5-flash-lite", rows[0].Modelo)

	require.Len(t, f.mem.searches, 1)
	assert.Equal(t, session.UserIDFor("+526641111111"), f.mem.searches[0])
	require.Len(t, f.mem.saved, 1)
	assert.Equal(t, []string{tools.ToolBook, tools.ToolAvailableSlots}, f.mem.saved[0].Metadata.Herramientas)
}

func TestDoctorGetsPracticeContext(t *testing.T) {
	f := newFixture(t)
	p := clinictest.SeedPatient(t, f.db, "María López", "+526640000001")
	clinictest.SeedAppointment(t, f.db, 1, p.ID, clinictest.Monday(0, 10, 0), clinic.StatusScheduled)
	clinictest.SeedNote(t, f.db, 1, p.ID, clinictest.Monday(-3, 10, 0), "Control de presión arterial")

	f.classifier.replies = []*schema.Message{
		classification("medica"),
		schema.AssistantMessage("NONE", nil),
		classification("medica"),
		schema.AssistantMessage("NONE", nil),
	}
	f.response.replies = []*schema.Message{
		schema.AssistantMessage("Hoy tienes una cita con María López a las 10:00.", nil),
		schema.AssistantMessage("No tengo ese dato.", nil),
	}

	out := f.send(t, "526641111111@c.us", "¿qué pacientes tengo hoy?")
	assert.Equal(t, "Hoy tienes una cita con María López a las 10:00.", out.Text)
	require.Equal(t, 1, f.response.callCount())
	sys := f.response.calls[0][0].Content
	assert.Contains(t, sys, "CONTEXTO DEL CONSULTORIO")
	assert.Contains(t, sys, "- 10:00 María López (cita")
	assert.Contains(t, sys, "Control de presión arterial")

	// Admins are staff but have no practice of their own.
	out = f.send(t, "526649999999@c.us", "¿qué pacientes hay hoy?")
	assert.Equal(t, "No tengo ese dato.", out.Text)
	require.Equal(t, 2, f.response.callCount())
	assert.NotContains(t, f.response.calls[1][0].Content, "CONTEXTO DEL CONSULTORIO")
}

func TestToolCallLimitWrapsUpTurn(t *testing.T) {
	f := newFixture(t)
	f.classifier.replies = []*schema.Message{
		classification("medica"),
		schema.AssistantMessage(tools.ToolAvailableSlots, nil),
	}
	for i := 0; i < 10; i++ {
		f.response.replies = append(f.response.replies, schema.AssistantMessage("", []schema.ToolCall{
			{Function: schema.FunctionCall{Name: tools.ToolAvailableSlots, Arguments: `{}`}},
		}))
	}

	out := f.send(t, "526641111111@c.us", "revisa todos los horarios de la semana")
	assert.Equal(t, nodes.ToolLimitReply, out.Text)

	// Four tool rounds, then one last call carrying the wrap-up notice.
	require.Equal(t, 5, f.response.callCount())
	last := f.response.calls[4]
	require.NotEmpty(t, last)
	notice := last[len(last)-1]
	assert.Equal(t, schema.System, notice.Role)
	assert.Contains(t, notice.Content, "AVISO DEL SISTEMA")
	assert.Contains(t, notice.Content, "límite de 4 llamadas")
	for _, call := range f.response.calls[:4] {
		for _, m := range call {
			assert.NotContains(t, m.Content, "AVISO DEL SISTEMA")
		}
	}

	results := 0
	for _, m := range last {
		if m.Role == schema.Tool {
			results++
		}
	}
	assert.Equal(t, 4, results)
	assert.Empty(t, f.syncer.calls)
	require.Len(t, f.mem.saved, 1)
}

func TestPatientMedicalQuestionGoesToReceptionist(t *testing.T) {
	f := newFixture(t)
	clinictest.SeedPatient(t, f.db, "María López", "+526640000001")
	f.classifier.replies = []*schema.Message{classification("medica")}

	out := f.send(t, "526640000001@c.us", "necesito ver mi historial médico")
	assert.NotEmpty(t, out.Text)
	assert.Zero(t, f.response.callCount())

	rows := f.classifications(t)
	require.Len(t, rows, 1)
	assert.Equal(t, string(model.CategoryAppointment), rows[0].Clasificacion)
}

func TestClarificationEndsTurn(t *testing.T) {
	f := newFixture(t)
	f.classifier.replies = []*schema.Message{schema.AssistantMessage(
		"```json\n{\"clasificacion\": \"necesita_aclaracion\", \"confianza\": 0.4, \"pregunta_aclaracion\": \"¿Te refieres a una cita nueva o a una existente?\"}\n```", nil)}

	out := f.send(t, "526640000009@c.us", "lo de la semana pasada")
	assert.Equal(t, "¿Te refieres a una cita nueva o a una existente?", out.Text)
	assert.Empty(t, f.mem.saved)
}

func TestClassifierFailureFallsBackToChat(t *testing.T) {
	f := newFixture(t)
	f.classifier.err = errors.New("quota exceeded")
	f.chat.replies = []*schema.Message{schema.AssistantMessage("Claro, dime más.", nil)}

	out := f.send(t, "526640000009@c.us", "tengo una duda sobre la clínica")
	assert.Equal(t, "Claro, dime más.", out.Text)

	rows := f.classifications(t)
	require.Len(t, rows, 1)
	assert.Equal(t, model.SourceFallback, rows[0].Fuente)
}

func TestChatModelFailureUsesFallbackReply(t *testing.T) {
	f := newFixture(t)
	f.chat.err = errors.New("unavailable")

	out := f.send(t, "526640000009@c.us", "buenas tardes")
	assert.Equal(t, nodes.FallbackReply, out.Text)
}

func TestEmptyMessageIsRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.runner.Invoke(context.Background(), model.MessageInput{ChatID: "526640000009@c.us", Message: "   "})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, errx.StatusOf(err))
}
