// Package receptionist runs the slot-filling conversation that books an
// appointment for a patient: name, day, time, confirmation.
package receptionist

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/clinic-agent/server/internal/agent/model"
	"github.com/clinic-agent/server/internal/clinic"
	errx "github.com/clinic-agent/server/internal/core/error"
	logx "github.com/clinic-agent/server/pkg/logger"
)

// Clinic is the part of the clinic service the receptionist needs.
type Clinic interface {
	Now() time.Time
	PatientByPhone(ctx context.Context, phone string) (*clinic.Patient, error)
	PatientByID(ctx context.Context, id uint) (*clinic.Patient, error)
	CreatePatient(ctx context.Context, in clinic.NewPatient) (*clinic.Patient, error)
	AvailableSlots(ctx context.Context, days int) ([]clinic.Slot, error)
	Book(ctx context.Context, b clinic.Booking) (*clinic.Appointment, error)
}

type Config struct {
	Suggestions int
	Lookahead   int
}

type Receptionist struct {
	clinic Clinic
	names  NameExtractor
	cfg    Config
}

func New(c Clinic, names NameExtractor, cfg Config) *Receptionist {
	if names == nil {
		names = HeuristicExtractor{}
	}
	if cfg.Suggestions <= 0 {
		cfg.Suggestions = 3
	}
	return &Receptionist{clinic: c, names: names, cfg: cfg}
}

// Outcome is the result of one receptionist turn.
type Outcome struct {
	Reply   string
	Flow    *model.FlowState
	Touched []model.TouchedAppointment
}

// Handle advances the flow with the patient's message.
func (r *Receptionist) Handle(ctx context.Context, caller model.Caller, flow *model.FlowState, msg string) (Outcome, error) {
	if flow == nil {
		flow = model.NewFlow()
	}
	if flow.PatientID == nil && caller.PatientID != nil {
		flow.PatientID = caller.PatientID
	}
	flow.UpdatedAt = r.clinic.Now()

	logx.Debug().Str("thread_id", caller.ThreadID).Str("estado", string(flow.Stage)).Msg("receptionist turn")

	var (
		out Outcome
		err error
	)
	switch flow.Stage {
	case model.StageAskingName:
		out, err = r.captureName(ctx, caller, flow, msg)
	case model.StageCollecting:
		out, err = r.collect(ctx, flow, msg)
	case model.StageConfirming, model.StageShowingOptions:
		out, err = r.confirm(ctx, flow, msg)
	default:
		out, err = r.start(ctx, caller, flow, msg)
	}
	if err != nil {
		return Outcome{}, err
	}
	logx.Debug().Str("thread_id", caller.ThreadID).Str("estado", string(out.Flow.Stage)).Msg("receptionist next state")
	return out, nil
}

func (r *Receptionist) start(ctx context.Context, caller model.Caller, flow *model.FlowState, msg string) (Outcome, error) {
	flow.Stage = model.StageInitial
	flow.ResetPreferences()

	if flow.PatientID == nil {
		p, err := r.clinic.PatientByPhone(ctx, caller.Phone)
		if err != nil && errx.StatusOf(err) != http.StatusNotFound {
			return Outcome{}, err
		}
		if p == nil {
			flow.Stage = model.StageAskingName
			return Outcome{
				Reply: "¡Hola! Veo que es tu primera vez. Para agendarte una cita, necesito tu nombre completo. ¿Cómo te llamas?",
				Flow:  flow,
			}, nil
		}
		flow.PatientID = &p.ID
	}
	return r.collect(ctx, flow, msg)
}

func (r *Receptionist) captureName(ctx context.Context, caller model.Caller, flow *model.FlowState, msg string) (Outcome, error) {
	name, err := r.names.ExtractName(ctx, msg)
	if err != nil || len([]rune(strings.TrimSpace(name))) < 2 {
		return Outcome{
			Reply: "No pude entender tu nombre. ¿Podrías decírmelo de nuevo? Por ejemplo: 'Soy Juan Pérez'",
			Flow:  flow,
		}, nil
	}

	p, err := r.clinic.CreatePatient(ctx, clinic.NewPatient{NombreCompleto: name, Telefono: caller.Phone})
	if errx.StatusOf(err) == http.StatusConflict {
		p, err = r.clinic.PatientByPhone(ctx, caller.Phone)
	}
	if err != nil {
		return Outcome{}, err
	}
	flow.PatientID = &p.ID
	flow.Stage = model.StageCollecting
	return Outcome{
		Reply: fmt.Sprintf("¡Gracias %s! Ya te registré en el sistema. ¿Para qué día te gustaría la cita? Puedes decirme 'mañana', 'el viernes', etc.", p.NombreCompleto),
		Flow:  flow,
	}, nil
}

func (r *Receptionist) collect(ctx context.Context, flow *model.FlowState, msg string) (Outcome, error) {
	flow.Stage = model.StageCollecting
	now := r.clinic.Now()
	if d := ExtractDate(msg, now); d != nil {
		flow.Date = d
	}
	if tp := ExtractTime(msg); tp.Found() {
		flow.Bucket, flow.At, flow.AnyTime = tp.Bucket, tp.At, tp.Any
	}

	name := r.patientName(ctx, flow)
	if flow.Date == nil {
		return Outcome{
			Reply: fmt.Sprintf("¡Hola %s! ¿Para qué día te gustaría la cita? Puedes decirme 'mañana', 'el viernes', etc.", name),
			Flow:  flow,
		}, nil
	}
	if !flow.HasTime() {
		return Outcome{
			Reply: fmt.Sprintf("Perfecto %s, para el %s. ¿A qué hora prefieres? Puedes decir 'en la mañana', 'en la tarde' o una hora específica.",
				name, describeDay(*flow.Date)),
			Flow: flow,
		}, nil
	}

	slots, err := r.clinic.AvailableSlots(ctx, r.lookaheadFor(now, *flow.Date))
	if err != nil {
		return Outcome{}, err
	}
	options := clinic.Suggest(slots, flow.Preference(), r.cfg.Suggestions)
	if len(options) == 0 {
		day := describeDay(*flow.Date)
		flow.ResetPreferences()
		return Outcome{
			Reply: fmt.Sprintf("Lo siento %s, no tenemos disponibilidad para el %s en ese horario. ¿Te funcionaría otro día u horario?", name, day),
			Flow:  flow,
		}, nil
	}

	flow.Options = options
	flow.Stage = model.StageConfirming
	return Outcome{Reply: offerText(name, options), Flow: flow}, nil
}

func (r *Receptionist) confirm(ctx context.Context, flow *model.FlowState, msg string) (Outcome, error) {
	if IsNegation(msg) {
		flow.ResetPreferences()
		flow.Stage = model.StageCollecting
		return Outcome{
			Reply: "No hay problema. ¿Prefieres otro día u horario? Dime cuándo te funcionaría mejor.",
			Flow:  flow,
		}, nil
	}

	pick := -1
	if n := ExtractChoice(msg); n >= 1 && n <= len(flow.Options) {
		pick = n - 1
	} else if IsConfirmation(msg) && len(flow.Options) > 0 {
		pick = 0
	}
	if pick < 0 {
		return Outcome{
			Reply: "¿Confirmas la cita? Puedes responder 'sí, confirmo', el número de otra opción o 'no, prefiero otro horario'.",
			Flow:  flow,
		}, nil
	}
	if flow.PatientID == nil {
		flow.Stage = model.StageInitial
		return Outcome{Reply: "Hubo un error. No encontré tu registro. ¿Empezamos de nuevo?", Flow: flow}, nil
	}

	slot := flow.Options[pick]
	appt, err := r.clinic.Book(ctx, clinic.Booking{
		PacienteID: *flow.PatientID,
		Start:      slot.Start,
		Tipo:       clinic.ConsultFollowUp,
		Motivo:     firstNonEmpty(flow.Motivo, "Cita agendada vía WhatsApp"),
	})
	switch status := errx.StatusOf(err); {
	case err == nil:
	case status == http.StatusConflict || status == http.StatusBadRequest:
		// Someone else took the slot, or it slipped into the past, while the
		// patient was deciding.
		flow.Options = nil
		flow.Stage = model.StageCollecting
		retry, rerr := r.collect(ctx, flow, "")
		if rerr != nil {
			return Outcome{}, rerr
		}
		retry.Reply = "Ese horario acaba de ocuparse. " + retry.Reply
		return retry, nil
	default:
		return Outcome{}, err
	}

	flow.ResetPreferences()
	flow.Stage = model.StageCompleted
	start := appt.FechaHoraInicio.In(slot.Start.Location())
	return Outcome{
		Reply: fmt.Sprintf("✅ ¡Cita agendada exitosamente!\n\nTu cita está confirmada para el %s.\nTe enviaré un recordatorio 24 horas antes. ¡Te esperamos!",
			clinic.FormatSlot(start, start.Add(appt.Duration()))),
		Flow:    flow,
		Touched: []model.TouchedAppointment{{ID: appt.ID, Action: model.ActionCreated}},
	}, nil
}

func (r *Receptionist) patientName(ctx context.Context, flow *model.FlowState) string {
	if flow.PatientID == nil {
		return "paciente"
	}
	p, err := r.clinic.PatientByID(ctx, *flow.PatientID)
	if err != nil {
		return "paciente"
	}
	if fields := strings.Fields(p.NombreCompleto); len(fields) > 0 {
		return fields[0]
	}
	return "paciente"
}

// lookaheadFor widens the slot window so that a requested day beyond the
// default look-ahead is still covered.
func (r *Receptionist) lookaheadFor(now, day time.Time) int {
	n := r.cfg.Lookahead
	if n <= 0 {
		n = 7
	}
	if d := int(day.Sub(midnight(now)).Hours()/24) + 1; d > n {
		n = d
	}
	return n
}

func offerText(name string, options []clinic.Slot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "¡Perfecto %s! Encontré disponibilidad para: %s. ¿Te confirmo esta cita?",
		name, clinic.FormatSlot(options[0].Start, options[0].End))
	if len(options) > 1 {
		b.WriteString("\n\nTambién tengo:\n")
		for i, o := range options[1:] {
			fmt.Fprintf(&b, "%d) %s\n", i+2, clinic.FormatSlot(o.Start, o.End))
		}
		b.WriteString("\nResponde 'sí' para la primera opción o el número de la que prefieras.")
	}
	return b.String()
}

func describeDay(d time.Time) string {
	return fmt.Sprintf("%s %d de %s", strings.ToLower(clinic.DayName(d.Weekday())), d.Day(), clinic.MonthName(d.Month()))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
