package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/clinic-agent/server/internal/agent/model"
	"github.com/clinic-agent/server/internal/clinic"
	"github.com/clinic-agent/server/internal/session"
)

type slotView struct {
	FechaHora string `json:"fecha_hora"`
	Texto     string `json:"texto"`
}

type appointmentView struct {
	CitaID   uint   `json:"cita_id"`
	Paciente string `json:"paciente,omitempty"`
	Doctor   string `json:"doctor,omitempty"`
	Inicio   string `json:"inicio"`
	Fin      string `json:"fin"`
	Texto    string `json:"texto"`
	Estado   string `json:"estado"`
	Tipo     string `json:"tipo_consulta"`
	Motivo   string `json:"motivo,omitempty"`
}

func (r *Registry) viewOf(a *clinic.Appointment) appointmentView {
	loc := r.clinic.Schedule().Location
	start, end := a.FechaHoraInicio.In(loc), a.FechaHoraFin.In(loc)
	v := appointmentView{
		CitaID: a.ID,
		Inicio: start.Format(wireLayout),
		Fin:    end.Format(wireLayout),
		Texto:  clinic.FormatSlot(start, end),
		Estado: string(a.Estado),
		Tipo:   string(a.TipoConsulta),
		Motivo: a.MotivoConsulta,
	}
	if a.Paciente != nil {
		v.Paciente = a.Paciente.NombreCompleto
	}
	if a.Doctor != nil {
		v.Doctor = a.Doctor.NombreCompleto
	}
	return v
}

func callerOf(ctx context.Context) model.Caller {
	c, _ := model.CallerFromContext(ctx)
	return c
}

// ownedAppointment loads an appointment, refusing patients access to other
// patients' appointments.
func (r *Registry) ownedAppointment(ctx context.Context, tool string, id uint) (*clinic.Appointment, *Result) {
	if id == 0 {
		return nil, refuse("cita_id es obligatorio")
	}
	appt, err := r.clinic.AppointmentByID(ctx, id)
	if err != nil {
		return nil, fail(tool, err)
	}
	caller := callerOf(ctx)
	if caller.Kind == session.KindPatient && (caller.PatientID == nil || *caller.PatientID != appt.PacienteID) {
		return nil, refuse(fmt.Sprintf("no se encontró la cita con ID %d", id))
	}
	return appt, nil
}

// ===== consultar_slots_disponibles =====

type SlotsInput struct {
	Fecha    string `json:"fecha,omitempty"`
	DoctorID uint   `json:"doctor_id,omitempty"`
}

func (r *Registry) availableSlotsTool() tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolAvailableSlots,
			Desc: "Lista los horarios libres de la clínica. Sin fecha revisa los próximos días. Devuelve cada horario como fecha_hora (YYYY-MM-DD HH:MM) y texto legible.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"fecha": {
					Type: schema.String,
					Desc: "Día a consultar en formato YYYY-MM-DD. Opcional.",
				},
				"doctor_id": {
					Type: schema.Integer,
					Desc: "Restringe a los horarios libres de un doctor. Opcional, solo personal.",
				},
			}),
		},
		func(ctx context.Context, in *SlotsInput) (*Result, error) {
			loc := r.clinic.Schedule().Location
			var (
				day *time.Time
				err error
			)
			if in.Fecha != "" {
				d, perr := parseDate(in.Fecha, loc)
				if perr != nil {
					return fail(ToolAvailableSlots, perr), nil
				}
				day = &d
			}

			var slots []clinic.Slot
			switch {
			case in.DoctorID != 0 && callerOf(ctx).Kind.IsStaff():
				slots = r.doctorSlots(ctx, in.DoctorID, day)
			case day != nil:
				slots, err = r.clinic.SlotsOn(ctx, *day)
			default:
				slots, err = r.clinic.AvailableSlots(ctx, r.cfg.Lookahead)
			}
			if err != nil {
				return fail(ToolAvailableSlots, err), nil
			}
			if len(slots) == 0 {
				return ok("no hay horarios disponibles en el periodo consultado", []slotView{}), nil
			}
			if len(slots) > r.cfg.MaxSlots {
				slots = slots[:r.cfg.MaxSlots]
			}
			views := make([]slotView, 0, len(slots))
			for _, s := range slots {
				start := s.Start.In(loc)
				views = append(views, slotView{FechaHora: start.Format(wireLayout), Texto: clinic.FormatSlot(start, s.End)})
			}
			return ok(fmt.Sprintf("%d horarios disponibles", len(views)), views), nil
		},
	)
}

func (r *Registry) doctorSlots(ctx context.Context, doctorID uint, day *time.Time) []clinic.Slot {
	sched := r.clinic.Schedule()
	now := r.clinic.Now()
	from, days := now.In(sched.Location), r.cfg.Lookahead
	if day != nil {
		from, days = *day, 1
	}
	from = time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, sched.Location)

	var out []clinic.Slot
	for i := 0; i < days; i++ {
		for _, s := range sched.DaySlots(from.AddDate(0, 0, i)) {
			if !s.Start.After(now) {
				continue
			}
			if r.clinic.CheckAvailability(ctx, doctorID, s.Start, s.End).Available {
				s.DoctorID = doctorID
				out = append(out, s)
			}
		}
	}
	return out
}

// ===== agendar_cita =====

type BookInput struct {
	PacienteID   uint   `json:"paciente_id"`
	FechaHora    string `json:"fecha_hora"`
	TipoConsulta string `json:"tipo_consulta,omitempty"`
	Motivo       string `json:"motivo,omitempty"`
}

func (r *Registry) bookTool() tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolBook,
			Desc: "Agenda una cita nueva. El doctor se asigna automáticamente por turno. Usa un horario devuelto por consultar_slots_disponibles.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"paciente_id": {
					Type: schema.Integer,
					Desc: "ID del paciente. Para pacientes que escriben por sí mismos se usa su propio registro.",
				},
				"fecha_hora": {
					Type:     schema.String,
					Desc:     "Inicio de la cita en formato YYYY-MM-DD HH:MM, hora local de la clínica.",
					Required: true,
				},
				"tipo_consulta": {
					Type: schema.String,
					Desc: "Tipo de consulta.",
					Enum: []string{string(clinic.ConsultFirstVisit), string(clinic.ConsultFollowUp), string(clinic.ConsultUrgent), string(clinic.ConsultReview)},
				},
				"motivo": {
					Type: schema.String,
					Desc: "Motivo de la consulta.",
				},
			}),
		},
		func(ctx context.Context, in *BookInput) (*Result, error) {
			caller := callerOf(ctx)
			patientID := in.PacienteID
			if caller.Kind == session.KindPatient {
				if caller.PatientID == nil {
					return refuse("el usuario aún no está registrado como paciente, pide su nombre completo primero"), nil
				}
				patientID = *caller.PatientID
			}
			if patientID == 0 {
				return refuse("paciente_id es obligatorio"), nil
			}
			start, err := parseDateTime(in.FechaHora, r.clinic.Schedule().Location)
			if err != nil {
				return fail(ToolBook, err), nil
			}
			appt, err := r.clinic.Book(ctx, clinic.Booking{
				PacienteID: patientID,
				Start:      start,
				Tipo:       clinic.ConsultationType(in.TipoConsulta),
				Motivo:     in.Motivo,
			})
			if err != nil {
				return fail(ToolBook, err), nil
			}
			v := r.viewOf(appt)
			return touched(appt.ID, model.ActionCreated, "cita agendada para el "+v.Texto, v), nil
		},
	)
}

// ===== reagendar_cita =====

type RescheduleInput struct {
	CitaID         uint   `json:"cita_id"`
	NuevaFechaHora string `json:"nueva_fecha_hora"`
}

func (r *Registry) rescheduleTool() tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolReschedule,
			Desc: "Mueve una cita existente a otro horario conservando su duración y doctor. No aplica a citas completadas o canceladas.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"cita_id": {
					Type:     schema.Integer,
					Desc:     "ID de la cita a mover.",
					Required: true,
				},
				"nueva_fecha_hora": {
					Type:     schema.String,
					Desc:     "Nuevo inicio en formato YYYY-MM-DD HH:MM.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *RescheduleInput) (*Result, error) {
			if _, res := r.ownedAppointment(ctx, ToolReschedule, in.CitaID); res != nil {
				return res, nil
			}
			start, err := parseDateTime(in.NuevaFechaHora, r.clinic.Schedule().Location)
			if err != nil {
				return fail(ToolReschedule, err), nil
			}
			appt, err := r.clinic.Reschedule(ctx, in.CitaID, start)
			if err != nil {
				return fail(ToolReschedule, err), nil
			}
			v := r.viewOf(appt)
			return touched(appt.ID, model.ActionRescheduled, "cita reagendada para el "+v.Texto, v), nil
		},
	)
}

// ===== cancelar_cita =====

type CancelInput struct {
	CitaID uint   `json:"cita_id"`
	Motivo string `json:"motivo"`
}

func (r *Registry) cancelTool() tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolCancel,
			Desc: "Cancela una cita. Requiere un motivo de al menos 3 caracteres.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"cita_id": {
					Type:     schema.Integer,
					Desc:     "ID de la cita a cancelar.",
					Required: true,
				},
				"motivo": {
					Type:     schema.String,
					Desc:     "Motivo de la cancelación.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *CancelInput) (*Result, error) {
			if _, res := r.ownedAppointment(ctx, ToolCancel, in.CitaID); res != nil {
				return res, nil
			}
			appt, already, err := r.clinic.Cancel(ctx, in.CitaID, in.Motivo)
			if err != nil {
				return fail(ToolCancel, err), nil
			}
			v := r.viewOf(appt)
			if already {
				return &Result{Exito: true, Advertencia: "la cita ya estaba cancelada", CitaID: appt.ID, Datos: v}, nil
			}
			return touched(appt.ID, model.ActionCancelled, "cita cancelada", v), nil
		},
	)
}

// ===== confirmar_cita =====

type ConfirmInput struct {
	CitaID uint   `json:"cita_id"`
	Notas  string `json:"notas,omitempty"`
}

func (r *Registry) confirmTool() tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolConfirm,
			Desc: "Confirma la asistencia a una cita programada.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"cita_id": {
					Type:     schema.Integer,
					Desc:     "ID de la cita a confirmar.",
					Required: true,
				},
				"notas": {
					Type: schema.String,
					Desc: "Notas internas opcionales.",
				},
			}),
		},
		func(ctx context.Context, in *ConfirmInput) (*Result, error) {
			if _, res := r.ownedAppointment(ctx, ToolConfirm, in.CitaID); res != nil {
				return res, nil
			}
			appt, err := r.clinic.Confirm(ctx, in.CitaID, in.Notas)
			if err != nil {
				return fail(ToolConfirm, err), nil
			}
			v := r.viewOf(appt)
			return touched(appt.ID, model.ActionConfirmed, "cita confirmada", v), nil
		},
	)
}

// ===== consultar_mis_citas =====

type MyAppointmentsInput struct{}

func (r *Registry) myAppointmentsTool() tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name:        ToolMyAppointments,
			Desc:        "Lista las próximas citas del paciente que está escribiendo.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
		},
		func(ctx context.Context, _ *MyAppointmentsInput) (*Result, error) {
			caller := callerOf(ctx)
			if caller.PatientID == nil {
				return refuse("el usuario no está registrado como paciente"), nil
			}
			appts, err := r.clinic.UpcomingForPatient(ctx, *caller.PatientID)
			if err != nil {
				return fail(ToolMyAppointments, err), nil
			}
			views := make([]appointmentView, 0, len(appts))
			for i := range appts {
				views = append(views, r.viewOf(&appts[i]))
			}
			if len(views) == 0 {
				return ok("no tienes citas próximas", views), nil
			}
			return ok(fmt.Sprintf("%d citas próximas", len(views)), views), nil
		},
	)
}
