package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/clinic-agent/server/internal/clinic"
	"github.com/clinic-agent/server/internal/session"
)

type patientView struct {
	ID             uint   `json:"paciente_id"`
	NombreCompleto string `json:"nombre_completo"`
	Telefono       string `json:"telefono"`
	Email          string `json:"email,omitempty"`
	UltimaCita     string `json:"ultima_cita,omitempty"`
}

func (r *Registry) patientOf(p *clinic.Patient) patientView {
	v := patientView{ID: p.ID, NombreCompleto: p.NombreCompleto, Telefono: p.Telefono, Email: p.Email}
	if p.UltimaCita != nil {
		v.UltimaCita = clinic.FormatDateTime(p.UltimaCita.In(r.clinic.Schedule().Location))
	}
	return v
}

// ===== buscar_pacientes =====

type SearchPatientsInput struct {
	Busqueda string `json:"busqueda"`
}

func (r *Registry) searchPatientsTool() tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolSearchPatients,
			Desc: "Busca pacientes por nombre, teléfono o ID. Solo personal de la clínica.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"busqueda": {
					Type:     schema.String,
					Desc:     "Nombre, fragmento de teléfono o ID del paciente (mínimo 2 caracteres).",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *SearchPatientsInput) (*Result, error) {
			found, err := r.clinic.SearchPatients(ctx, in.Busqueda, 10)
			if err != nil {
				return fail(ToolSearchPatients, err), nil
			}
			views := make([]patientView, 0, len(found))
			for i := range found {
				views = append(views, r.patientOf(&found[i]))
			}
			return ok(fmt.Sprintf("%d pacientes encontrados", len(views)), views), nil
		},
	)
}

// ===== registrar_paciente =====

type RegisterPatientInput struct {
	NombreCompleto string `json:"nombre_completo"`
	Telefono       string `json:"telefono"`
	Email          string `json:"email,omitempty"`
}

func (r *Registry) registerPatientTool() tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolRegisterPatient,
			Desc: "Registra un paciente nuevo. El teléfono debe ser único. Solo personal de la clínica.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"nombre_completo": {
					Type:     schema.String,
					Desc:     "Nombre completo del paciente.",
					Required: true,
				},
				"telefono": {
					Type:     schema.String,
					Desc:     "Teléfono con lada internacional, por ejemplo +526641234567.",
					Required: true,
				},
				"email": {
					Type: schema.String,
					Desc: "Correo electrónico opcional.",
				},
			}),
		},
		func(ctx context.Context, in *RegisterPatientInput) (*Result, error) {
			phone, err := session.NormalizePhone(in.Telefono)
			if err != nil {
				return fail(ToolRegisterPatient, err), nil
			}
			in2 := clinic.NewPatient{NombreCompleto: in.NombreCompleto, Telefono: phone, Email: in.Email}
			if c := callerOf(ctx); c.Kind == session.KindDoctor {
				in2.DoctorID = c.DoctorID
			}
			p, err := r.clinic.CreatePatient(ctx, in2)
			if err != nil {
				return fail(ToolRegisterPatient, err), nil
			}
			return ok("paciente registrado", r.patientOf(p)), nil
		},
	)
}

// ===== consultar_historial_paciente =====

type PatientHistoryInput struct {
	PacienteID uint `json:"paciente_id"`
	Limite     int  `json:"limite,omitempty"`
}

type historyView struct {
	Fecha    string `json:"fecha"`
	DoctorID uint   `json:"doctor_id"`
	Nota     string `json:"nota"`
}

func (r *Registry) patientHistoryTool() tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolPatientHistory,
			Desc: "Devuelve las notas más recientes del historial médico de un paciente. Solo personal de la clínica.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"paciente_id": {
					Type:     schema.Integer,
					Desc:     "ID del paciente.",
					Required: true,
				},
				"limite": {
					Type: schema.Integer,
					Desc: "Número máximo de notas (por defecto 10, máximo 50).",
				},
			}),
		},
		func(ctx context.Context, in *PatientHistoryInput) (*Result, error) {
			p, err := r.clinic.PatientByID(ctx, in.PacienteID)
			if err != nil {
				return fail(ToolPatientHistory, err), nil
			}
			notes, err := r.clinic.History(ctx, p.ID, in.Limite)
			if err != nil {
				return fail(ToolPatientHistory, err), nil
			}
			loc := r.clinic.Schedule().Location
			views := make([]historyView, 0, len(notes))
			for _, n := range notes {
				views = append(views, historyView{Fecha: clinic.FormatDateTime(n.Fecha.In(loc)), DoctorID: n.DoctorID, Nota: n.Nota})
			}
			return ok(fmt.Sprintf("historial de %s: %d notas", p.NombreCompleto, len(views)), views), nil
		},
	)
}

// ===== agregar_nota_historial =====

type AddHistoryNoteInput struct {
	PacienteID uint   `json:"paciente_id"`
	Nota       string `json:"nota"`
	DoctorID   uint   `json:"doctor_id,omitempty"`
}

func (r *Registry) addHistoryNoteTool() tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolAddHistoryNote,
			Desc: "Agrega una nota al historial médico de un paciente a nombre del doctor que escribe.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"paciente_id": {
					Type:     schema.Integer,
					Desc:     "ID del paciente.",
					Required: true,
				},
				"nota": {
					Type:     schema.String,
					Desc:     "Texto de la nota (mínimo 5 caracteres).",
					Required: true,
				},
				"doctor_id": {
					Type: schema.Integer,
					Desc: "Solo administradores: doctor al que se atribuye la nota.",
				},
			}),
		},
		func(ctx context.Context, in *AddHistoryNoteInput) (*Result, error) {
			caller := callerOf(ctx)
			var doctorID uint
			switch {
			case caller.Kind == session.KindDoctor && caller.DoctorID != nil:
				doctorID = *caller.DoctorID
			case caller.Kind == session.KindAdmin && in.DoctorID != 0:
				doctorID = in.DoctorID
			case caller.Kind == session.KindAdmin:
				return refuse("indica doctor_id para registrar la nota"), nil
			default:
				return refuse("solo los doctores pueden agregar notas al historial"), nil
			}
			note, err := r.clinic.AddHistoryNote(ctx, in.PacienteID, doctorID, in.Nota)
			if err != nil {
				return fail(ToolAddHistoryNote, err), nil
			}
			return ok("nota agregada al historial", historyView{
				Fecha:    clinic.FormatDateTime(note.Fecha.In(r.clinic.Schedule().Location)),
				DoctorID: note.DoctorID,
				Nota:     note.Nota,
			}), nil
		},
	)
}

// ===== obtener_citas_doctor =====

type DoctorScheduleInput struct {
	FechaInicio string `json:"fecha_inicio,omitempty"`
	FechaFin    string `json:"fecha_fin,omitempty"`
	Estado      string `json:"estado,omitempty"`
	DoctorID    uint   `json:"doctor_id,omitempty"`
}

func (r *Registry) doctorScheduleTool() tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolDoctorSchedule,
			Desc: "Lista la agenda del doctor que escribe entre dos fechas (por defecto hoy y los próximos 7 días). Solo personal de la clínica.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"fecha_inicio": {
					Type: schema.String,
					Desc: "Primer día en formato YYYY-MM-DD.",
				},
				"fecha_fin": {
					Type: schema.String,
					Desc: "Último día incluido en formato YYYY-MM-DD.",
				},
				"estado": {
					Type: schema.String,
					Desc: "Filtra por estado de la cita.",
					Enum: []string{
						string(clinic.StatusScheduled), string(clinic.StatusConfirmed), string(clinic.StatusInProgress),
						string(clinic.StatusCompleted), string(clinic.StatusCancelled), string(clinic.StatusNoShow),
					},
				},
				"doctor_id": {
					Type: schema.Integer,
					Desc: "Solo administradores: doctor a consultar.",
				},
			}),
		},
		func(ctx context.Context, in *DoctorScheduleInput) (*Result, error) {
			caller := callerOf(ctx)
			doctorID := in.DoctorID
			if caller.Kind == session.KindDoctor && caller.DoctorID != nil {
				doctorID = *caller.DoctorID
			}
			if doctorID == 0 {
				return refuse("indica doctor_id para consultar la agenda"), nil
			}
			estado := clinic.AppointmentStatus(in.Estado)
			if estado != "" && !estado.Valid() {
				return refuse(fmt.Sprintf("estado inválido: %s", in.Estado)), nil
			}

			loc := r.clinic.Schedule().Location
			now := r.clinic.Now().In(loc)
			from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
			if in.FechaInicio != "" {
				d, err := parseDate(in.FechaInicio, loc)
				if err != nil {
					return fail(ToolDoctorSchedule, err), nil
				}
				from = d
			}
			to := from.AddDate(0, 0, 7)
			if in.FechaFin != "" {
				d, err := parseDate(in.FechaFin, loc)
				if err != nil {
					return fail(ToolDoctorSchedule, err), nil
				}
				to = d.AddDate(0, 0, 1)
			}
			if !to.After(from) {
				return refuse("fecha_fin debe ser posterior a fecha_inicio"), nil
			}

			appts, err := r.clinic.DoctorAppointments(ctx, doctorID, from, to, estado)
			if err != nil {
				return fail(ToolDoctorSchedule, err), nil
			}
			views := make([]appointmentView, 0, len(appts))
			for i := range appts {
				views = append(views, r.viewOf(&appts[i]))
			}
			return ok(fmt.Sprintf("%d citas entre %s y %s", len(views), clinic.FormatDate(from), clinic.FormatDate(to.AddDate(0, 0, -1))), views), nil
		},
	)
}
