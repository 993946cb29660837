package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/clinic-agent/server/internal/clinic"
	"github.com/clinic-agent/server/internal/session"
)

// Tool names. They double as the id_tool of herramientas_disponibles.
const (
	ToolAvailableSlots  = "consultar_slots_disponibles"
	ToolBook            = "agendar_cita"
	ToolReschedule      = "reagendar_cita"
	ToolCancel          = "cancelar_cita"
	ToolConfirm         = "confirmar_cita"
	ToolSearchPatients  = "buscar_pacientes"
	ToolRegisterPatient = "registrar_paciente"
	ToolPatientHistory  = "consultar_historial_paciente"
	ToolAddHistoryNote  = "agregar_nota_historial"
	ToolDoctorSchedule  = "obtener_citas_doctor"
	ToolMyAppointments  = "consultar_mis_citas"
)

// Access says who may run a tool.
type Access string

const (
	AccessAll   Access = "todos"
	AccessStaff Access = "personal"
)

// Definition is the catalog view of a tool.
type Definition struct {
	Name        string
	Description string
	Access      Access
}

// AllowedFor reports whether a user of kind k may run the tool.
func (d Definition) AllowedFor(k session.Kind) bool {
	return d.Access != AccessStaff || k.IsStaff()
}

type Config struct {
	// Lookahead is the default slot window in days.
	Lookahead int
	// MaxSlots caps the slots returned in one answer.
	MaxSlots int
}

// Registry holds the compiled-in clinic tools.
type Registry struct {
	clinic *clinic.Service
	cfg    Config
	defs   []Definition
	tools  []tool.BaseTool
	byName map[string]Definition
}

func NewRegistry(svc *clinic.Service, cfg Config) *Registry {
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = 7
	}
	if cfg.MaxSlots <= 0 {
		cfg.MaxSlots = 20
	}
	r := &Registry{clinic: svc, cfg: cfg, byName: map[string]Definition{}}

	entries := []struct {
		access Access
		tool   tool.InvokableTool
	}{
		{AccessAll, r.availableSlotsTool()},
		{AccessAll, r.bookTool()},
		{AccessAll, r.rescheduleTool()},
		{AccessAll, r.cancelTool()},
		{AccessAll, r.confirmTool()},
		{AccessAll, r.myAppointmentsTool()},
		{AccessStaff, r.searchPatientsTool()},
		{AccessStaff, r.registerPatientTool()},
		{AccessStaff, r.patientHistoryTool()},
		{AccessStaff, r.addHistoryNoteTool()},
		{AccessStaff, r.doctorScheduleTool()},
	}
	for _, e := range entries {
		info, err := e.tool.Info(context.Background())
		if err != nil {
			// Tool infos are static literals.
			panic(fmt.Sprintf("tool info: %v", err))
		}
		def := Definition{Name: info.Name, Description: info.Desc, Access: e.access}
		r.defs = append(r.defs, def)
		r.byName[def.Name] = def
		r.tools = append(r.tools, &guarded{inner: e.tool, def: def})
	}
	return r
}

// Definitions lists every tool in registration order.
func (r *Registry) Definitions() []Definition {
	return append([]Definition(nil), r.defs...)
}

func (r *Registry) Lookup(name string) (Definition, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Tools returns the executable tools, each wrapped with the caller guard.
func (r *Registry) Tools() []tool.BaseTool {
	return r.tools
}

// Infos returns the tool schemas to bind to the response model.
func (r *Registry) Infos(ctx context.Context) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}
