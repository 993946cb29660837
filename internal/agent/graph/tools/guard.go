package tools

import (
	"context"
	"encoding/json"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/clinic-agent/server/internal/agent/model"
	"github.com/clinic-agent/server/internal/metrics"
	logx "github.com/clinic-agent/server/pkg/logger"
)

// BlockedToolName replaces calls to tools that were not selected for the turn.
// No tool has this name, so the tools node hands it to its unknown tool handler.
const BlockedToolName = "herramienta_no_seleccionada"

// BlockedResult is what the model sees for a blocked call.
const BlockedResult = `{"exito":false,"error":"tool_not_selected"}`

// guarded attaches the caller of the turn to the context and enforces the
// tool's access level before running it.
type guarded struct {
	inner tool.InvokableTool
	def   Definition
}

func (g *guarded) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return g.inner.Info(ctx)
}

func (g *guarded) InvokableRun(ctx context.Context, args string, opts ...tool.Option) (string, error) {
	caller, found := model.CallerFromContext(ctx)
	if !found {
		err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
			caller = s.Caller
			return nil
		})
		if err != nil {
			// An anonymous caller still passes the access check below.
			logx.Warn().Err(err).Str("tool", g.def.Name).Msg("caller unavailable for tool call")
		}
		ctx = model.WithCaller(ctx, caller)
	}

	if !g.def.AllowedFor(caller.Kind) {
		logx.Warn().Str("tool", g.def.Name).Str("user_id", caller.UserID).Str("kind", string(caller.Kind)).
			Msg("tool denied for user kind")
		metrics.ToolCalls.WithLabelValues(g.def.Name, "denegada").Inc()
		out, _ := json.Marshal(refuse("esta herramienta solo está disponible para el personal de la clínica"))
		return string(out), nil
	}

	out, err := g.inner.InvokableRun(ctx, args, opts...)
	if err != nil {
		metrics.ToolCalls.WithLabelValues(g.def.Name, "error").Inc()
		return "", err
	}
	var res struct {
		Exito bool `json:"exito"`
	}
	status := "error"
	if json.Unmarshal([]byte(out), &res) == nil && res.Exito {
		status = "ok"
	}
	metrics.ToolCalls.WithLabelValues(g.def.Name, status).Inc()
	return out, nil
}

// Guard rewrites tool calls that are not in selected, or that the caller may
// not use, to BlockedToolName. It returns how many calls were blocked.
func (r *Registry) Guard(msg *schema.Message, selected []string, caller model.Caller) int {
	if msg == nil {
		return 0
	}
	allowed := make(map[string]bool, len(selected))
	for _, id := range selected {
		allowed[id] = true
	}
	blocked := 0
	for i := range msg.ToolCalls {
		name := msg.ToolCalls[i].Function.Name
		def, known := r.byName[name]
		if known && allowed[name] && def.AllowedFor(caller.Kind) {
			continue
		}
		logx.Warn().Str("tool", name).Str("user_id", caller.UserID).Strs("selected", selected).
			Msg("blocking tool call outside the selection")
		metrics.ToolCalls.WithLabelValues(name, "bloqueada").Inc()
		msg.ToolCalls[i].Function.Name = BlockedToolName
		blocked++
	}
	return blocked
}

// TouchedFrom collects appointments changed by tool results.
func TouchedFrom(results []*schema.Message) []model.TouchedAppointment {
	var out []model.TouchedAppointment
	for _, m := range results {
		if m == nil {
			continue
		}
		var res Result
		if err := json.Unmarshal([]byte(m.Content), &res); err != nil {
			continue
		}
		if res.Exito && res.CitaID != 0 && res.Accion != "" {
			out = append(out, model.TouchedAppointment{ID: res.CitaID, Action: res.Accion})
		}
	}
	return out
}
