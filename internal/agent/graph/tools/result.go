package tools

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	errx "github.com/clinic-agent/server/internal/core/error"
	logx "github.com/clinic-agent/server/pkg/logger"
)

// Result is the JSON every clinic tool returns to the model. Business errors
// travel inside it so a failed booking never aborts the turn.
type Result struct {
	Exito       bool   `json:"exito"`
	Mensaje     string `json:"mensaje,omitempty"`
	Error       string `json:"error,omitempty"`
	Advertencia string `json:"advertencia,omitempty"`
	CitaID      uint   `json:"cita_id,omitempty"`
	Accion      string `json:"accion,omitempty"`
	Datos       any    `json:"datos,omitempty"`
}

func ok(msg string, datos any) *Result {
	return &Result{Exito: true, Mensaje: msg, Datos: datos}
}

func touched(id uint, action, msg string, datos any) *Result {
	return &Result{Exito: true, Mensaje: msg, CitaID: id, Accion: action, Datos: datos}
}

func fail(tool string, err error) *Result {
	if errx.StatusOf(err) >= http.StatusInternalServerError {
		logx.Error().Err(err).Str("tool", tool).Msg("tool failed")
		return &Result{Error: "error interno al procesar la solicitud, intenta más tarde"}
	}
	return &Result{Error: errx.MessageOf(err)}
}

func refuse(msg string) *Result {
	return &Result{Error: msg}
}

var dateTimeLayouts = []string{"2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02T15:04:05", "02/01/2006 15:04"}

// parseDateTime reads a local wall time such as "2026-10-22 10:30".
func parseDateTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errx.Validation(fmt.Sprintf("formato de fecha y hora inválido: %q (usa YYYY-MM-DD HH:MM)", s))
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "02/01/2006"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errx.Validation(fmt.Sprintf("formato de fecha inválido: %q (usa YYYY-MM-DD)", s))
}

const wireLayout = "2006-01-02 15:04"
