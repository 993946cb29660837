package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

var idArgs = map[string]bool{"paciente_id": true, "cita_id": true, "doctor_id": true}

const maxHistoryLimit = 50

// SanitizeArguments normalizes model generated arguments before the tool
// decodes them: strings are trimmed, ids given as strings or floats become
// integers, limite is clamped, and unusable values are dropped. Non-JSON input
// is returned untouched.
func SanitizeArguments(arguments string) string {
	var m map[string]any
	if err := json.Unmarshal([]byte(arguments), &m); err != nil {
		return arguments
	}

	for key, v := range m {
		if idArgs[key] {
			if n, ok := asInt(v); ok && n > 0 {
				m[key] = n
			} else {
				delete(m, key)
			}
			continue
		}
		if key == "limite" {
			if n, ok := asInt(v); ok {
				m[key] = clampInt(n, 1, maxHistoryLimit)
			} else {
				delete(m, key)
			}
			continue
		}
		switch vv := v.(type) {
		case string:
			m[key] = strings.TrimSpace(vv)
		case nil:
			delete(m, key)
		case float64, bool:
		default:
			m[key] = strings.TrimSpace(fmt.Sprint(v))
		}
	}

	b, err := json.Marshal(m)
	if err != nil {
		return arguments
	}
	return string(b)
}

func asInt(v any) (int, bool) {
	switch vv := v.(type) {
	case float64:
		return int(vv), true
	case string:
		s := strings.TrimPrefix(strings.TrimSpace(vv), "#")
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
	}
	return 0, false
}

// clampInt returns v limited to [min, max].
func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
