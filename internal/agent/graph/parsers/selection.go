package parsers

import (
	"strconv"
	"strings"

	"github.com/clinic-agent/server/internal/agent/model"
)

// ParseSelection maps the selector answer onto the offered tool ids. offered
// is the list in prompt order; a bare number is read as a 1-based index into
// it. Unknown ids are dropped and duplicates removed, keeping order.
func ParseSelection(content string, offered []string) model.ToolSelection {
	s := strings.NewReplacer("\n", ",", "\"", "", "'", "", "`", "", "•", "").Replace(strings.TrimSpace(content))
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "NONE") {
		return model.ToolSelection{}
	}

	if n, err := strconv.Atoi(s); err == nil {
		if n >= 1 && n <= len(offered) {
			return model.ToolSelection{IDs: []string{offered[n-1]}}
		}
		return model.ToolSelection{}
	}

	known := make(map[string]bool, len(offered))
	for _, id := range offered {
		known[id] = true
	}
	seen := map[string]bool{}
	var ids []string
	for _, part := range strings.Split(s, ",") {
		id := strings.ToLower(strings.TrimSpace(part))
		if id == "" || strings.EqualFold(id, "none") || !known[id] || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return model.ToolSelection{IDs: ids}
}
