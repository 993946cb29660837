package nodes

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/clinic-agent/server/internal/agent/model"
	logx "github.com/clinic-agent/server/pkg/logger"
)

const DefaultMaxToolCalls = 6

// ===== Small helpers to keep handlers simple/readable =====
// normalizeMaxToolCalls returns a sane default when the provided value is invalid.
func normalizeMaxToolCalls(n int) int {
	if n <= 0 {
		return DefaultMaxToolCalls
	}
	return n
}

// MaxToolCalls is the effective tool round limit for a configured value.
func MaxToolCalls(n int) int { return normalizeMaxToolCalls(n) }

// checkAndMarkToolLimit evaluates whether another tool call would exceed the
// limit and, if so, marks the state accordingly. Returns true when marked now.
func checkAndMarkToolLimit(state *model.AppState, max int) bool {
	max = normalizeMaxToolCalls(max)
	if !state.ToolCallLimitReached && state.ToolCallCount >= max {
		state.ToolCallLimitReached = true
		return true
	}
	return false
}

// incrementToolCallAndCheck increments the count and marks the state if it
// exceeds the limit after incrementing. Returns true when exceeded.
func incrementToolCallAndCheck(state *model.AppState, max int) bool {
	max = normalizeMaxToolCalls(max)
	state.ToolCallCount++
	if state.ToolCallCount > max {
		state.ToolCallLimitReached = true
		return true
	}
	return false
}

// recordUsage attaches the usage cost of a model answer to its Extra and adds
// it to the turn total.
func recordUsage(state *model.AppState, out *schema.Message, node, modelName string) {
	u, ok := model.UsageOf(out, modelName)
	if !ok {
		return
	}
	state.TotalCostUSD += u.CostUSD
	if out.Extra == nil {
		out.Extra = map[string]any{}
	}
	out.Extra["usage_cost"] = u
	out.Extra["usage_cost_total_usd"] = state.TotalCostUSD

	logx.Debug().
		Str("thread_id", state.ThreadID).
		Str("node", node).
		Str("model", modelName).
		Int("prompt_tokens", u.PromptTokens).
		Int("completion_tokens", u.CompletionTokens).
		Int("total_tokens", u.TotalTokens).
		Float64("total_cost_usd", u.CostUSD).
		Msg("LLM usage")
}

// readState copies what a node needs out of the graph state.
func readState[T any](ctx context.Context, f func(s *model.AppState) T) (T, error) {
	var out T
	err := compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
		out = f(s)
		return nil
	})
	return out, err
}

func writeState(ctx context.Context, f func(s *model.AppState)) error {
	return compose.ProcessState(ctx, func(_ context.Context, s *model.AppState) error {
		f(s)
		return nil
	})
}

// truncateRunes cuts s to n runes.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func normalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
