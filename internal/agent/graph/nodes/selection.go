package nodes

import (
	"context"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/clinic-agent/server/internal/agent/graph/parsers"
	"github.com/clinic-agent/server/internal/agent/graph/prompts"
	"github.com/clinic-agent/server/internal/agent/model"
	"github.com/clinic-agent/server/internal/memory"
	"github.com/clinic-agent/server/internal/session"
	logx "github.com/clinic-agent/server/pkg/logger"
)

// NewEpisodicNode retrieves summaries of similar past conversations. A nil
// store or a failed search yields the empty memory text.
func NewEpisodicNode(mem Memory, settings Settings) *compose.Lambda {
	type view struct {
		userID  string
		message string
	}
	return compose.InvokableLambda(func(ctx context.Context, _ *model.Classification) (string, error) {
		v, err := readState(ctx, func(s *model.AppState) view {
			return view{userID: s.Caller.UserID, message: s.Input.Message}
		})
		if err != nil {
			return "", err
		}
		text := memory.NoEpisodes
		if mem != nil {
			eps, err := mem.Search(ctx, v.userID, v.message)
			if err != nil {
				logx.Warn().Err(err).Str("user_id", v.userID).Msg("episodic search failed")
			} else {
				text = memory.Format(eps, settings.Location)
				logx.Debug().Int("episodes", len(eps)).Str("user_id", v.userID).Msg("episodic memory retrieved")
			}
		}
		if err := writeState(ctx, func(s *model.AppState) { s.Episodic = text }); err != nil {
			return "", err
		}
		return text, nil
	})
}

// NewMedicalContextNode loads the doctor's practice context for the response
// prompt. Other callers and lookup failures pass the episodic text through.
func NewMedicalContextNode(practice Practice, settings Settings) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, episodic string) (string, error) {
		caller, err := readState(ctx, func(s *model.AppState) model.Caller { return s.Caller })
		if err != nil {
			return "", err
		}
		if practice == nil || caller.Kind != session.KindDoctor || caller.DoctorID == nil {
			return episodic, nil
		}
		p, err := practice.Practice(ctx, *caller.DoctorID)
		if err != nil {
			logx.Warn().Err(err).Uint("doctor_id", *caller.DoctorID).Msg("medical context unavailable")
			return episodic, nil
		}
		text := p.Format(settings.Location)
		if err := writeState(ctx, func(s *model.AppState) { s.Medical = text }); err != nil {
			return "", err
		}
		logx.Debug().
			Uint("doctor_id", *caller.DoctorID).
			Int("today", len(p.Today)).
			Int("patients", len(p.Patients)).
			Msg("medical context loaded")
		return episodic, nil
	})
}

// NewSelectionPromptNode offers the tools allowed for the caller to the
// selector model.
func NewSelectionPromptNode(catalog Catalog) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, episodic string) ([]*schema.Message, error) {
		caller, err := readState(ctx, func(s *model.AppState) model.Caller { return s.Caller })
		if err != nil {
			return nil, err
		}
		entries := catalog.For(ctx, caller.Kind)
		offered := make([]string, 0, len(entries))
		options := make([]prompts.ToolOption, 0, len(entries))
		for _, e := range entries {
			offered = append(offered, e.ID)
			options = append(options, prompts.ToolOption{ID: e.ID, Description: e.Description})
		}

		var message string
		err = writeState(ctx, func(s *model.AppState) {
			s.OfferedTools = offered
			message = s.Input.Message
		})
		if err != nil {
			return nil, err
		}
		if episodic == memory.NoEpisodes {
			episodic = ""
		}
		return prompts.RenderSelection(ctx, prompts.SelectionInput{
			Tools:    options,
			Message:  message,
			Episodic: episodic,
		})
	})
}

// NewSelectionParserNode keeps the offered tool ids named by the selector and
// attaches them to the classification log.
func NewSelectionParserNode(sessions Sessions) *compose.Lambda {
	type view struct {
		offered []string
		logID   uint
	}
	return compose.InvokableLambda(func(ctx context.Context, out *schema.Message) (model.ToolSelection, error) {
		v, err := readState(ctx, func(s *model.AppState) view {
			return view{offered: s.OfferedTools, logID: s.ClassificationLogID}
		})
		if err != nil {
			return model.ToolSelection{}, err
		}
		content := ""
		if out != nil {
			content = out.Content
		}
		sel := parsers.ParseSelection(content, v.offered)
		if err := writeState(ctx, func(s *model.AppState) { s.SelectedTools = sel.IDs }); err != nil {
			return sel, err
		}
		if err := sessions.AttachTools(ctx, v.logID, sel.IDs); err != nil {
			logx.Warn().Err(err).Uint("classification_id", v.logID).Msg("failed to record selected tools")
		}
		logx.Info().Strs("tools", sel.IDs).Int("offered", len(v.offered)).Msg("tools selected")
		return sel, nil
	})
}
