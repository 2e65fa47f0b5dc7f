package agentloop

import (
	"context"
	"fmt"
	"regexp"

	"github.com/martinemde/autollama/unifiedllm"
	"go.uber.org/zap"
)

// Reviewer streams a critique of the workspace.
type Reviewer struct {
	llm     unifiedllm.Completer
	config  Config
	emitter *EventEmitter
	logger  *zap.Logger
}

// NewReviewer creates a Reviewer.
func NewReviewer(llm unifiedllm.Completer, cfg Config, logger *zap.Logger, emitter *EventEmitter) *Reviewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reviewer{
		llm:     llm,
		config:  cfg.withDefaults(),
		emitter: emitter,
		logger:  logger.Named("reviewer"),
	}
}

// Review returns the concatenated feedback. Each fragment is emitted as an
// EventReviewDelta as soon as it arrives.
func (r *Reviewer) Review(ctx context.Context, objective, snapshot string) (string, error) {
	req := r.config.request("review",
		unifiedllm.SystemMessage(ReviewerSystemPrompt(objective, r.config.ApprovalToken)),
		unifiedllm.UserMessage(ReviewPrompt(snapshot)),
	)

	events, err := r.llm.CompleteStreaming(ctx, req)
	if err != nil {
		return "", fmt.Errorf("review: %w", err)
	}

	feedback, err := unifiedllm.CollectText(ctx, events, func(delta string) {
		r.emitter.Emit(EventReviewDelta, map[string]interface{}{"delta": delta})
	})
	if err != nil {
		return feedback, fmt.Errorf("review stream: %w", err)
	}

	r.emitter.Emit(EventReviewEnd, map[string]interface{}{"feedback": feedback})
	r.logger.Info("review complete",
		zap.Int("chars", len(feedback)),
		zap.String("preview", Preview(feedback, textPreviewChars)),
	)
	return feedback, nil
}

// ContainsApproval reports whether feedback contains token as a whole,
// case-sensitive word.
func ContainsApproval(feedback, token string) bool {
	if token == "" {
		return false
	}
	re := regexp.MustCompile(`(^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(token) + `($|[^\p{L}\p{N}_])`)
	return re.MatchString(feedback)
}
