package services

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/audit"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/llm"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/logging"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/models"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/prompts"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/retry"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/safety"
)

// InsightGenerator summarizes an execution result in prose.
type InsightGenerator interface {
	// Summarize never fails: when the completion service cannot produce text
	// the summary is built from the result itself.
	Summarize(ctx context.Context, question string, query models.GeneratedQuery, result *models.ExecutionResult, population *prompts.Population) *models.Insight
}

type insightGenerator struct {
	completer llm.Completer
	filter    *safety.Filter
	retry     *retry.Config
	opts      GenerationOptions
	auditor   *audit.SecurityAuditor
	logger    *zap.Logger
}

// NewInsightGenerator creates an insight generator. auditor may be nil.
func NewInsightGenerator(completer llm.Completer, filter *safety.Filter, policy *retry.Config, opts GenerationOptions, auditor *audit.SecurityAuditor, logger *zap.Logger) InsightGenerator {
	if policy == nil {
		policy = retry.DefaultConfig()
	}
	return &insightGenerator{
		completer: completer,
		filter:    filter,
		retry:     policy,
		opts:      opts,
		auditor:   auditor,
		logger:    logger.Named("insight-generator"),
	}
}

var _ InsightGenerator = (*insightGenerator)(nil)

func (g *insightGenerator) Summarize(ctx context.Context, question string, query models.GeneratedQuery, result *models.ExecutionResult, population *prompts.Population) *models.Insight {
	txID, _ := audit.TransactionUUID(ctx)
	req := llm.CompletionRequest{
		SystemPrompt: prompts.InsightSystemPrompt,
		UserPrompt:   prompts.BuildInsightPrompt(question, query.Text, result, population),
		Temperature:  g.opts.Temperature,
		MaxTokens:    g.opts.MaxTokens,
	}

	text, usedFallback := retry.DoWithFallback(ctx, g.retry,
		func(attempt int) (string, error) {
			resp, err := g.completer.Complete(llm.WithStageContext(ctx, txID, StageInsight, attempt), req)
			if err != nil {
				return "", err
			}
			prose := llm.ExtractProse(resp.Content)
			if strings.TrimSpace(prose) == "" {
				return "", &rejectedCompletion{reason: "the reply was empty", cause: apperrors.ErrEmptyCompletion}
			}
			return prose, nil
		},
		func(lastErr error) string {
			g.logger.Warn("Insight completion failed, using template summary",
				zap.String("error", logging.SanitizeError(lastErr)))
			return TemplateSummary(result, population)
		})

	filtered := g.filter.Apply(text)
	if filtered.Removed > 0 {
		g.logger.Info("Removed insight sentences",
			zap.Int("removed", filtered.Removed),
			zap.Strings("terms", filtered.Terms))
		if g.auditor != nil {
			g.auditor.LogInsightFiltered(ctx, audit.FilterDetails{
				RemovedSentences: filtered.Removed,
				Terms:            filtered.Terms,
			})
		}
	}

	return &models.Insight{
		Text:               filtered.Text,
		DisclaimerAppended: filtered.DisclaimerAppended,
		Filtered:           filtered.Removed > 0,
		RemovedSentences:   filtered.Removed,
		Fallback:           usedFallback,
	}
}
