package generator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"storybook-server/internal/domain"
	"storybook-server/internal/imagegen"
	"storybook-server/internal/metrics"
	"storybook-server/internal/storage"
)

type attemptOutcome int

const (
	outcomeSuccess attemptOutcome = iota
	outcomeRetryable
	outcomeFatal
)

func (o attemptOutcome) String() string {
	switch o {
	case outcomeSuccess:
		return metrics.OutcomeSuccess
	case outcomeRetryable:
		return metrics.OutcomeRetryable
	case outcomeFatal:
		return metrics.OutcomeFatal
	default:
		return "unknown"
	}
}

type attemptResult struct {
	outcome  attemptOutcome
	artifact string
	image    *imagegen.Image
	err      error
}

// attempt делает один вызов провайдера с новым запросом и записывает его
// как ImageJob. Ошибки учёта заданий логируются и не меняют исход.
func (g *Generator) attempt(ctx context.Context, page *domain.Page, attempt int) attemptResult {
	provider := g.client.Name()
	req := imagegen.Request{
		Prompt:         page.Image.Prompt,
		NegativePrompt: page.Image.NegativePrompt,
		Seed:           page.Image.Seed,
	}
	job := &domain.ImageJob{
		PageID:         page.ID,
		Attempt:        attempt,
		Provider:       provider,
		RequestPayload: g.requestPayload(req),
		Status:         domain.ImageJobStatusQueued,
	}
	jobRecorded := true
	if err := g.store.CreateImageJob(ctx, job); err != nil {
		g.logger.Warn("Failed to record image job", zap.String("page_id", page.ID.String()), zap.Error(err))
		jobRecorded = false
	}
	if jobRecorded {
		job.Status = domain.ImageJobStatusRunning
		g.updateJob(ctx, job)
	}

	start := g.now()
	res := g.callProvider(ctx, page, req)
	latency := g.now().Sub(start)

	metrics.GenerationAttempts.WithLabelValues(provider, res.outcome.String()).Inc()
	metrics.GenerationLatency.WithLabelValues(provider).Observe(latency.Seconds())

	if jobRecorded {
		latencyMs := latency.Milliseconds()
		finished := g.now().UTC()
		job.LatencyMs = &latencyMs
		job.FinishedAt = &finished
		switch {
		case res.outcome == outcomeSuccess:
			cost := g.cfg.CostCents
			job.Status = domain.ImageJobStatusSuccess
			job.CostCents = &cost
			job.ResponsePayload = map[string]any{
				"content_type": res.image.ContentType,
				"size_bytes":   len(res.image.Data),
				"model":        res.image.Model,
				"artifact":     res.artifact,
			}
		case ctx.Err() != nil:
			job.Status = domain.ImageJobStatusCancelled
			job.ResponsePayload = map[string]any{"error": imagegen.Truncate(res.err.Error(), g.cfg.ErrorMaxLength)}
		default:
			job.Status = domain.ImageJobStatusFailed
			job.ResponsePayload = errorPayload(res.err, g.cfg.ErrorMaxLength)
		}
		g.updateJob(context.WithoutCancel(ctx), job)
	}
	return res
}

func (g *Generator) callProvider(ctx context.Context, page *domain.Page, req imagegen.Request) attemptResult {
	if err := ctx.Err(); err != nil {
		return attemptResult{outcome: outcomeFatal, err: fmt.Errorf("generation cancelled: %w", err)}
	}

	img, err := g.client.Generate(ctx, req)
	if err != nil {
		switch {
		case imagegen.IsConfiguration(err):
			return attemptResult{outcome: outcomeFatal, err: err}
		case ctx.Err() != nil:
			return attemptResult{outcome: outcomeFatal, err: fmt.Errorf("generation cancelled: %w", ctx.Err())}
		default:
			return attemptResult{outcome: outcomeRetryable, err: err}
		}
	}
	if img == nil || len(img.Data) == 0 {
		return attemptResult{outcome: outcomeRetryable, err: &imagegen.ProviderError{Provider: g.client.Name(), Status: 200, Detail: "empty image"}}
	}

	key := storage.PageImageKey(page.ID, img.ContentType)
	artifact, err := g.artifacts.Save(ctx, key, img.Data)
	if err != nil {
		return attemptResult{outcome: outcomeRetryable, err: fmt.Errorf("failed to store page image: %w", err)}
	}
	return attemptResult{outcome: outcomeSuccess, artifact: artifact, image: img}
}

func (g *Generator) requestPayload(req imagegen.Request) map[string]any {
	payload := map[string]any{
		"prompt":   req.Prompt,
		"provider": g.client.Name(),
	}
	if req.NegativePrompt != "" {
		payload["negative_prompt"] = req.NegativePrompt
	}
	if req.Seed != 0 {
		payload["seed"] = req.Seed
	}
	if g.tokens != nil {
		payload["prompt_tokens"] = g.tokens.Count(req.Prompt)
	}
	return payload
}

func errorPayload(err error, maxLen int) map[string]any {
	payload := map[string]any{"error": imagegen.Truncate(err.Error(), maxLen)}
	var provErr *imagegen.ProviderError
	if errors.As(err, &provErr) {
		payload["status"] = provErr.Status
		payload["detail"] = provErr.Detail
	}
	var netErr *imagegen.NetworkError
	if errors.As(err, &netErr) {
		payload["timeout"] = netErr.Timeout
	}
	return payload
}

func (g *Generator) updateJob(ctx context.Context, job *domain.ImageJob) {
	if err := g.store.UpdateImageJob(ctx, job); err != nil {
		g.logger.Warn("Failed to update image job",
			zap.String("job_id", job.ID.String()),
			zap.String("status", string(job.Status)),
			zap.Error(err),
		)
	}
}
