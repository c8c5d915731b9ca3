package filter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"xianyuwatch/internal/retry"
	"xianyuwatch/internal/types"

	"go.uber.org/zap"
)

// ImageSource fetches a listing's images to local paths.
type ImageSource interface {
	Fetch(ctx context.Context, listingID string, urls []string) ([]string, error)
}

// GateConfig tunes verdict retries.
type GateConfig struct {
	Attempts   int
	RetryDelay time.Duration
	// Debug logs the prompt head and the raw response.
	Debug bool
}

// DefaultGateConfig returns production settings.
func DefaultGateConfig() GateConfig {
	return GateConfig{Attempts: 5, RetryDelay: 10 * time.Second}
}

// Gate decides whether a record is worth an alert.
type Gate struct {
	reasoner Reasoner
	images   ImageSource
	cfg      GateConfig
	log      *zap.Logger
}

// NewGate creates a gate. images may be nil to send text only.
func NewGate(reasoner Reasoner, images ImageSource, cfg GateConfig, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{reasoner: reasoner, images: images, cfg: cfg, log: log}
}

// Evaluate asks the reasoner for a verdict on rec under rubric. Transport
// failures and unparsable responses are retried; the returned error is
// final.
func (g *Gate) Evaluate(ctx context.Context, rec types.Record, rubric string) (*types.Verdict, error) {
	log := g.log.With(zap.String("item_id", rec.Listing.ID))

	prompt, err := BuildPrompt(rubric, rec)
	if err != nil {
		return nil, err
	}
	var images []Image
	if g.images != nil {
		paths, err := g.images.Fetch(ctx, rec.Listing.ID, rec.Listing.ImageURLs())
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("image fetch failed, continuing without images", zap.Error(err))
		}
		images = LoadImages(paths, log)
	}
	if g.cfg.Debug {
		log.Info("ai prompt", zap.String("head", head(prompt, 500)), zap.Int("images", len(images)))
	}

	msgs := []Message{{Text: prompt, Images: images}}
	policy := retry.Policy{
		Attempts:  g.cfg.Attempts,
		Delay:     g.cfg.RetryDelay,
		Retryable: retryable,
		OnRetry: func(attempt int, err error) {
			log.Warn("verdict attempt failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		},
	}
	verdict, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) (*types.Verdict, error) {
		text, err := g.reasoner.Complete(ctx, msgs, true)
		if err != nil {
			return nil, err
		}
		if g.cfg.Debug {
			log.Info("ai response", zap.String("raw", text))
		}
		return ParseVerdict(text)
	})
	if err != nil {
		return nil, fmt.Errorf("verdict: %w", err)
	}
	log.Info("verdict",
		zap.Bool("recommended", verdict.IsRecommended),
		zap.String("reason", verdict.Reason))
	return verdict, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
