package embedding

import (
	"context"
	"fmt"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"mmrag/internal/domain"
	"mmrag/internal/port"
)

// Limits bounds what a Guard lets through to the wrapped embedder.
type Limits struct {
	MaxTextLength     int     // runes
	MaxImageBytes     int     // bytes
	RequestsPerSecond float64 // 0 = unlimited
	Burst             int
}

// Guard enforces input limits and a request rate in front of an embedder,
// and checks that returned vectors have the advertised dimension.
// Oversized input is rejected, never truncated.
type Guard struct {
	next    port.Embedder
	limits  Limits
	limiter *rate.Limiter
}

// NewGuard wraps next.
func NewGuard(next port.Embedder, limits Limits) *Guard {
	g := &Guard{next: next, limits: limits}
	if limits.RequestsPerSecond > 0 {
		burst := limits.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(limits.RequestsPerSecond), burst)
	}
	return g
}

// Validate checks input against the modality rule and size limits.
func (g *Guard) Validate(input domain.EmbedInput) error {
	modality, err := input.Modality()
	if err != nil {
		return err
	}
	switch modality {
	case domain.ModalityText:
		if g.limits.MaxTextLength > 0 {
			if n := utf8.RuneCountInString(input.Text); n > g.limits.MaxTextLength {
				return domain.NewError(domain.KindInputTooLarge,
					fmt.Sprintf("text has %d characters, limit is %d", n, g.limits.MaxTextLength), nil)
			}
		}
	case domain.ModalityImage:
		if g.limits.MaxImageBytes > 0 && len(input.Image) > g.limits.MaxImageBytes {
			return domain.NewError(domain.KindInputTooLarge,
				fmt.Sprintf("image has %d bytes, limit is %d", len(input.Image), g.limits.MaxImageBytes), nil)
		}
	}
	return nil
}

func (g *Guard) Embed(ctx context.Context, input domain.EmbedInput) (domain.Embedding, error) {
	if err := g.Validate(input); err != nil {
		return domain.Embedding{}, err
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return domain.Embedding{}, ctxErr
			}
			return domain.Embedding{}, domain.NewError(domain.KindModelUnavailable, "rate limit wait exceeds deadline", err)
		}
	}

	emb, err := g.next.Embed(ctx, input)
	if err != nil {
		return domain.Embedding{}, err
	}
	if emb.Dimension() != g.next.Dimension() {
		return domain.Embedding{}, domain.DimensionMismatch(g.next.Dimension(), emb.Dimension())
	}
	return emb, nil
}

func (g *Guard) Dimension() int {
	return g.next.Dimension()
}

func (g *Guard) ModelName() string {
	return g.next.ModelName()
}
