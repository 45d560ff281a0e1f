package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mmrag/internal/domain"
	"mmrag/internal/port"
)

// AnswerUseCase retrieves context for a query and hands it to a generator.
type AnswerUseCase struct {
	retrieve  *RetrieveUseCase
	generator port.Generator
	fallback  port.Generator // optional
	timeout   time.Duration
	logger    *zap.Logger
}

// NewAnswerUseCase creates a new answer use case. fallback may be nil.
func NewAnswerUseCase(retrieve *RetrieveUseCase, generator, fallback port.Generator, timeout time.Duration, logger *zap.Logger) *AnswerUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &AnswerUseCase{
		retrieve:  retrieve,
		generator: generator,
		fallback:  fallback,
		timeout:   timeout,
		logger:    logger,
	}
}

// Answer runs retrieval and generation. Generation failures are fatal
// unless a fallback generator is configured.
func (u *AnswerUseCase) Answer(ctx context.Context, req QueryRequest) (*domain.Answer, error) {
	rc, err := u.retrieve.Retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	text, used, err := u.generate(ctx, rc)
	if err != nil {
		return nil, err
	}

	return &domain.Answer{
		Answer:    text,
		Citations: rc.Entries,
		Generator: used,
		Degraded:  rc.Degraded,
	}, nil
}

func (u *AnswerUseCase) generate(ctx context.Context, rc *domain.RetrievalContext) (string, string, error) {
	text, err := u.callGenerator(ctx, u.generator, rc)
	if err == nil {
		return text, u.generator.ModelName(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", "", ctxErr
	}
	if u.fallback == nil {
		return "", "", domain.NewError(domain.KindGenerationFailed, "generator "+u.generator.ModelName()+" failed", err)
	}

	u.logger.Warn("generator failed, using fallback",
		zap.String("request_id", RequestID(ctx)),
		zap.String("generator", u.generator.ModelName()),
		zap.String("fallback", u.fallback.ModelName()),
		zap.Error(err))

	text, ferr := u.callGenerator(ctx, u.fallback, rc)
	if ferr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", "", ctxErr
		}
		return "", "", domain.NewError(domain.KindGenerationFailed, "fallback generator failed", ferr)
	}
	return text, u.fallback.ModelName(), nil
}

func (u *AnswerUseCase) callGenerator(ctx context.Context, g port.Generator, rc *domain.RetrievalContext) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()
	return withDeadline(gctx, func(ctx context.Context) (string, error) {
		return g.Generate(ctx, rc.Query, *rc)
	})
}
