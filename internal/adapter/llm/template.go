package llm

import (
	"context"
	"strings"
	"text/template"

	"mmrag/internal/domain"
)

// TemplateGenerator answers without a model by listing the retrieved
// sources. It never fails on valid context and serves as the fallback.
type TemplateGenerator struct {
	tmpl *template.Template
}

func NewTemplateGenerator() (*TemplateGenerator, error) {
	tmpl, err := loadTemplate("extractive.txt")
	if err != nil {
		return nil, err
	}
	return &TemplateGenerator{tmpl: tmpl}, nil
}

func (g *TemplateGenerator) Generate(ctx context.Context, query string, rc domain.RetrievalContext) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	out, err := render(g.tmpl, query, rc)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (g *TemplateGenerator) ModelName() string {
	return "template"
}
