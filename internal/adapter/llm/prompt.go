// Package llm holds answer generators.
package llm

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"mmrag/internal/domain"
)

//go:embed templates/*.txt
var promptTemplates embed.FS

// PromptData is the input of every template.
type PromptData struct {
	Query   string
	Entries []domain.ContextEntry
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"inc":      func(i int) int { return i + 1 },
		"excerpt":  excerpt,
		"shortRef": shortRef,
		"formatEntries": func(entries []domain.ContextEntry) string {
			var sb strings.Builder
			for i, e := range entries {
				sb.WriteString(fmt.Sprintf("### [%d] %s source, score %.2f\n", i+1, e.NamespaceKind, e.Score))
				if e.Modality == domain.ModalityImage {
					sb.WriteString(fmt.Sprintf("(image %s, %d bytes)\n\n", shortRef(e.ContentRef), e.Size()))
					continue
				}
				sb.WriteString(e.Text)
				sb.WriteString("\n\n")
			}
			return sb.String()
		},
	}
}

func loadTemplate(name string) (*template.Template, error) {
	content, err := promptTemplates.ReadFile("templates/" + name)
	if err != nil {
		return nil, fmt.Errorf("template not found: %w", err)
	}
	tmpl, err := template.New(name).Funcs(templateFuncs()).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return tmpl, nil
}

// AnswerPrompt renders the user message LLM generators send for query.
func AnswerPrompt(query string, rc domain.RetrievalContext) (string, error) {
	tmpl, err := loadTemplate("answer_prompt.txt")
	if err != nil {
		return "", err
	}
	return render(tmpl, query, rc)
}

func render(tmpl *template.Template, query string, rc domain.RetrievalContext) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, PromptData{Query: query, Entries: rc.Entries}); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return buf.String(), nil
}

// excerpt collapses whitespace and cuts s to at most n runes.
func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

func shortRef(ref string) string {
	if len(ref) > 12 {
		return ref[:12]
	}
	return ref
}
