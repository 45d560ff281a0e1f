package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mmrag/internal/domain"
	"mmrag/internal/usecase"
)

var (
	queryText         string
	queryImage        string
	queryTopK         int
	queryModality     string
	queryJSON         bool
	queryRetrieveOnly bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Retrieve context and answer a query",
	Long: `Search the shared namespace and, with --identity, the caller's private
namespace for content relevant to a text or image query, then answer it from
the assembled context.

Examples:
  mmrag query -q "sky color"
  mmrag query -q "my notes" --identity alice --retrieve-only --json
  mmrag query --image cat.png --modality image`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "text query")
	queryCmd.Flags().StringVar(&queryImage, "image", "", "image file to query with")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "hits per namespace (default from config)")
	queryCmd.Flags().StringVar(&queryModality, "modality", "", "only return hits of this modality (text or image)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.Flags().BoolVar(&queryRetrieveOnly, "retrieve-only", false, "print the retrieval context without generating an answer")
	queryCmd.MarkFlagsMutuallyExclusive("query", "image")
	queryCmd.MarkFlagsOneRequired("query", "image")
}

// buildQuery turns the query flags into a request.
func buildQuery() (usecase.QueryRequest, error) {
	req := usecase.QueryRequest{
		Identity: identity,
		TopK:     queryTopK,
	}
	if queryImage != "" {
		data, err := os.ReadFile(queryImage)
		if err != nil {
			return req, fmt.Errorf("failed to read image: %w", err)
		}
		req.Modality = domain.ModalityImage
		req.Content = data
	} else {
		req.Modality = domain.ModalityText
		req.Content = []byte(queryText)
	}
	if queryModality != "" {
		m, err := domain.ParseModality(queryModality)
		if err != nil {
			return req, err
		}
		req.Filter = &m
	}
	return req, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	req, err := buildQuery()
	if err != nil {
		return err
	}

	a, err := buildApp(cmd.Context(), !queryRetrieveOnly)
	if err != nil {
		return err
	}
	defer a.Close()

	if queryRetrieveOnly {
		rc, err := a.retrieve.Retrieve(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("retrieval failed: %w", err)
		}
		if queryJSON {
			return printJSON(rc)
		}
		printEntries(rc.Entries, rc.Degraded)
		return nil
	}

	ans, err := a.answer.Answer(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	if queryJSON {
		return printJSON(ans)
	}

	fmt.Println(ans.Answer)
	fmt.Printf("\n(generated by %s)\n\n", ans.Generator)
	printEntries(ans.Citations, ans.Degraded)
	return nil
}

func printEntries(entries []domain.ContextEntry, degraded []string) {
	if len(degraded) > 0 {
		fmt.Printf("Warning: no answer from namespaces %v, results may be incomplete\n\n", degraded)
	}
	fmt.Printf("Found %d sources:\n\n", len(entries))
	for i, e := range entries {
		fmt.Printf("--- [%d] %s (%s, %s, score: %.2f) ---\n", i+1, e.RecordID, e.NamespaceKind, e.Modality, e.Score)
		if e.Modality == domain.ModalityImage {
			fmt.Printf("<image, %d bytes>\n\n", len(e.Content))
			continue
		}
		// Truncate long text for display
		text := e.Text
		if len(text) > 500 {
			text = text[:500] + "..."
		}
		fmt.Println(text)
		fmt.Println()
	}
}

func printJSON(v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(output))
	return nil
}
