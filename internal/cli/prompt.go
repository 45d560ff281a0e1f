package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mmrag/internal/adapter/llm"
)

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Print the generation prompt for a query",
	Long: `Retrieve context for a query and print the prompt an LLM generator would
receive, for manual orchestration or for feeding to another model.

Examples:
  mmrag prompt -q "How does the sky get its color?"
  mmrag prompt -q "my notes" --identity alice | pbcopy`,
	RunE: runPrompt,
}

func init() {
	rootCmd.AddCommand(promptCmd)
	promptCmd.Flags().StringVarP(&queryText, "query", "q", "", "text query")
	promptCmd.Flags().StringVar(&queryImage, "image", "", "image file to query with")
	promptCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "hits per namespace (default from config)")
	promptCmd.Flags().StringVar(&queryModality, "modality", "", "only return hits of this modality (text or image)")
	promptCmd.MarkFlagsMutuallyExclusive("query", "image")
	promptCmd.MarkFlagsOneRequired("query", "image")
}

func runPrompt(cmd *cobra.Command, args []string) error {
	req, err := buildQuery()
	if err != nil {
		return err
	}

	a, err := buildApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	rc, err := a.retrieve.Retrieve(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	prompt, err := llm.AnswerPrompt(rc.Query, *rc)
	if err != nil {
		return err
	}
	fmt.Println(prompt)
	return nil
}
