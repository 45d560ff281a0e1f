package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mmrag/internal/domain"
)

var deleteID string

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a record from the caller's namespace",
	Long: `Delete a record by id from the private namespace of --identity, or from
the shared namespace when no identity is given. Unknown ids are not an error.
Stored content is left in place.`,
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().StringVar(&deleteID, "id", "", "record id (required)")
	deleteCmd.MarkFlagRequired("id")
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.ingest.Delete(cmd.Context(), identity, deleteID); err != nil {
		return err
	}
	fmt.Printf("Deleted %s from %s\n", deleteID, domain.NamespaceFor(identity))
	return nil
}
