package cli

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mmrag/internal/adapter/extractor"
	"mmrag/internal/domain"
	"mmrag/internal/usecase"
)

var (
	ingestText  string
	ingestImage string
	ingestID    string
	ingestMeta  map[string]string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Ingest files or a single item for retrieval",
	Long: `Ingest text and image files under a path, or a single item given with
--text or --image. Content goes to the caller's private namespace when
--identity is set, otherwise to the shared namespace.

Re-ingesting a directory replaces the records of files that were ingested
before, since record ids are derived from identity and source path.

Examples:
  mmrag ingest .                              # Ingest current directory
  mmrag ingest ./photos --identity alice      # Ingest into a private namespace
  mmrag ingest --text "The sky is blue" --id u1
  mmrag ingest --image cat.png --meta label=cat`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestText, "text", "", "ingest this text as one record")
	ingestCmd.Flags().StringVar(&ingestImage, "image", "", "ingest this image file as one record")
	ingestCmd.Flags().StringVar(&ingestID, "id", "", "record id for --text or --image (generated when empty)")
	ingestCmd.Flags().StringToStringVar(&ingestMeta, "meta", nil, "metadata for --text or --image, key=value")
	ingestCmd.MarkFlagsMutuallyExclusive("text", "image")
}

func runIngest(cmd *cobra.Command, args []string) error {
	single := ingestText != "" || ingestImage != ""
	if single && len(args) > 0 {
		return fmt.Errorf("a path cannot be combined with --text or --image")
	}

	a, err := buildApp(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	if single {
		return ingestOne(cmd, a)
	}

	path := GetRootDir()
	if len(args) > 0 {
		path, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}

	ext := extractor.NewFSExtractor(extractor.Options{
		Includes:     cfg.Ingest.Includes,
		Excludes:     cfg.Ingest.Excludes,
		MaxUnitChars: cfg.Ingest.MaxUnitChars,
		Logger:       logger,
	})

	fmt.Printf("Scanning %s...\n", path)
	units, err := ext.Extract(cmd.Context(), path)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	if len(units) == 0 {
		fmt.Println("Nothing to ingest.")
		return nil
	}

	bar := newIngestBar(len(units))
	result, err := a.ingest.IngestUnits(cmd.Context(), identity, units, bar.tick)
	if err != nil {
		return fmt.Errorf("ingestion interrupted after %d units: %w", result.Ingested+result.Failed, err)
	}

	fmt.Printf("\nIngestion complete:\n")
	fmt.Printf("  Namespace:      %s\n", domain.NamespaceFor(identity))
	fmt.Printf("  Units ingested: %d\n", result.Ingested)
	fmt.Printf("  Units failed:   %d\n", result.Failed)

	if len(result.Errors) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	return nil
}

func ingestOne(cmd *cobra.Command, a *app) error {
	req := usecase.IngestRequest{
		Identity: identity,
		ID:       ingestID,
	}
	for _, k := range slices.Sorted(maps.Keys(ingestMeta)) {
		req.Metadata = req.Metadata.Set(k, ingestMeta[k])
	}

	if ingestImage != "" {
		data, err := os.ReadFile(ingestImage)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		req.Modality = domain.ModalityImage
		req.Content = data
		req.Metadata = req.Metadata.
			Set("path", filepath.Base(ingestImage)).
			Set("mime", mimetype.Detect(data).String())
	} else {
		req.Modality = domain.ModalityText
		req.Content = []byte(ingestText)
	}

	id, err := a.ingest.Ingest(cmd.Context(), req)
	if err != nil {
		return err
	}
	logger.Info("record ingested", zap.String("id", id), zap.String("modality", string(req.Modality)))
	fmt.Println(id)
	return nil
}

// ingestBar wraps a progress bar that shows an ETA once units complete.
type ingestBar struct {
	mu    sync.Mutex
	bar   *progressbar.ProgressBar
	start time.Time
	total int
	done  int
}

func newIngestBar(total int) *ingestBar {
	return &ingestBar{
		total: total,
		start: time.Now(),
		bar: progressbar.NewOptions(total,
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowBytes(false),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription("[cyan]Ingesting[reset]"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionOnCompletion(func() {
				fmt.Println()
			}),
		),
	}
}

func (b *ingestBar) tick() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.done++
	_ = b.bar.Set(b.done)

	elapsed := time.Since(b.start)
	rate := float64(b.done) / elapsed.Seconds()
	if rate > 0 {
		eta := time.Duration(float64(b.total-b.done)/rate) * time.Second
		b.bar.Describe(fmt.Sprintf("[cyan]Ingesting[reset] ETA: %s", formatDuration(eta)))
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
