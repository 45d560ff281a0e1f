// Package extractor turns files on disk into ingestible units.
package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"mmrag/internal/domain"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// Options configures an FSExtractor.
type Options struct {
	Includes     []string
	Excludes     []string
	MaxUnitChars int // runes per text unit
	MaxFileBytes int64
	Logger       *zap.Logger
}

// FSExtractor walks a directory. Text files become one unit per group of
// paragraphs that fits MaxUnitChars; image files become a single unit.
// Files that are neither valid UTF-8 text nor images are skipped.
type FSExtractor struct {
	walker       *Walker
	maxUnitChars int
	maxFileBytes int64
	logger       *zap.Logger
}

func NewFSExtractor(opts Options) *FSExtractor {
	if opts.MaxUnitChars <= 0 {
		opts.MaxUnitChars = 2000
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = 16 << 20
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &FSExtractor{
		walker:       NewWalker(opts.Includes, opts.Excludes),
		maxUnitChars: opts.MaxUnitChars,
		maxFileBytes: opts.MaxFileBytes,
		logger:       opts.Logger,
	}
}

// Extract returns the units of every matching file under root. root may
// also name a single file.
func (e *FSExtractor) Extract(ctx context.Context, root string) ([]domain.Unit, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}

	var files []FileInfo
	if info.IsDir() {
		files, err = e.walker.Walk(ctx, root)
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	} else {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		files = []FileInfo{{Path: abs, RelPath: filepath.Base(root), ModTime: info.ModTime().Unix(), Size: info.Size()}}
	}

	var units []domain.Unit
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.Size == 0 {
			continue
		}
		if f.Size > e.maxFileBytes {
			e.logger.Warn("skipping oversized file", zap.String("path", f.RelPath), zap.Int64("size", f.Size))
			continue
		}
		fileUnits, err := e.extractFile(f)
		if err != nil {
			e.logger.Warn("skipping unreadable file", zap.String("path", f.RelPath), zap.Error(err))
			continue
		}
		units = append(units, fileUnits...)
	}

	e.logger.Debug("extraction finished", zap.Int("files", len(files)), zap.Int("units", len(units)))
	return units, nil
}

func (e *FSExtractor) extractFile(f FileInfo) ([]domain.Unit, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}

	if isImage(f.RelPath, data) {
		return []domain.Unit{{
			Source:   f.RelPath,
			Modality: domain.ModalityImage,
			Content:  data,
			Metadata: domain.Metadata{
				{Key: "path", Value: f.RelPath},
				{Key: "mime", Value: mimetype.Detect(data).String()},
			},
		}}, nil
	}

	if !utf8.Valid(data) {
		return nil, fmt.Errorf("not UTF-8 text")
	}

	parts := SplitText(string(data), e.maxUnitChars)
	units := make([]domain.Unit, 0, len(parts))
	for i, part := range parts {
		units = append(units, domain.Unit{
			Source:   fmt.Sprintf("%s#%d", f.RelPath, i),
			Modality: domain.ModalityText,
			Content:  []byte(part),
			Metadata: domain.Metadata{
				{Key: "path", Value: f.RelPath},
				{Key: "part", Value: i},
			},
		})
	}
	return units, nil
}

func isImage(path string, data []byte) bool {
	if imageExtensions[strings.ToLower(filepath.Ext(path))] {
		return true
	}
	return strings.HasPrefix(mimetype.Detect(data).String(), "image/")
}

// SplitText groups blank-line separated paragraphs into chunks of at most
// maxChars runes. A paragraph longer than maxChars is cut at rune
// boundaries.
func SplitText(text string, maxChars int) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := utf8.RuneCountInString(para)

		if n > maxChars {
			flush()
			runes := []rune(para)
			for start := 0; start < len(runes); start += maxChars {
				end := min(start+maxChars, len(runes))
				chunks = append(chunks, string(runes[start:end]))
			}
			continue
		}

		sep := 0
		if currentLen > 0 {
			sep = 2
		}
		if currentLen+sep+n > maxChars {
			flush()
			sep = 0
		}
		if sep > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentLen += sep + n
	}
	flush()
	return chunks
}
