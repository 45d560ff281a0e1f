package extractor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mmrag/internal/domain"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestSplitText(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{"single paragraph", "The sky is blue.", 100, []string{"The sky is blue."}},
		{"paragraphs packed", "one\n\ntwo\n\nthree", 100, []string{"one\n\ntwo\n\nthree"}},
		{"paragraphs split", "aaaa\n\nbbbb\n\ncccc", 10, []string{"aaaa\n\nbbbb", "cccc"}},
		{"long paragraph cut", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"blank input", "\n\n  \n\n", 10, nil},
		{"crlf", "one\r\n\r\ntwo", 3, []string{"one", "two"}},
		{"multibyte", "ééééé", 2, []string{"éé", "éé", "é"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitText(tt.text, tt.max))
		})
	}
}

func TestWalker(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), []byte("a"))
	writeFile(t, filepath.Join(root, "docs", "b.txt"), []byte("b"))
	writeFile(t, filepath.Join(root, "docs", "c.go"), []byte("c"))
	writeFile(t, filepath.Join(root, "node_modules", "d.md"), []byte("d"))

	w := NewWalker([]string{"**/*.md", "**/*.txt"}, []string{"**/node_modules/**"})
	files, err := w.Walk(context.Background(), root)
	require.NoError(t, err)

	var rel []string
	for _, f := range files {
		rel = append(rel, f.RelPath)
	}
	assert.Equal(t, []string{"a.md", "docs/b.txt"}, rel)
}

func TestFSExtractor(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "notes.md"), []byte("The sky is blue.\n\nGrass is green."))
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01")
	writeFile(t, filepath.Join(root, "img", "dot.png"), png)
	writeFile(t, filepath.Join(root, "empty.txt"), nil)

	e := NewFSExtractor(Options{
		Includes:     []string{"**/*.md", "**/*.txt", "**/*.png"},
		MaxUnitChars: 20,
	})
	units, err := e.Extract(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, units, 3)

	assert.Equal(t, "img/dot.png", units[0].Source)
	assert.Equal(t, domain.ModalityImage, units[0].Modality)
	assert.Equal(t, png, units[0].Content)
	mime, _ := units[0].Metadata.Get("mime")
	assert.Equal(t, "image/png", mime)

	assert.Equal(t, "notes.md#0", units[1].Source)
	assert.Equal(t, "The sky is blue.", string(units[1].Content))
	assert.Equal(t, "notes.md#1", units[2].Source)
	assert.Equal(t, domain.ModalityText, units[2].Modality)
	path, _ := units[2].Metadata.Get("path")
	assert.Equal(t, "notes.md", path)
}

func TestFSExtractor_SingleFileAndBinary(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "readme.txt")
	writeFile(t, file, []byte(strings.Repeat("word ", 3)))
	writeFile(t, filepath.Join(root, "blob.txt"), []byte{0xff, 0xfe, 0x00, 0x80})

	e := NewFSExtractor(Options{})
	units, err := e.Extract(context.Background(), file)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "readme.txt#0", units[0].Source)

	units, err = e.Extract(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, units, 1, "invalid UTF-8 file is skipped")
}

func TestFSExtractor_Cancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), []byte("a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFSExtractor(Options{}).Extract(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}
