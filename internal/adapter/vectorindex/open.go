package vectorindex

import (
	"time"

	"go.uber.org/zap"

	"mmrag/internal/port"
)

// Options selects and configures a backend.
type Options struct {
	RemoteURL       string
	Path            string
	Timeout         time.Duration
	ConfigHash      string
	RebuildOnChange bool
	Logger          *zap.Logger
}

// Open picks the backend from configuration presence: a remote URL selects
// RemoteIndex, a path selects BoltIndex, otherwise a plain MemoryIndex.
func Open(opts Options) (port.VectorIndex, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch {
	case opts.RemoteURL != "":
		logger.Info("using remote vector index", zap.String("url", opts.RemoteURL))
		return NewRemoteIndex(opts.RemoteURL, opts.Timeout), nil
	case opts.Path != "":
		logger.Info("using persisted in-process vector index", zap.String("path", opts.Path))
		idx, err := OpenBoltIndex(opts.Path, BoltOptions{
			ConfigHash:      opts.ConfigHash,
			RebuildOnChange: opts.RebuildOnChange,
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		logger.Info("using in-memory vector index")
		return NewMemoryIndex(), nil
	}
}
