package vectorindex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"mmrag/internal/domain"
)

// CurrentSchemaVersion is the current on-disk schema version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

var (
	bucketNamespaces = []byte("namespaces")
	bucketMeta       = []byte("meta")

	keySchemaVersion = []byte("schema_version")
	keyConfigHash    = []byte("config_hash")
)

// storedRecord is the on-disk form of a record.
type storedRecord struct {
	Vector     []float32       `json:"v"`
	Modality   domain.Modality `json:"mod"`
	Model      string          `json:"model,omitempty"`
	ContentRef string          `json:"ref"`
	Metadata   domain.Metadata `json:"m,omitempty"`
}

// SchemaInfo stores schema version and configuration hash.
type SchemaInfo struct {
	Version    int    `json:"version"`
	ConfigHash string `json:"config_hash"`
}

// BoltOptions configures a BoltIndex.
type BoltOptions struct {
	// ConfigHash identifies the embedding configuration the index was built
	// with. Empty skips the check.
	ConfigHash string
	// RebuildOnChange clears the index instead of failing when ConfigHash
	// differs from the stored one.
	RebuildOnChange bool
	Logger          *zap.Logger
}

// BoltIndex is a MemoryIndex persisted to bbolt, one nested bucket per
// namespace. Queries are served from memory; writes go to disk first.
type BoltIndex struct {
	db     *bbolt.DB
	mem    *MemoryIndex
	logger *zap.Logger
}

// ComputeConfigHash computes a hash of index-relevant embedding configuration.
// A change means stored vectors are no longer comparable with new queries.
func ComputeConfigHash(provider, model string, dimension int) string {
	relevant := struct {
		Provider  string `json:"provider"`
		Model     string `json:"model"`
		Dimension int    `json:"dimension"`
	}{provider, model, dimension}

	data, _ := json.Marshal(relevant)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}

// OpenBoltIndex opens or creates the index file at path and loads every
// namespace into memory.
func OpenBoltIndex(path string, opts BoltOptions) (*BoltIndex, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open index %s: %w", path, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	idx := &BoltIndex{db: db, mem: NewMemoryIndex(), logger: logger}
	if err := idx.init(opts); err != nil {
		db.Close()
		return nil, err
	}
	if err := idx.loadRecords(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	return idx, nil
}

func (b *BoltIndex) init(opts BoltOptions) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketNamespaces); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create buckets: %w", err)
	}

	info, err := b.SchemaInfo()
	if err != nil {
		return fmt.Errorf("failed to get schema info: %w", err)
	}
	if info.Version > CurrentSchemaVersion {
		return fmt.Errorf("index created by newer version (v%d > v%d)", info.Version, CurrentSchemaVersion)
	}

	if opts.ConfigHash != "" && info.ConfigHash != "" && info.ConfigHash != opts.ConfigHash {
		if !opts.RebuildOnChange {
			return domain.NewError(domain.KindDimensionMismatch,
				fmt.Sprintf("index built with embedding config %s, current config is %s", info.ConfigHash, opts.ConfigHash), nil)
		}
		b.logger.Warn("embedding configuration changed, clearing index",
			zap.String("old_hash", info.ConfigHash),
			zap.String("new_hash", opts.ConfigHash))
		if err := b.Clear(); err != nil {
			return fmt.Errorf("failed to clear index: %w", err)
		}
	}

	hash := opts.ConfigHash
	if hash == "" {
		hash = info.ConfigHash
	}
	return b.setSchemaInfo(&SchemaInfo{Version: CurrentSchemaVersion, ConfigHash: hash})
}

// SchemaInfo retrieves the stored schema info.
func (b *BoltIndex) SchemaInfo() (*SchemaInfo, error) {
	var info SchemaInfo
	err := b.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return nil
		}
		if data := meta.Get(keySchemaVersion); data != nil {
			if err := json.Unmarshal(data, &info.Version); err != nil {
				return fmt.Errorf("corrupt schema version: %w", err)
			}
		}
		if data := meta.Get(keyConfigHash); data != nil {
			info.ConfigHash = string(data)
		}
		return nil
	})
	return &info, err
}

func (b *BoltIndex) setSchemaInfo(info *SchemaInfo) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		versionData, err := json.Marshal(info.Version)
		if err != nil {
			return err
		}
		if err := meta.Put(keySchemaVersion, versionData); err != nil {
			return err
		}
		return meta.Put(keyConfigHash, []byte(info.ConfigHash))
	})
}

// loadRecords loads all namespaces from bbolt into memory.
func (b *BoltIndex) loadRecords() error {
	return b.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketNamespaces)
		return root.ForEachBucket(func(name []byte) error {
			var records []domain.Record
			err := root.Bucket(name).ForEach(func(k, v []byte) error {
				var stored storedRecord
				if err := json.Unmarshal(v, &stored); err != nil {
					b.logger.Warn("skipping corrupt record",
						zap.String("namespace", string(name)),
						zap.String("id", string(k)),
						zap.Error(err))
					return nil
				}
				records = append(records, domain.Record{
					ID: string(k),
					Embedding: domain.Embedding{
						Vector:   stored.Vector,
						Modality: stored.Modality,
						Model:    stored.Model,
					},
					ContentRef: stored.ContentRef,
					Metadata:   stored.Metadata,
				})
				return nil
			})
			if err != nil {
				return err
			}
			b.mem.load(string(name), records)
			return nil
		})
	})
}

// Upsert writes rec to disk and then publishes it in memory.
func (b *BoltIndex) Upsert(ctx context.Context, ns domain.Namespace, rec domain.Record) error {
	return b.mem.upsert(ctx, ns, rec, func(rec domain.Record) error {
		data, err := json.Marshal(storedRecord{
			Vector:     rec.Embedding.Vector,
			Modality:   rec.Embedding.Modality,
			Model:      rec.Embedding.Model,
			ContentRef: rec.ContentRef,
			Metadata:   rec.Metadata,
		})
		if err != nil {
			return err
		}
		return b.db.Update(func(tx *bbolt.Tx) error {
			bucket, err := tx.Bucket(bucketNamespaces).CreateBucketIfNotExists([]byte(ns.Key()))
			if err != nil {
				return err
			}
			return bucket.Put([]byte(rec.ID), data)
		})
	})
}

// Query is served from memory.
func (b *BoltIndex) Query(ctx context.Context, ns domain.Namespace, query domain.Embedding, topK int, filter *domain.Modality) ([]domain.SearchHit, error) {
	return b.mem.Query(ctx, ns, query, topK, filter)
}

// Delete removes id from disk and memory. Missing ids are not an error.
func (b *BoltIndex) Delete(ctx context.Context, ns domain.Namespace, id string) error {
	return b.mem.delete(ctx, ns, id, func() error {
		return b.db.Update(func(tx *bbolt.Tx) error {
			bucket := tx.Bucket(bucketNamespaces).Bucket([]byte(ns.Key()))
			if bucket == nil {
				return nil
			}
			return bucket.Delete([]byte(id))
		})
	})
}

// Count returns the number of records in a namespace.
func (b *BoltIndex) Count(ns domain.Namespace) int {
	return b.mem.Count(ns)
}

// Namespaces returns the keys of all non-empty namespaces.
func (b *BoltIndex) Namespaces() []string {
	return b.mem.Namespaces()
}

// Clear removes every namespace from disk and memory (for rebuild).
func (b *BoltIndex) Clear() error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketNamespaces); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(bucketNamespaces)
		return err
	})
	if err != nil {
		return err
	}
	b.mem.reset()
	return nil
}

// Close closes the underlying database.
func (b *BoltIndex) Close() error {
	return b.db.Close()
}
