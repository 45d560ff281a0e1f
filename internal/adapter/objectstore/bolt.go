package objectstore

import (
	"context"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.etcd.io/bbolt"
)

var bucketObjects = []byte("objects")

// BoltStore keeps zstd-compressed content in a single bbolt bucket.
type BoltStore struct {
	db  *bbolt.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// OpenBoltStore opens or creates the object database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open object store %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketObjects)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create objects bucket: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db, enc: enc, dec: dec}, nil
}

func (s *BoltStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := checkPut(data); err != nil {
		return "", err
	}
	ref := Ref(data)
	compressed := s.enc.EncodeAll(data, nil)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		if b.Get([]byte(ref)) != nil {
			return nil
		}
		return b.Put([]byte(ref), compressed)
	})
	if err != nil {
		return "", unavailable("failed to write object", err)
	}
	return ref, nil
}

func (s *BoltStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkRef(ref); err != nil {
		return nil, err
	}

	var compressed []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketObjects).Get([]byte(ref)); v != nil {
			compressed = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("failed to read object", err)
	}
	if compressed == nil {
		return nil, notFound(ref)
	}

	data, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("corrupt object %s: %w", ref, err)
	}
	return data, nil
}

func (s *BoltStore) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}
