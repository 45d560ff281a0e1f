package objectstore

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"mmrag/config"
)

// Open creates the store selected by cfg.Backend. Local backends default
// their file under the data directory of dir.
func Open(ctx context.Context, cfg config.StoreConfig, dir string, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Backend {
	case "memory":
		logger.Info("using in-memory object store")
		return NewMemoryStore(), nil
	case "bolt", "":
		path := cfg.Path
		if path == "" {
			path = config.ObjectDBPath(dir)
		}
		logger.Info("using bolt object store", zap.String("path", path))
		return OpenBoltStore(path)
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = filepath.Join(config.DataDir(dir), "objects.sqlite")
		}
		logger.Info("using sqlite object store", zap.String("path", path))
		return OpenSQLiteStore(path)
	case "minio":
		logger.Info("using minio object store",
			zap.String("endpoint", cfg.Endpoint),
			zap.String("bucket", cfg.Bucket))
		return NewMinioStore(MinioOptions{
			Endpoint:  cfg.Endpoint,
			AccessKey: config.Secret(cfg.AccessKeyEnv),
			SecretKey: config.Secret(cfg.SecretKeyEnv),
			Region:    cfg.Region,
			UseSSL:    cfg.UseSSL,
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
		})
	case "s3":
		logger.Info("using s3 object store", zap.String("bucket", cfg.Bucket), zap.String("region", cfg.Region))
		return NewS3Store(ctx, S3Options{
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			AccessKey: config.Secret(cfg.AccessKeyEnv),
			SecretKey: config.Secret(cfg.SecretKeyEnv),
		})
	case "redis":
		logger.Info("using redis object store", zap.String("addr", cfg.RedisAddr))
		return NewRedisStore(RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: config.Secret(cfg.RedisPasswordEnv),
			DB:       cfg.RedisDB,
			Prefix:   cfg.Prefix,
		}), nil
	}
	return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
}
