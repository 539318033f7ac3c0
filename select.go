package credvault

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	mongodrv "go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/skedia/credvault/retry"
	"github.com/skedia/credvault/seal"
	"github.com/skedia/credvault/store"
	"github.com/skedia/credvault/store/file"
	"github.com/skedia/credvault/store/gcs"
	"github.com/skedia/credvault/store/mongo"
	"github.com/skedia/credvault/store/postgres"
	"github.com/skedia/credvault/store/s3"
)

// Kind identifies a storage backend implementation.
type Kind int

const (
	// KindFile stores records in a local JSON file.
	KindFile Kind = iota
	// KindS3 stores records in an S3 object, optionally sealed.
	KindS3
	// KindGCS stores records in a GCS object, optionally sealed.
	KindGCS
	// KindPostgres stores records as rows in PostgreSQL.
	KindPostgres
	// KindMongo stores records as documents in MongoDB.
	KindMongo
)

// String returns a short label for logging.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindS3:
		return "s3"
	case KindGCS:
		return "gcs"
	case KindPostgres:
		return "postgres"
	case KindMongo:
		return "mongo"
	default:
		return "unknown"
	}
}

// DefaultFilePath is the local store path used when Config.FilePath is empty.
const DefaultFilePath = "mailboxes.json"

// Config describes every storage target the process may use. Choose and Open
// pick one of them; unset targets are simply skipped in the selection chain.
type Config struct {
	// ForceLegacy skips the database even when DatabaseDSN is set.
	ForceLegacy bool

	// DatabaseDSN selects a database backend when non-empty. A mongodb://
	// or mongodb+srv:// scheme selects MongoDB, anything else PostgreSQL.
	DatabaseDSN string

	// DatabaseTable overrides the PostgreSQL table or MongoDB collection name.
	DatabaseTable string

	// BlobProvider is "s3" (default) or "gcs".
	BlobProvider string

	// BlobBucket selects a blob backend when non-empty.
	BlobBucket string

	// BlobPrefix and BlobKey locate the record document inside the bucket.
	BlobPrefix string
	BlobKey    string

	// BlobRegion and BlobEndpoint configure the S3 client. A non-empty
	// endpoint switches to path-style addressing for S3-compatible stores.
	BlobRegion   string
	BlobEndpoint string

	// BlobAccessKey and BlobSecretKey are static S3 credentials. When empty
	// the default AWS credential chain is used.
	BlobAccessKey string
	BlobSecretKey string

	// GCSCredentialsFile points at a service account key file. When empty
	// application default credentials are used.
	GCSCredentialsFile string

	// EncryptionSecret seals blob payloads with AES-256-GCM when non-empty.
	// Local files and databases are never sealed.
	EncryptionSecret string

	// FilePath is the local JSON store path (default "mailboxes.json").
	FilePath string
}

// blobConfigured reports whether a blob target is usable at all.
func (c Config) blobConfigured() bool {
	return c.BlobBucket != ""
}

// blobKind picks between the two blob providers.
func (c Config) blobKind() Kind {
	if strings.EqualFold(c.BlobProvider, "gcs") {
		return KindGCS
	}
	return KindS3
}

// isMongoDSN reports whether dsn targets MongoDB.
func isMongoDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "mongodb://") || strings.HasPrefix(dsn, "mongodb+srv://")
}

// Choose decides which backend a Config selects. It is deterministic and
// performs no I/O: the database is chosen purely on configuration, and Open
// later demotes it to the blob or file fallback if it cannot be reached.
//
// The chain: forced-legacy picks blob if configured, else file; otherwise a
// DSN picks the database; otherwise blob if configured; otherwise file.
func Choose(cfg Config) Kind {
	if cfg.ForceLegacy {
		if cfg.blobConfigured() {
			return cfg.blobKind()
		}
		return KindFile
	}
	if cfg.DatabaseDSN != "" {
		if isMongoDSN(cfg.DatabaseDSN) {
			return KindMongo
		}
		return KindPostgres
	}
	if cfg.blobConfigured() {
		return cfg.blobKind()
	}
	return KindFile
}

// Open builds the backend Choose selects, connects a Vault to it, and returns
// the connected Vault. Database backends are pinged first with bounded retry;
// if the database never answers, Open logs the demotion and falls back to the
// blob backend when one is configured, else to the local file. Blob and file
// backends do not fall back: their connection errors surface to the caller.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Vault, error) {
	// Peek at the options so demotion warnings land in the caller's log
	// sink rather than the default one.
	logger := newOptions(opts...).logger

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	v, err := New(append(opts, WithBackend(backend))...)
	if err != nil {
		return nil, err
	}
	if err := v.Connect(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

func openBackend(ctx context.Context, cfg Config, logger *slog.Logger) (store.Backend, error) {
	kind := Choose(cfg)

	switch kind {
	case KindPostgres, KindMongo:
		backend, err := openDatabase(ctx, cfg, kind, logger)
		if err == nil {
			return backend, nil
		}
		logger.Warn("database unreachable, falling back",
			"kind", kind.String(), "error", err)
		return openFallback(ctx, cfg, logger)
	case KindS3, KindGCS:
		return openBlob(ctx, cfg, kind, logger)
	default:
		return openFile(cfg, logger), nil
	}
}

// openFallback is the post-demotion tail of the chain: blob, then file.
func openFallback(ctx context.Context, cfg Config, logger *slog.Logger) (store.Backend, error) {
	if cfg.blobConfigured() {
		return openBlob(ctx, cfg, cfg.blobKind(), logger)
	}
	return openFile(cfg, logger), nil
}

func openDatabase(ctx context.Context, cfg Config, kind Kind, logger *slog.Logger) (store.Backend, error) {
	if kind == KindMongo {
		return openMongo(ctx, cfg, logger)
	}
	return openPostgres(ctx, cfg, logger)
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (store.Backend, error) {
	db, err := sqlx.Open("postgres", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("credvault: open postgres: %w", err)
	}

	err = retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		return db.PingContext(ctx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("credvault: ping postgres: %w", err)
	}

	pgOpts := []postgres.Option{postgres.WithLogger(logger)}
	if cfg.DatabaseTable != "" {
		pgOpts = append(pgOpts, postgres.WithTable(cfg.DatabaseTable))
	}
	return postgres.New(db, pgOpts...), nil
}

func openMongo(ctx context.Context, cfg Config, logger *slog.Logger) (store.Backend, error) {
	client, err := mongodrv.Connect(mongoopts.Client().ApplyURI(cfg.DatabaseDSN))
	if err != nil {
		return nil, fmt.Errorf("credvault: open mongo: %w", err)
	}

	err = retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	})
	if err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("credvault: ping mongo: %w", err)
	}

	mgOpts := []mongo.Option{mongo.WithLogger(logger)}
	if cfg.DatabaseTable != "" {
		mgOpts = append(mgOpts, mongo.WithCollection(cfg.DatabaseTable))
	}
	return mongo.New(client, mgOpts...), nil
}

func openBlob(ctx context.Context, cfg Config, kind Kind, logger *slog.Logger) (store.Backend, error) {
	var codec *seal.Codec
	if cfg.EncryptionSecret != "" {
		var err error
		codec, err = seal.NewFromSecret(cfg.EncryptionSecret)
		if err != nil {
			return nil, fmt.Errorf("credvault: encryption secret: %w", err)
		}
	}

	if kind == KindGCS {
		gcsOpts := []gcs.Option{
			gcs.WithBucket(cfg.BlobBucket),
			gcs.WithCodec(codec),
			gcs.WithLogger(logger),
		}
		if cfg.BlobPrefix != "" {
			gcsOpts = append(gcsOpts, gcs.WithPrefix(cfg.BlobPrefix))
		}
		if cfg.BlobKey != "" {
			gcsOpts = append(gcsOpts, gcs.WithKey(cfg.BlobKey))
		}
		if cfg.GCSCredentialsFile != "" {
			gcsOpts = append(gcsOpts, gcs.WithCredentialsFile(cfg.GCSCredentialsFile))
		}
		if cfg.BlobEndpoint != "" {
			gcsOpts = append(gcsOpts, gcs.WithEndpoint(cfg.BlobEndpoint))
		}
		return gcs.New(ctx, gcsOpts...)
	}

	s3Opts := []s3.Option{
		s3.WithBucket(cfg.BlobBucket),
		s3.WithCodec(codec),
		s3.WithLogger(logger),
	}
	if cfg.BlobPrefix != "" {
		s3Opts = append(s3Opts, s3.WithPrefix(cfg.BlobPrefix))
	}
	if cfg.BlobKey != "" {
		s3Opts = append(s3Opts, s3.WithKey(cfg.BlobKey))
	}
	if cfg.BlobRegion != "" {
		s3Opts = append(s3Opts, s3.WithRegion(cfg.BlobRegion))
	}
	if cfg.BlobEndpoint != "" {
		s3Opts = append(s3Opts, s3.WithEndpoint(cfg.BlobEndpoint, true))
	}
	if cfg.BlobAccessKey != "" {
		s3Opts = append(s3Opts, s3.WithStaticCredentials(cfg.BlobAccessKey, cfg.BlobSecretKey, ""))
	}
	return s3.New(ctx, s3Opts...)
}

func openFile(cfg Config, logger *slog.Logger) store.Backend {
	s := cfg.FilePath
	if s == "" {
		s = DefaultFilePath
	}
	return file.New(s, file.WithLogger(logger))
}
