// Package credvault persists and reconciles mailbox credentials.
//
// It keeps a set of credential records (email, password, OAuth client and
// refresh token) behind interchangeable storage backends, serializes all
// writes so concurrent callers never lose updates against whole-set storage,
// merges credential batches idempotently keyed by email, and retires records
// whose credentials an external liveness probe authoritatively rejects.
//
// # Basic Usage
//
//	// In-memory backend for tests; see store/ for the real ones.
//	backend := memory.New()
//
//	vault, err := credvault.New(
//	    credvault.WithBackend(backend),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := vault.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer vault.Close(ctx)
//
//	rec, err := vault.Add(ctx, credvault.Credential{
//	    Email:        "user@example.com",
//	    Password:     "secret",
//	    ClientID:     "client-1",
//	    RefreshToken: "tok",
//	})
//
// Or let Open pick the backend from configuration, falling back from
// database to blob to local file:
//
//	vault, err := credvault.Open(ctx, credvault.Config{
//	    DatabaseDSN: os.Getenv("DATABASE_URL"),
//	    BlobBucket:  os.Getenv("VAULT_BUCKET"),
//	})
//
// # Storage Backends
//
// The store package provides implementations for:
//   - Local JSON file (store/file)
//   - S3 objects, optionally AES-256-GCM sealed (store/s3)
//   - GCS objects, optionally sealed (store/gcs)
//   - PostgreSQL (store/postgres) - accepts *sqlx.DB
//   - MongoDB (store/mongo) - accepts *mongo.Client
//   - In-memory (store/memory) - for testing
//
// File and blob backends are whole-set: every write rewrites the full record
// document. The vault serializes writes through a FIFO lock so two concurrent
// read-modify-write cycles can never interleave and drop one another's
// records. Database backends additionally support row-level operations and
// skip the whole-set rewrite.
//
// # Batch Reconciliation
//
// AddBatch merges a batch of candidate credentials against the existing set
// in one write: unknown emails are added, soft-deleted ones reactivated in
// place, already-active ones skipped. Running the same batch twice is a
// no-op.
//
// # Liveness Sweep
//
// Sweep probes every active record through a caller-supplied ProbeFunc with
// bounded concurrency and retires exactly those records whose probe returns
// ErrCredentialDead. Transient probe failures leave records untouched.
//
// # Events
//
// The vault publishes typed events for record lifecycle notifications using
// the github.com/rbaliyan/event/v3 library. To enable them, pass
// WithRedisClient or WithEventTransport when creating the vault:
//
//	vault, err := credvault.New(
//	    credvault.WithBackend(backend),
//	    credvault.WithRedisClient(redisClient),
//	)
//
//	events := vault.Events()
//	events.RecordAdded.Subscribe(ctx, handler)
//	events.RecordRetired.Subscribe(ctx, handler)
//
// Available events: RecordAdded, RecordUpdated, RecordReactivated,
// RecordRetired, RecordDeleted.
package credvault
