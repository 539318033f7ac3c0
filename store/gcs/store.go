// Package gcs provides a Google Cloud Storage-backed Backend storing the
// record set as a single JSON document under a fixed key, optionally sealed
// with authenticated encryption.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync/atomic"

	"cloud.google.com/go/auth/credentials"
	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/skedia/credvault/seal"
	"github.com/skedia/credvault/store"
)

// Compile-time check
var _ store.Backend = (*Store)(nil)

// Store implements store.Backend over a GCS object addressed by a fixed key.
// Semantics mirror the S3 store: whole-set reads and writes, sealed payloads
// when a codec is configured, and unreadable documents degrading to an empty
// set instead of failing.
type Store struct {
	client    *storage.Client
	bucket    string
	key       string
	codec     *seal.Codec
	logger    *slog.Logger
	connected int32
}

// New creates a new GCS store.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	o := newOptions(opts...)

	if o.bucket == "" {
		return nil, fmt.Errorf("gcs: bucket is required")
	}

	clientOpts, err := buildClientOptions(o)
	if err != nil {
		return nil, fmt.Errorf("gcs: build client options: %w", err)
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}

	s := &Store{
		client: client,
		bucket: o.bucket,
		key:    path.Join(o.prefix, o.key),
		codec:  o.codec,
		logger: o.logger,
	}
	if s.codec.Disabled() {
		s.logger.Info("gcs store running in plaintext mode, no encryption secret configured",
			"bucket", s.bucket, "key", s.key)
	}
	return s, nil
}

// buildClientOptions builds GCS client options based on authentication settings.
func buildClientOptions(o *options) ([]option.ClientOption, error) {
	var opts []option.ClientOption

	switch {
	case o.credentialsJSON != nil:
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
			CredentialsJSON: o.credentialsJSON,
		})
		if err != nil {
			return nil, fmt.Errorf("detect credentials from json: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))

	case o.credentialsFile != "":
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
			CredentialsFile: o.credentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("detect credentials from file: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))

	default:
		// Application Default Credentials: GOOGLE_APPLICATION_CREDENTIALS,
		// gcloud login, Workload Identity, or the instance service account.
	}

	// Custom endpoint for emulators.
	if o.endpoint != "" {
		opts = append(opts, option.WithEndpoint(o.endpoint))
	}

	return opts, nil
}

// Connect verifies the object store is reachable.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	_, err := s.client.Bucket(s.bucket).Object(s.key).Attrs(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("%w: stat gs://%s/%s: %v", store.ErrUnavailable, s.bucket, s.key, err)
	}

	s.logger.Info("connected to GCS", "bucket", s.bucket, "key", s.key,
		"encrypted", !s.codec.Disabled())
	return nil
}

// Close closes the GCS client.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return s.client.Close()
}

// LoadAll downloads and decodes the record document.
func (s *Store) LoadAll(ctx context.Context) (*store.LoadResult, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, store.ErrNotConnected
	}

	r, err := s.client.Bucket(s.bucket).Object(s.key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return &store.LoadResult{Origin: store.OriginAbsent}, nil
		}
		return nil, fmt.Errorf("%w: read gs://%s/%s: %v", store.ErrUnavailable, s.bucket, s.key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read gcs object body: %v", store.ErrUnavailable, err)
	}

	return s.decode(data)
}

// SaveAll encodes and uploads the record document.
func (s *Store) SaveAll(ctx context.Context, records []store.Record) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}

	data, err := s.encode(records)
	if err != nil {
		return err
	}

	w := s.client.Bucket(s.bucket).Object(s.key).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("%w: write gs://%s/%s: %v", store.ErrUnavailable, s.bucket, s.key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: close gcs writer: %v", store.ErrUnavailable, err)
	}

	s.logger.Debug("uploaded credential document", "bucket", s.bucket, "key", s.key,
		"records", len(records))
	return nil
}

func (s *Store) encode(records []store.Record) ([]byte, error) {
	if records == nil {
		records = []store.Record{}
	}
	plain, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshal records: %w", err)
	}
	if s.codec.Disabled() {
		return plain, nil
	}
	sealed, err := s.codec.SealJSON(plain)
	if err != nil {
		return nil, fmt.Errorf("seal records: %w", err)
	}
	return sealed, nil
}

func (s *Store) decode(data []byte) (*store.LoadResult, error) {
	if len(data) == 0 {
		return &store.LoadResult{Origin: store.OriginAbsent}, nil
	}

	if !s.codec.Disabled() {
		plain, err := s.codec.OpenJSON(data)
		if err != nil {
			s.logger.Warn("credential document failed to decrypt, treating as empty",
				"bucket", s.bucket, "key", s.key, "error", err)
			return &store.LoadResult{Origin: store.OriginUnreadable}, nil
		}
		data = plain
	}

	var records []store.Record
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.Warn("credential document is corrupt, treating as empty",
			"bucket", s.bucket, "key", s.key, "error", err)
		return &store.LoadResult{Origin: store.OriginUnreadable}, nil
	}
	return &store.LoadResult{Records: records, Origin: store.OriginData}, nil
}
