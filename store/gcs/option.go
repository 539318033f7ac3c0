package gcs

import (
	"log/slog"

	"github.com/skedia/credvault/seal"
)

// DefaultKey is the object key holding the record document.
const DefaultKey = "mailboxes.json"

type options struct {
	bucket string
	prefix string
	key    string

	credentialsJSON []byte
	credentialsFile string
	endpoint        string

	codec  *seal.Codec
	logger *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		key:    DefaultKey,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures the GCS store.
type Option func(*options)

// WithBucket sets the bucket name (required).
func WithBucket(bucket string) Option {
	return func(o *options) {
		o.bucket = bucket
	}
}

// WithPrefix sets a key prefix for the record document.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithKey overrides the object key of the record document.
func WithKey(key string) Option {
	return func(o *options) {
		if key != "" {
			o.key = key
		}
	}
}

// WithCredentialsJSON sets service account key JSON.
func WithCredentialsJSON(data []byte) Option {
	return func(o *options) {
		o.credentialsJSON = data
	}
}

// WithCredentialsFile sets a path to a service account key file.
func WithCredentialsFile(path string) Option {
	return func(o *options) {
		o.credentialsFile = path
	}
}

// WithEndpoint sets a custom endpoint (for the GCS emulator).
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.endpoint = endpoint
	}
}

// WithCodec sets the seal codec used to encrypt the record document.
// A nil (disabled) codec stores the document in plaintext.
func WithCodec(c *seal.Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
