package s3

import (
	"log/slog"
	"time"

	"github.com/skedia/credvault/seal"
)

// DefaultKey is the object key holding the record document.
const DefaultKey = "mailboxes.json"

type timeoutConfig struct {
	connect time.Duration
	request time.Duration
}

type options struct {
	bucket       string
	prefix       string
	key          string
	region       string
	endpoint     string
	usePathStyle bool

	// Static credentials
	accessKey    string
	secretKey    string
	sessionToken string

	// AssumeRole
	roleARN         string
	roleSessionName string
	externalID      string

	codec   *seal.Codec
	logger  *slog.Logger
	timeout timeoutConfig
}

func newOptions(opts ...Option) *options {
	o := &options{
		key:    DefaultKey,
		region: "us-east-1",
		logger: slog.Default(),
		timeout: timeoutConfig{
			connect: 10 * time.Second,
			request: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures the S3 store.
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

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(o *options) {
		if region != "" {
			o.region = region
		}
	}
}

// WithEndpoint sets a custom endpoint (for MinIO, LocalStack, or
// S3-compatible storage). Path-style addressing is usually required
// for these.
func WithEndpoint(endpoint string, usePathStyle bool) Option {
	return func(o *options) {
		o.endpoint = endpoint
		o.usePathStyle = usePathStyle
	}
}

// WithStaticCredentials sets static AWS credentials.
// sessionToken may be empty for long-lived credentials.
func WithStaticCredentials(accessKey, secretKey, sessionToken string) Option {
	return func(o *options) {
		o.accessKey = accessKey
		o.secretKey = secretKey
		o.sessionToken = sessionToken
	}
}

// WithAssumeRole configures STS AssumeRole authentication.
// externalID may be empty unless the role trust policy requires one.
func WithAssumeRole(roleARN, sessionName, externalID string) Option {
	return func(o *options) {
		o.roleARN = roleARN
		o.roleSessionName = sessionName
		o.externalID = externalID
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

// WithTimeouts overrides the connect and per-request timeouts.
func WithTimeouts(connect, request time.Duration) Option {
	return func(o *options) {
		if connect > 0 {
			o.timeout.connect = connect
		}
		if request > 0 {
			o.timeout.request = request
		}
	}
}
