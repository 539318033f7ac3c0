// Package s3 provides an S3-backed Backend storing the record set as a
// single JSON document under a fixed key, optionally sealed with
// authenticated encryption.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/transfermanager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/skedia/credvault/seal"
	"github.com/skedia/credvault/store"
)

// Compile-time check
var _ store.Backend = (*Store)(nil)

// Store implements store.Backend over an S3 object addressed by a fixed key.
//
// The unit of read/write is the entire record set. When a seal codec is
// configured, the document is sealed before upload and opened after
// download; an object that fails to open (wrong key after rotation, or
// plaintext where a sealed envelope was expected) degrades to an empty set
// with OriginUnreadable rather than failing, so a key rotation can never
// hard-lock the service.
type Store struct {
	client    *awss3.Client
	tm        *transfermanager.Client
	bucket    string
	key       string
	codec     *seal.Codec
	logger    *slog.Logger
	timeout   timeoutConfig
	connected int32
}

// New creates a new S3 store.
// The context is used for AWS credential loading and configuration.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	o := newOptions(opts...)

	if o.bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}

	awsCfg, err := buildAWSConfig(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("s3: build aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(opts *awss3.Options) {
		if o.endpoint != "" {
			opts.BaseEndpoint = aws.String(o.endpoint)
			opts.UsePathStyle = o.usePathStyle
		}
	})

	s := &Store{
		client:  client,
		tm:      transfermanager.New(client),
		bucket:  o.bucket,
		key:     path.Join(o.prefix, o.key),
		codec:   o.codec,
		logger:  o.logger,
		timeout: o.timeout,
	}
	if s.codec.Disabled() {
		s.logger.Info("s3 store running in plaintext mode, no encryption secret configured",
			"bucket", s.bucket, "key", s.key)
	}
	return s, nil
}

// buildAWSConfig builds AWS config based on authentication options.
func buildAWSConfig(ctx context.Context, o *options) (aws.Config, error) {
	var optFns []func(*config.LoadOptions) error

	optFns = append(optFns, config.WithRegion(o.region))

	switch {
	case o.accessKey != "" && o.secretKey != "":
		// Static credentials (Access Key + Secret Key)
		creds := credentials.NewStaticCredentialsProvider(o.accessKey, o.secretKey, o.sessionToken)
		optFns = append(optFns, config.WithCredentialsProvider(creds))

	case o.roleARN != "":
		// IAM Role - use STS AssumeRole
		baseCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(o.region))
		if err != nil {
			return aws.Config{}, fmt.Errorf("load base config for role: %w", err)
		}
		stsCreds := newAssumeRoleProvider(baseCfg, o.roleARN, o.roleSessionName, o.externalID)
		optFns = append(optFns, config.WithCredentialsProvider(stsCreds))

	default:
		// Default credential chain (env vars, shared config, IAM roles on
		// EC2/ECS/EKS). No explicit credentials needed.
	}

	return config.LoadDefaultConfig(ctx, optFns...)
}

// Connect verifies the object store is reachable.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout.connect)
	defer cancel()

	// HeadObject on the fixed key: missing is fine (first run), any other
	// failure means the bucket or credentials are broken.
	_, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil && !isNotFound(err) {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("%w: head s3://%s/%s: %v", store.ErrUnavailable, s.bucket, s.key, err)
	}

	s.logger.Info("connected to S3", "bucket", s.bucket, "key", s.key,
		"encrypted", !s.codec.Disabled())
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// LoadAll downloads and decodes the record document.
func (s *Store) LoadAll(ctx context.Context) (*store.LoadResult, error) {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil, store.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout.request)
	defer cancel()

	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if isNotFound(err) {
			return &store.LoadResult{Origin: store.OriginAbsent}, nil
		}
		return nil, fmt.Errorf("%w: get s3://%s/%s: %v", store.ErrUnavailable, s.bucket, s.key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read s3 object body: %v", store.ErrUnavailable, err)
	}

	return decodeDocument(data, s.codec, s.logger, "s3://"+s.bucket+"/"+s.key)
}

// SaveAll encodes and uploads the record document.
func (s *Store) SaveAll(ctx context.Context, records []store.Record) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}

	data, err := encodeDocument(records, s.codec)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout.request)
	defer cancel()

	_, err = s.tm.UploadObject(ctx, &transfermanager.UploadObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("%w: upload s3://%s/%s: %v", store.ErrUnavailable, s.bucket, s.key, err)
	}

	s.logger.Debug("uploaded credential document", "bucket", s.bucket, "key", s.key,
		"records", len(records))
	return nil
}

// encodeDocument serializes the record set, sealing it when a codec is set.
func encodeDocument(records []store.Record, codec *seal.Codec) ([]byte, error) {
	if records == nil {
		records = []store.Record{}
	}
	plain, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshal records: %w", err)
	}
	if codec.Disabled() {
		return plain, nil
	}
	sealed, err := codec.SealJSON(plain)
	if err != nil {
		return nil, fmt.Errorf("seal records: %w", err)
	}
	return sealed, nil
}

// decodeDocument parses a downloaded record document, opening the seal when
// a codec is set. Undecodable payloads degrade to empty with
// OriginUnreadable.
func decodeDocument(data []byte, codec *seal.Codec, logger *slog.Logger, loc string) (*store.LoadResult, error) {
	if len(data) == 0 {
		return &store.LoadResult{Origin: store.OriginAbsent}, nil
	}

	if !codec.Disabled() {
		plain, err := codec.OpenJSON(data)
		if err != nil {
			logger.Warn("credential document failed to decrypt, treating as empty",
				"location", loc, "error", err)
			return &store.LoadResult{Origin: store.OriginUnreadable}, nil
		}
		data = plain
	}

	var records []store.Record
	if err := json.Unmarshal(data, &records); err != nil {
		logger.Warn("credential document is corrupt, treating as empty",
			"location", loc, "error", err)
		return &store.LoadResult{Origin: store.OriginUnreadable}, nil
	}
	return &store.LoadResult{Records: records, Origin: store.OriginData}, nil
}

// isNotFound reports whether an S3 error means the object does not exist.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || code == "404"
	}
	return false
}
