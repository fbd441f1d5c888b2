// Package blob stores inbound media in an S3-compatible object store and
// issues presigned retrieval URLs for the conversation agent. Keys are
// deterministic per platform/sender/media id so re-delivered media overwrites
// itself instead of accumulating.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// ErrMissingSubtype is returned when a declared MIME type carries no subtype
// to derive a file extension from (e.g. "image" or ""). This is a fatal
// precondition failure for the turn being processed.
var ErrMissingSubtype = errors.New("mime type has no subtype")

// DefaultPresignTTL bounds how long a presigned media URL stays valid.
const DefaultPresignTTL = 10 * time.Minute

// Store is the object-store surface the conversation handlers depend on.
type Store interface {
	// Save writes data under key with the given content type.
	Save(ctx context.Context, key string, data []byte, mimeType string) error
	// Presigned returns a time-limited GET URL for key.
	Presigned(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// MediaKey builds the deterministic object key for one media object:
// whatsapp/user/{sender}/media/{mediaID}.{mimeSubtype}. The extension is the
// declared MIME subtype (the part after the final "/"); a missing subtype is
// rejected with ErrMissingSubtype.
func MediaKey(sender, mediaID, mimeType string) (string, error) {
	idx := strings.LastIndex(mimeType, "/")
	if idx < 0 || idx == len(mimeType)-1 {
		return "", fmt.Errorf("%w: %q", ErrMissingSubtype, mimeType)
	}
	suffix := mimeType[idx+1:]
	// strip codec parameters such as "ogg; codecs=opus"
	if i := strings.IndexByte(suffix, ';'); i >= 0 {
		suffix = strings.TrimSpace(suffix[:i])
	}
	if suffix == "" {
		return "", fmt.Errorf("%w: %q", ErrMissingSubtype, mimeType)
	}
	key := strings.Join([]string{"whatsapp", "user", sender, "media", mediaID}, "/")
	return key + "." + suffix, nil
}

// MinioStore implements Store on top of a MinIO / S3-compatible endpoint.
type MinioStore struct {
	client *minio.Client
	bucket string

	// publicHost, when set, replaces the endpoint host in presigned URLs so
	// that an external model provider can reach media stored on a private
	// endpoint (e.g. a tunnel in front of a local MinIO).
	publicHost string
}

// NewMinio connects a MinioStore to the given endpoint and bucket.
func NewMinio(endpoint, accessKey, secretKey, bucket string, useSSL bool, publicHost string) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("blob: connect %s: %w", endpoint, err)
	}
	return &MinioStore{client: client, bucket: bucket, publicHost: publicHost}, nil
}

// EnsureBucket creates the bucket when it does not exist yet. Called once at
// startup; concurrent creation races are tolerated.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("blob: stat bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, errExists := s.client.BucketExists(ctx, s.bucket)
		if errExists == nil && exists {
			return nil
		}
		return fmt.Errorf("blob: create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Save writes data under key with the given content type.
func (s *MinioStore) Save(ctx context.Context, key string, data []byte, mimeType string) error {
	log.Debug().Str("key", key).Str("mime", mimeType).Int("bytes", len(data)).Msg("blob save")
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: mimeType})
	if err != nil {
		return fmt.Errorf("blob: put %s: %w", key, err)
	}
	return nil
}

// Presigned returns a time-limited GET URL for key, with the public-host
// rewrite applied when configured. A non-positive ttl uses DefaultPresignTTL.
func (s *MinioStore) Presigned(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("blob: presign %s: %w", key, err)
	}
	if s.publicHost != "" {
		u.Host = s.publicHost
	}
	return u.String(), nil
}
