// Package storage stages remote datasets into the local input directory.
// Jobs whose training path is an s3:// URL download every partition under
// the prefix before data resolution runs.
package storage

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cloudtree-ml/cloudtree/pkg/errors"
	"github.com/cloudtree-ml/cloudtree/pkg/log"
)

// ObjectClient is the S3 surface the stager needs; *s3.Client satisfies it.
type ObjectClient interface {
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Stager downloads dataset partitions from an S3 prefix.
type Stager struct {
	client ObjectClient
}

// NewStager creates a stager from the default AWS config chain.
func NewStager(ctx context.Context) (*Stager, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "loading AWS SDK config")
	}
	return &Stager{client: s3.NewFromConfig(cfg)}, nil
}

// NewStagerWithClient creates a stager around an existing client.
func NewStagerWithClient(client ObjectClient) *Stager {
	return &Stager{client: client}
}

// IsS3Path reports whether p names an S3 location.
func IsS3Path(p string) bool {
	return strings.HasPrefix(p, "s3://")
}

// ParseS3Path splits an s3://bucket/prefix URL.
func ParseS3Path(p string) (bucket, prefix string, err error) {
	trimmed := strings.TrimPrefix(p, "s3://")
	if trimmed == p || trimmed == "" {
		return "", "", errors.NewValidationError("path", "not an s3:// URL", p)
	}
	bucket, prefix, _ = strings.Cut(trimmed, "/")
	if bucket == "" {
		return "", "", errors.NewValidationError("path", "missing bucket", p)
	}
	return bucket, prefix, nil
}

// Stage downloads every object under s3Path into destDir, flattening keys to
// their base names, and returns the file count. Zero objects under the
// prefix is an error for the same reason an empty input directory is.
func (s *Stager) Stage(ctx context.Context, s3Path, destDir string) (int, error) {
	logger := log.GetLoggerWithName("storage")

	bucket, prefix, err := ParseS3Path(s3Path)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return 0, errors.Wrapf(err, "creating staging directory %s", destDir)
	}

	keys, err := s.listKeys(ctx, bucket, prefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, errors.Wrapf(errors.ErrNoDataFiles, "no objects under %s", s3Path)
	}

	for _, key := range keys {
		if err := s.download(ctx, bucket, key, filepath.Join(destDir, path.Base(key))); err != nil {
			return 0, err
		}
	}

	logger.Info("dataset staged from S3",
		"bucket", bucket,
		"prefix", prefix,
		log.DataFilesKey, len(keys),
		"dest", destDir)
	return len(keys), nil
}

// listKeys pages through ListObjectsV2 until the listing is exhausted,
// skipping directory placeholder keys.
func (s *Stager) listKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	var continuationToken *string
	for {
		output, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "listing s3://%s/%s", bucket, prefix)
		}

		for _, obj := range output.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			keys = append(keys, key)
		}

		if output.IsTruncated == nil || !*output.IsTruncated {
			break
		}
		continuationToken = output.NextContinuationToken
	}
	return keys, nil
}

func (s *Stager) download(ctx context.Context, bucket, key, dest string) error {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Wrapf(err, "getting s3://%s/%s", bucket, key)
	}
	defer func() { _ = result.Body.Close() }()

	f, err := os.Create(dest)
	if err != nil {
		return errors.Wrapf(err, "creating %s", dest)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(f, result.Body); err != nil {
		return errors.Wrapf(err, "writing %s", dest)
	}
	return nil
}
