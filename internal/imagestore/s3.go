// internal/imagestore/s3.go
//
// S3 backend for dish photos. Objects live at <prefix><basename> in a single
// bucket; credentials and region come from the default AWS config chain.

package imagestore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// objectGetter is the slice of the S3 client this backend needs.
type objectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 is a Store over one bucket.
type S3 struct {
	client objectGetter
	bucket string
	prefix string
}

// NewS3 loads the default AWS config for region and returns a bucket store.
func NewS3(ctx context.Context, bucket, prefix, region string) (*S3, error) {
	if bucket == "" {
		return nil, errors.New("imagestore: empty bucket")
	}
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("imagestore: load aws config: %w", err)
	}
	log.Info().Str("bucket", bucket).Str("prefix", prefix).Str("region", cfg.Region).Msg("s3 image store")
	return newS3(s3.NewFromConfig(cfg), bucket, prefix), nil
}

func newS3(client objectGetter, bucket, prefix string) *S3 {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

// Get implements Store.
func (s *S3) Get(ctx context.Context, ref string) ([]byte, error) {
	key := Key(ref)
	if key == "" {
		return nil, ErrNotFound
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("imagestore: get s3://%s/%s%s: %w", s.bucket, s.prefix, key, err)
	}
	defer out.Body.Close()
	return readAllCapped(out.Body)
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
