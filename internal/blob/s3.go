package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config locates a bucket. Credentials come from the default AWS chain
// (environment, shared config, instance role).
type S3Config struct {
	Bucket    string
	Prefix    string // prepended to every key
	Region    string // default us-east-1
	Endpoint  string // set for MinIO and other compatible services
	PathStyle bool
}

// S3 stores objects in a single bucket.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 loads the default AWS configuration and returns a bucket store.
// Extra load options are applied after the region, which lets callers supply
// static credentials or a custom HTTP client.
func NewS3(ctx context.Context, cfg S3Config, opts ...func(*awsconfig.LoadOptions) error) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blob: s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := append([]func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}, opts...)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

func (s *S3) Driver() Driver { return DriverS3 }

func (s *S3) objectKey(key string) (string, error) {
	k, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return k, nil
	}
	return path.Join(s.prefix, k), nil
}

func (s *S3) trimPrefix(objectKey string) string {
	if s.prefix == "" {
		return objectKey
	}
	return strings.TrimPrefix(objectKey, s.prefix+"/")
}

func (s *S3) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	ok, err := s.objectKey(key)
	if err != nil {
		return Info{}, err
	}
	input := &s3.PutObjectInput{Bucket: &s.bucket, Key: &ok, Body: r}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = cloneMetadata(opts.Metadata)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return Info{}, fmt.Errorf("s3 put %s: %w", ok, err)
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &ok})
	if err != nil {
		return Info{}, fmt.Errorf("s3 head %s: %w", ok, err)
	}
	return s.info(key, out.ContentLength, out.ContentType, out.Metadata, out.LastModified), nil
}

func (s *S3) Get(ctx context.Context, key string) (Info, io.ReadCloser, error) {
	ok, err := s.objectKey(key)
	if err != nil {
		return Info{}, nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &ok})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return Info{}, nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return Info{}, nil, fmt.Errorf("s3 get %s: %w", ok, err)
	}
	return s.info(key, out.ContentLength, out.ContentType, out.Metadata, out.LastModified), out.Body, nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]Info, error) {
	full := prefix
	if s.prefix != "" {
		full = s.prefix + "/" + prefix
	}
	var infos []Info
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            &full,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 list %s: %w", full, err)
		}
		for _, obj := range out.Contents {
			infos = append(infos, Info{
				Key:          s.trimPrefix(aws.ToString(obj.Key)),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (s *S3) Delete(ctx context.Context, key string) (bool, error) {
	ok, err := s.objectKey(key)
	if err != nil {
		return false, err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &ok}); err != nil {
		return false, fmt.Errorf("s3 delete %s: %w", ok, err)
	}
	return true, nil
}

func (s *S3) info(key string, size *int64, contentType *string, md map[string]string, lastModified *time.Time) Info {
	lm := time.Now().UTC()
	if lastModified != nil {
		lm = *lastModified
	}
	return Info{
		Key:          key,
		Size:         aws.ToInt64(size),
		ContentType:  aws.ToString(contentType),
		Metadata:     md,
		LastModified: lm,
	}
}
