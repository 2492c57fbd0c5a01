package silo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/silofs/silofs/internal/log"
	"github.com/silofs/silofs/internal/metrics"
)

// S3Config configures an S3-backed silo.
type S3Config struct {
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	MaxRetries     int    `yaml:"max_retries"`
}

// S3Silo is a Silo backed by an S3-compatible bucket. Unlike the teacher's
// object backend it has no optimized-upload path — silofs blocks are small
// and independently encrypted, so part of the point of the object store is
// defeated by assuming large sequential archives.
type S3Silo struct {
	client  *s3.Client
	bucket  string
	metrics *metrics.Collector
}

// NewS3Silo opens a silo backed by bucket, using the process's default AWS
// credential chain plus cfg's overrides.
func NewS3Silo(ctx context.Context, bucket string, cfg S3Config, collector *metrics.Collector) (*S3Silo, error) {
	if bucket == "" {
		return nil, errors.New("silo: bucket name cannot be empty")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(cfg.MaxRetries),
	)
	if err != nil {
		return nil, fmt.Errorf("silo: failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return &S3Silo{client: client, bucket: bucket, metrics: collector}, nil
}

func (s *S3Silo) record(op string, start time.Time, size int64, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordOperation(op, time.Since(start), size, err == nil)
	if err != nil {
		s.metrics.RecordError(op, err)
	}
}

func (s *S3Silo) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			s.record("get", start, 0, nil)
			return nil, ErrMissingKey
		}
		s.record("get", start, 0, err)
		return nil, fmt.Errorf("silo: get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		s.record("get", start, 0, err)
		return nil, err
	}
	s.record("get", start, int64(len(data)), nil)
	return data, nil
}

func (s *S3Silo) Set(ctx context.Context, key string, data []byte, insert, update bool) (int64, error) {
	if !insert && !update {
		return 0, errInvalidSetFlags()
	}
	start := time.Now()

	prevSize, existed, err := s.headSize(ctx, key)
	if err != nil {
		s.record("set", start, 0, err)
		return 0, err
	}
	if existed && insert && !update {
		s.record("set", start, 0, nil)
		return 0, ErrCollision
	}
	if !existed && update && !insert {
		s.record("set", start, 0, nil)
		return 0, ErrMissingKey
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		s.record("set", start, 0, err)
		return 0, fmt.Errorf("silo: put %s: %w", key, err)
	}

	s.record("set", start, int64(len(data)), nil)
	return int64(len(data)) - prevSize, nil
}

func (s *S3Silo) Erase(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	size, existed, err := s.headSize(ctx, key)
	if err != nil {
		s.record("erase", start, 0, err)
		return 0, err
	}
	if !existed {
		s.record("erase", start, 0, nil)
		return 0, ErrMissingKey
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		s.record("erase", start, 0, err)
		return 0, fmt.Errorf("silo: delete %s: %w", key, err)
	}
	s.record("erase", start, 0, nil)
	return -size, nil
}

func (s *S3Silo) List(ctx context.Context) ([]string, error) {
	start := time.Now()
	var out []string
	var token *string
	for {
		resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			ContinuationToken: token,
		})
		if err != nil {
			s.record("list", start, 0, err)
			return nil, fmt.Errorf("silo: list: %w", err)
		}
		for _, obj := range resp.Contents {
			out = append(out, aws.ToString(obj.Key))
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		token = resp.NextContinuationToken
	}
	s.record("list", start, 0, nil)
	return out, nil
}

func (s *S3Silo) Status(ctx context.Context, key string) Status {
	_, existed, err := s.headSize(ctx, key)
	if err != nil {
		log.WithComponent("silo.s3").Warn().Err(err).Str("key", key).Msg("status check failed")
		return StatusUnknown
	}
	if existed {
		return StatusExists
	}
	return StatusMissing
}

func (s *S3Silo) Capacity(ctx context.Context) (int64, int64, bool) {
	return 0, 0, false
}

func (s *S3Silo) headSize(ctx context.Context, key string) (int64, bool, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) || isNotFound(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("silo: head %s: %w", key, err)
	}
	return aws.ToInt64(out.ContentLength), true, nil
}

func isNoSuchKey(err error) bool {
	var target *s3types.NoSuchKey
	return errors.As(err, &target)
}

func isNotFound(err error) bool {
	var target *s3types.NotFound
	return errors.As(err, &target)
}
