package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Config addresses an S3-compatible bucket.
type S3Config struct {
	Bucket    string
	AccountID string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// R2Endpoint is the Cloudflare R2 API endpoint of an account.
func R2Endpoint(accountID string) string {
	return "https://" + accountID + ".r2.cloudflarestorage.com"
}

// S3 stores objects in an S3-compatible bucket such as Cloudflare R2.
type S3 struct {
	client *s3.S3
	bucket string
}

func NewS3(cfg S3Config) (*S3, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = R2Endpoint(cfg.AccountID)
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	sess, err := session.NewSession(&aws.Config{
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		Endpoint:         aws.String(endpoint),
		Region:           aws.String(region),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}
	return &S3{client: s3.New(sess), bucket: cfg.Bucket}, nil
}

func (s *S3) PresignPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	if err := checkPresign(key, contentType); err != nil {
		return "", err
	}
	req, _ := s.client.PutObjectRequest(&s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	req.SetContext(ctx)
	url, err := req.Presign(ttlOrDefault(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return url, nil
}

func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, s.bucket, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", s.bucket, key, err)
	}
	return out.Body, nil
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to head %s/%s: %w", s.bucket, key, err)
	}
	return true, nil
}

// Put checks for an existing object first; the check and the write are not
// atomic on S3.
func (s *S3) Put(ctx context.Context, key, contentType string, r io.Reader) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s/%s", ErrExists, s.bucket, key)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to buffer %s: %w", key, err)
	}
	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata:    map[string]*string{"uploadedAt": aws.String(time.Now().UTC().Format(time.RFC3339))},
	})
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *S3) Clear(ctx context.Context) (int, error) {
	var keys []*s3.ObjectIdentifier
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)},
		func(page *s3.ListObjectsV2Output, _ bool) bool {
			for _, obj := range page.Contents {
				keys = append(keys, &s3.ObjectIdentifier{Key: obj.Key})
			}
			return true
		})
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", s.bucket, err)
	}

	deleted := 0
	for start := 0; start < len(keys); start += 1000 {
		end := min(start+1000, len(keys))
		out, err := s.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3.Delete{Objects: keys[start:end], Quiet: aws.Bool(true)},
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete objects in %s: %w", s.bucket, err)
		}
		deleted += end - start - len(out.Errors)
	}
	return deleted, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var rf awserr.RequestFailure
	if errors.As(err, &rf) && rf.StatusCode() == http.StatusNotFound {
		return true
	}
	var ae awserr.Error
	return errors.As(err, &ae) && (ae.Code() == s3.ErrCodeNoSuchKey || ae.Code() == "NotFound")
}
