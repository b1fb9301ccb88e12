package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	apperrors "site-guardian/internal/errors"
)

// S3Backend stores objects in an Amazon S3 (or compatible) bucket
type S3Backend struct {
	client *s3.S3
	bucket string
	prefix string
}

// NewS3Backend creates a new S3Backend instance
func NewS3Backend(config *S3Config) (*S3Backend, error) {
	if config == nil || config.Bucket == "" {
		return nil, apperrors.NewValidationError("S3 bucket is required", nil)
	}

	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, apperrors.NewConfigurationError("failed to create AWS session", err)
	}

	return &S3Backend{
		client: s3.New(sess),
		bucket: config.Bucket,
		prefix: config.Prefix,
	}, nil
}

// Put uploads an object
func (b *S3Backend) Put(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(withPrefix(b.prefix, key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("failed to upload %s to S3", key))
	}
	return nil
}

// Get downloads an object
func (b *S3Backend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(withPrefix(b.prefix, key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
		}
		return nil, apperrors.WrapError(err, fmt.Sprintf("failed to download %s from S3", key))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, apperrors.WrapError(err, fmt.Sprintf("failed to read %s from S3", key))
	}
	return data, nil
}

// Exists checks for an object with HeadObject
func (b *S3Backend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}

	_, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(withPrefix(b.prefix, key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, apperrors.WrapError(err, fmt.Sprintf("failed to check %s in S3", key))
	}
	return true, nil
}

// Delete removes an object
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(withPrefix(b.prefix, key)),
	})
	if err != nil && !isS3NotFound(err) {
		return apperrors.WrapError(err, fmt.Sprintf("failed to delete %s from S3", key))
	}
	return nil
}

// List pages through ListObjectsV2 for the prefix
func (b *S3Backend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(withPrefix(b.prefix, prefix)),
	}

	err := b.client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				objects = append(objects, ObjectInfo{
					Key:     trimPrefix(b.prefix, aws.StringValue(obj.Key)),
					Size:    aws.Int64Value(obj.Size),
					ModTime: aws.TimeValue(obj.LastModified),
				})
			}
			return true
		})
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to list objects in S3")
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}
