package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/dohr-michael/outpost/internal/task"
)

// S3Store implements Store over an S3-compatible bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3 creates a store client for the given bucket. A non-empty
// endpoint switches to path-style addressing for S3-compatible servers.
func NewS3(ctx context.Context, bucket, region, endpoint string) (*S3Store, error) {
	if bucket == "" {
		return nil, errors.New("store bucket is not configured")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: bucket}, nil
}

func (s *S3Store) PutMetadata(ctx context.Context, t *task.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return s.put(ctx, ObjectKey(t.ID, MetadataObject), data, "application/json")
}

func (s *S3Store) GetMetadata(ctx context.Context, taskID string) (*task.Task, error) {
	data, err := s.get(ctx, ObjectKey(taskID, MetadataObject))
	if err != nil || data == nil {
		return nil, err
	}

	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", task.ErrInvalidRecord, err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *S3Store) PutArtifact(ctx context.Context, taskID, name string, data []byte, contentType string) error {
	return s.put(ctx, ObjectKey(taskID, name), data, contentType)
}

func (s *S3Store) GetArtifact(ctx context.Context, taskID, name string) ([]byte, error) {
	return s.get(ctx, ObjectKey(taskID, name))
}

func (s *S3Store) DeleteArtifact(ctx context.Context, taskID, name string) error {
	key := ObjectKey(taskID, name)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// ListTaskIDs lists metadata objects under tasks/ and orders task ids by
// the metadata object's LastModified, newest first.
func (s *S3Store) ListTaskIDs(ctx context.Context, limit int) ([]string, error) {
	type entry struct {
		id       string
		modified time.Time
	}

	prefix := taskPrefix
	var entries []entry

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &prefix,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || !strings.HasSuffix(*obj.Key, "/"+MetadataObject) {
				continue
			}
			id := strings.TrimSuffix(strings.TrimPrefix(*obj.Key, taskPrefix), "/"+MetadataObject)
			e := entry{id: id}
			if obj.LastModified != nil {
				e.modified = *obj.LastModified
			}
			entries = append(entries, e)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].modified.After(entries[j].modified)
	})

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.id)
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *S3Store) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// isNotFound normalizes the store-level not-found shapes to absence.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || code == "NoSuchBucket"
	}
	return false
}
