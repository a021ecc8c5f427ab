package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/iiifstudio/backend/internal/config"
	apperrors "github.com/iiifstudio/backend/internal/errors"
)

// ============================================================================
// Streaming Client (minio-go) - serves archived page images
// ============================================================================

// Client provides access to S3-compatible object storage (MinIO) for
// streaming archived page images back out.
type Client struct {
	client *minio.Client
	bucket string
}

// New creates a new streaming storage client
func New(cfg *config.Config) (*Client, error) {
	// minio-go expects host:port without a scheme
	endpoint := cfg.MinioEndpoint
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Client{
		client: client,
		bucket: cfg.MinioBucket,
	}, nil
}

// ObjectInfo contains metadata about a stored object
type ObjectInfo struct {
	Size        int64
	ContentType string
	ETag        string
}

// GetObject retrieves an entire object from storage
func (c *Client) GetObject(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	obj, err := c.client.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}

	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, nil, fmt.Errorf("failed to stat object %s: %w", key, err)
	}

	return obj, &ObjectInfo{
		Size:        info.Size,
		ContentType: info.ContentType,
		ETag:        info.ETag,
	}, nil
}

// ObjectExists checks if an object exists in storage
func (c *Client) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := c.client.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence %s: %w", key, err)
	}
	return true, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", c.bucket, err)
		}
	}

	return nil
}

// Bucket returns the bucket name
func (c *Client) Bucket() string {
	return c.bucket
}

// Ping checks if the storage is accessible by verifying bucket exists
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.client.BucketExists(ctx, c.bucket)
	return err
}

// ============================================================================
// Archiver (aws-sdk-go-v2) - uploads completed documents with dedup
// ============================================================================

// DocumentMetadata identifies a document for archive deduplication
type DocumentMetadata struct {
	DocID   string `json:"doc_id"`
	Library string `json:"library"`
}

// ArchiveResult contains the result of an archive operation
type ArchiveResult struct {
	StorageKey    string `json:"storage_key"`
	IdentityHash  string `json:"identity_hash"`
	IsNew         bool   `json:"is_new"`
	UploadedFiles int    `json:"uploaded_files"`
}

// Archiver uploads completed document directories to S3-compatible
// storage
type Archiver interface {
	// Archive uploads a document directory with deduplication
	Archive(ctx context.Context, docDir string, metadata DocumentMetadata) (*ArchiveResult, error)
	// Exists checks if a document archive exists by identity hash
	Exists(ctx context.Context, identityHash string) (bool, error)
}

// S3Archiver implements Archiver using S3-compatible storage (AWS S3
// or MinIO)
type S3Archiver struct {
	client *s3.Client
	bucket string
}

// NewS3Archiver creates a new S3Archiver instance
func NewS3Archiver(cfg *config.Config) (*S3Archiver, error) {
	opts := s3.Options{
		Region:       cfg.S3Region,
		Credentials:  awscreds.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		UsePathStyle: cfg.S3UsePathStyle, // Required for MinIO
	}

	if cfg.S3Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.S3Endpoint)
	}

	return &S3Archiver{
		client: s3.New(opts),
		bucket: cfg.S3Bucket,
	}, nil
}

// GenerateIdentityHash creates a deterministic hash for document
// deduplication from the normalized library and doc ID.
func GenerateIdentityHash(metadata DocumentMetadata) string {
	normalizedLibrary := strings.ToLower(strings.TrimSpace(metadata.Library))
	normalizedDocID := strings.ToLower(strings.TrimSpace(metadata.DocID))

	hashInput := fmt.Sprintf("%s|%s", normalizedLibrary, normalizedDocID)
	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// archiveRoot prefixes every archived object key
const archiveRoot = "manuscripts"

// ArchiveKey returns the object key for one file of an archived
// document. The archiver writes this layout and the streaming client
// reads it back.
func ArchiveKey(metadata DocumentMetadata, rel string) string {
	return fmt.Sprintf("%s/%s/%s", archiveRoot, GenerateIdentityHash(metadata), rel)
}

// archivePrefix returns the S3 key prefix for a given identity hash
func (s *S3Archiver) archivePrefix(identityHash string) string {
	return fmt.Sprintf("%s/%s", archiveRoot, identityHash)
}

// markerKey is the object whose presence marks a completed archive
func (s *S3Archiver) markerKey(identityHash string) string {
	return fmt.Sprintf("%s/%s/metadata.json", archiveRoot, identityHash)
}

// Exists checks if a document archive exists by identity hash
func (s *S3Archiver) Exists(ctx context.Context, identityHash string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.markerKey(identityHash)),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "404") {
			return false, nil
		}
		return false, fmt.Errorf("failed to check archive existence: %w", err)
	}
	return true, nil
}

// Archive uploads every file of a document directory (pages and
// sidecars). An archive that already exists is not re-uploaded.
func (s *S3Archiver) Archive(ctx context.Context, docDir string, metadata DocumentMetadata) (*ArchiveResult, error) {
	identityHash := GenerateIdentityHash(metadata)
	prefix := s.archivePrefix(identityHash)

	exists, err := s.Exists(ctx, identityHash)
	if err != nil {
		return nil, fmt.Errorf("failed to check existence: %w", err)
	}
	if exists {
		return &ArchiveResult{
			StorageKey:   prefix,
			IdentityHash: identityHash,
			IsNew:        false,
		}, nil
	}

	uploaded := 0
	// metadata.json goes last: its presence marks the archive complete
	var metadataPath string
	err = filepath.WalkDir(docDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(docDir, path)
		if err != nil {
			return err
		}
		if rel == "metadata.json" {
			metadataPath = path
			return nil
		}
		if err := s.uploadFile(ctx, path, prefix+"/"+filepath.ToSlash(rel)); err != nil {
			return err
		}
		uploaded++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to archive %s: %w", docDir, err)
	}

	if metadataPath != "" {
		if err := s.uploadFile(ctx, metadataPath, s.markerKey(identityHash)); err != nil {
			return nil, fmt.Errorf("failed to upload archive marker: %w", err)
		}
		uploaded++
	}

	return &ArchiveResult{
		StorageKey:    prefix,
		IdentityHash:  identityHash,
		IsNew:         true,
		UploadedFiles: uploaded,
	}, nil
}

// uploadFile pushes one file, retrying transient storage failures.
// The file is reopened per attempt so a retried upload streams from
// the start.
func (s *S3Archiver) uploadFile(ctx context.Context, path, key string) error {
	return apperrors.Retry(ctx, apperrors.StorageRetryConfig(), func(ctx context.Context) error {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		defer file.Close()

		fileInfo, err := file.Stat()
		if err != nil {
			return fmt.Errorf("failed to stat file: %w", err)
		}

		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          file,
			ContentLength: aws.Int64(fileInfo.Size()),
			ContentType:   aws.String(contentTypeFor(path)),
		})
		if err != nil {
			return apperrors.StorageError("failed to upload " + key).WithCause(err)
		}
		return nil
	})
}

func contentTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
