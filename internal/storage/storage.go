package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/therealutkarshpriyadarshi/verticut/internal/config"
)

const defaultPresignExpiry = time.Hour

// Storage provides object storage operations
type Storage struct {
	client        *minio.Client
	bucketName    string
	presignExpiry time.Duration
}

// New creates a new storage client
func New(cfg config.StorageConfig) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	// Ensure bucket exists
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	expiry := cfg.PresignExpiry
	if expiry <= 0 {
		expiry = defaultPresignExpiry
	}

	return &Storage{
		client:        client,
		bucketName:    cfg.BucketName,
		presignExpiry: expiry,
	}, nil
}

// Bucket returns the bucket objects are stored in
func (s *Storage) Bucket() string {
	return s.bucketName
}

// Upload uploads a stream to storage. size may be -1 when unknown.
func (s *Storage) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = getContentType(objectName)
	}
	_, err := s.client.PutObject(ctx, s.bucketName, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}

	return nil
}

// UploadBytes uploads an in-memory object such as a rendered clip
func (s *Storage) UploadBytes(ctx context.Context, objectName string, data []byte, contentType string) error {
	return s.Upload(ctx, objectName, bytes.NewReader(data), int64(len(data)), contentType)
}

// DownloadFile downloads a file to local filesystem
func (s *Storage) DownloadFile(ctx context.Context, objectName, filePath string) error {
	err := s.client.FGetObject(ctx, s.bucketName, objectName, filePath, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}

	return nil
}

// Exists reports whether an object is present
func (s *Storage) Exists(ctx context.Context, objectName string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

// GetURL returns a presigned download URL. When filename is set the response
// is served as an attachment with that name.
func (s *Storage) GetURL(ctx context.Context, objectName, filename string) (string, error) {
	params := url.Values{}
	if filename != "" {
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucketName, objectName, s.presignExpiry, params)
	if err != nil {
		return "", fmt.Errorf("failed to generate URL: %w", err)
	}

	return u.String(), nil
}

// List lists objects with a prefix
func (s *Storage) List(ctx context.Context, prefix string) ([]string, error) {
	var objects []string

	for object := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", object.Err)
		}
		objects = append(objects, object.Key)
	}

	return objects, nil
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SourceKey is where an uploaded source video is stored
func SourceKey(uploadID, filename string) string {
	return path.Join("sources", uploadID, cleanName(filename, "source"+filepath.Ext(filename)))
}

// ClipKey is where a rendered clip is stored
func ClipKey(jobID, filename string) string {
	return path.Join("exports", jobID, cleanName(filename, "clip.mp4"))
}

func cleanName(filename, fallback string) string {
	name := unsafeKeyChars.ReplaceAllString(filepath.Base(filename), "_")
	name = strings.Trim(name, "_.")
	if name == "" {
		return fallback
	}
	return name
}

// getContentType returns the content type based on file extension
func getContentType(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".avi":
		return "video/x-msvideo"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
