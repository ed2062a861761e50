package quizzes

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/quiz-trove/backend/pkg/storage"
)

// ImageUpload is a quiz cover image received from the client.
type ImageUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// ImageStore persists quiz images and returns the reference kept on the quiz.
// RemoveQuizImage drops an image that is no longer referenced.
type ImageStore interface {
	SaveQuizImage(ctx context.Context, quizID uuid.UUID, img *ImageUpload) (string, error)
	RemoveQuizImage(ctx context.Context, ref string) error
}

// ImageObjects is the subset of the S3 client used for images.
type ImageObjects interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64, publicRead bool) (string, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	ObjectKeyFromURL(bucket, objectURL string) (string, bool)
	ImagesBucket() string
}

// S3Images stores images as public objects and references them by URL.
type S3Images struct {
	s3 ImageObjects
}

// NewS3Images creates an S3-backed image store.
func NewS3Images(s3 ImageObjects) *S3Images {
	return &S3Images{s3: s3}
}

// SaveQuizImage uploads the image under quizzes/{quiz_id}/.
func (s *S3Images) SaveQuizImage(ctx context.Context, quizID uuid.UUID, img *ImageUpload) (string, error) {
	key := storage.QuizImageKey(quizID.String(), img.Filename)
	url, err := s.s3.Upload(ctx, s.s3.ImagesBucket(), key, img.ContentType, img.Body, img.Size, true)
	if err != nil {
		return "", fmt.Errorf("upload quiz image: %w", err)
	}
	return url, nil
}

// RemoveQuizImage deletes the object behind ref. References that do not point
// into the images bucket, such as inline data URIs, are left alone.
func (s *S3Images) RemoveQuizImage(ctx context.Context, ref string) error {
	bucket := s.s3.ImagesBucket()
	key, ok := s.s3.ObjectKeyFromURL(bucket, ref)
	if !ok || !strings.HasPrefix(key, storage.FolderQuizzes+"/") {
		return nil
	}
	if err := s.s3.DeleteObject(ctx, bucket, key); err != nil {
		return fmt.Errorf("delete quiz image: %w", err)
	}
	return nil
}

// InlineImages keeps the image inside the quiz record as a base64 data URI.
// Used when no bucket is configured.
type InlineImages struct{}

// SaveQuizImage encodes the image bytes.
func (InlineImages) SaveQuizImage(_ context.Context, _ uuid.UUID, img *ImageUpload) (string, error) {
	raw, err := io.ReadAll(img.Body)
	if err != nil {
		return "", fmt.Errorf("read quiz image: %w", err)
	}
	return "data:" + img.ContentType + ";base64," + base64.StdEncoding.EncodeToString(raw), nil
}

// RemoveQuizImage is a no-op; the image lived in the replaced record.
func (InlineImages) RemoveQuizImage(context.Context, string) error { return nil }
