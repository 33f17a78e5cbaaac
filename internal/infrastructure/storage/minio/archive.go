package minio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
)

const (
	documentPrefix  = "documents"
	textContentType = "text/plain; charset=utf-8"
)

var ErrObjectNotFound = errors.New(errors.ErrCodeNotFound, "object not found")

// DocumentArchive stores the raw text of submitted documents, one object per
// session under documents/<yyyy>/<mm>/.
type DocumentArchive struct {
	client *MinIOClient
	logger logging.Logger
}

func NewDocumentArchive(client *MinIOClient, log logging.Logger) *DocumentArchive {
	return &DocumentArchive{client: client, logger: logging.OrNop(log)}
}

// DocumentKey returns the object key of a session's document.
func DocumentKey(sessionID string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%s.txt", documentPrefix, at.Year(), int(at.Month()), sessionID)
}

// Archive uploads text and returns its key.
func (a *DocumentArchive) Archive(ctx context.Context, sessionID string, text string, at time.Time) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", errors.New(errors.ErrCodeValidation, "session id required")
	}
	api, err := a.client.api()
	if err != nil {
		return "", err
	}

	key := DocumentKey(sessionID, at)
	opts := minio.PutObjectOptions{
		ContentType:  textContentType,
		UserMetadata: map[string]string{"session-id": sessionID},
	}
	info, err := api.PutObject(ctx, a.client.Bucket(), key, strings.NewReader(text), int64(len(text)), opts)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeStorageError, "document upload failed").WithDetail(key)
	}
	a.logger.Debug("Document archived",
		logging.String("session_id", sessionID),
		logging.String("key", key),
		logging.Int64("size", info.Size))
	return key, nil
}

// Stat returns the stored size of key.
func (a *DocumentArchive) Stat(ctx context.Context, key string) (int64, error) {
	api, err := a.client.api()
	if err != nil {
		return 0, err
	}
	info, err := api.StatObject(ctx, a.client.Bucket(), key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return 0, ErrObjectNotFound.WithDetail(key)
		}
		return 0, errors.Wrap(err, errors.ErrCodeStorageError, "stat failed").WithDetail(key)
	}
	return info.Size, nil
}

//Personal.AI order the ending
