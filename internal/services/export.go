package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

const exportContentType = "application/x-ndjson"

// ObjectStore is the write side of object storage.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

// UserExporter writes a snapshot of all users to object storage as JSON lines.
type UserExporter struct {
	users   *UserService
	storage ObjectStore
	now     func() time.Time
	newID   func() string
}

func NewUserExporter(users *UserService, storage ObjectStore) *UserExporter {
	return &UserExporter{users: users, storage: storage, now: time.Now, newID: uuid.NewString}
}

// Export returns the object key and the number of exported users. It needs
// the same privileges as ListUsers.
func (e *UserExporter) Export(ctx context.Context) (string, int, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	count := 0
	for user, err := range e.users.ListUsers(ctx) {
		if err != nil {
			return "", 0, err
		}
		if err := enc.Encode(user); err != nil {
			return "", 0, fmt.Errorf("encode user %d: %w", user.ID, err)
		}
		count++
	}

	// The timestamp keeps keys in creation order; the id keeps exports within
	// the same second apart.
	key := fmt.Sprintf("exports/users-%s-%s.jsonl", e.now().UTC().Format("20060102T150405Z"), e.newID())
	if err := e.storage.Put(ctx, key, &buf, int64(buf.Len()), exportContentType); err != nil {
		return "", 0, fmt.Errorf("upload export: %w", err)
	}
	return key, count, nil
}
