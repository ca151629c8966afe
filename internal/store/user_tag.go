package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/stustapay/apiserver/internal/db"
)

// UserTagRepository resolves scanned tag identifiers.
type UserTagRepository struct {
	db *sql.DB
}

func NewUserTagRepository(db *sql.DB) *UserTagRepository {
	return &UserTagRepository{db: db}
}

// GetIDByUID returns the internal id of the tag with the given scanned uid.
func (r *UserTagRepository) GetIDByUID(ctx context.Context, uid int64) (int64, error) {
	var id int64
	err := db.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT id FROM user_tag WHERE uid = $1`, uid).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, notFound("user_tag", uid)
		}
		return 0, err
	}
	return id, nil
}

// LockByUID resolves the tag like GetIDByUID and keeps a row lock on it until
// the surrounding transaction ends. Concurrent scans of the same tag are
// serialized on that lock.
func (r *UserTagRepository) LockByUID(ctx context.Context, uid int64) (int64, error) {
	var id int64
	err := db.Conn(ctx, r.db).QueryRowContext(ctx, `SELECT id FROM user_tag WHERE uid = $1 FOR UPDATE`, uid).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, notFound("user_tag", uid)
		}
		return 0, err
	}
	return id, nil
}
