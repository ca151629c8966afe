package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/stustapay/apiserver/internal/db"
	"github.com/stustapay/apiserver/types"
)

// SessionRepository handles persistence for user login sessions.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, userID int64) (types.Session, error) {
	const query = `INSERT INTO usr_session (usr) VALUES ($1) RETURNING id, usr, created_at`
	var session types.Session
	if err := db.Conn(ctx, r.db).QueryRowContext(ctx, query, userID).Scan(
		&session.ID,
		&session.UserID,
		&session.CreatedAt,
	); err != nil {
		return types.Session{}, err
	}
	return session, nil
}

func (r *SessionRepository) Get(ctx context.Context, userID, sessionID int64) (types.Session, error) {
	const query = `SELECT id, usr, created_at FROM usr_session WHERE usr = $1 AND id = $2`
	var session types.Session
	err := db.Conn(ctx, r.db).QueryRowContext(ctx, query, userID, sessionID).Scan(
		&session.ID,
		&session.UserID,
		&session.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Session{}, notFound("session", sessionID)
		}
		return types.Session{}, err
	}
	return session, nil
}

// Delete reports whether the session owned by userID was removed.
func (r *SessionRepository) Delete(ctx context.Context, userID, sessionID int64) (bool, error) {
	result, err := db.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM usr_session WHERE usr = $1 AND id = $2`, userID, sessionID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
