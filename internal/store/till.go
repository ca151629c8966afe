package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/stustapay/apiserver/internal/db"
	"github.com/stustapay/apiserver/types"
)

// TillRepository handles the terminal side of tills: registration and the
// currently logged-in user. Till configuration lives elsewhere.
type TillRepository struct {
	db *sql.DB
}

func NewTillRepository(db *sql.DB) *TillRepository {
	return &TillRepository{db: db}
}

func scanTerminal(row rowScanner) (types.Terminal, error) {
	var (
		terminal     types.Terminal
		sessionUUID  uuid.NullUUID
		activeUserID sql.NullInt64
	)
	if err := row.Scan(&terminal.ID, &terminal.Name, &sessionUUID, &activeUserID); err != nil {
		return types.Terminal{}, err
	}
	if sessionUUID.Valid {
		terminal.SessionUUID = sessionUUID.UUID
	}
	terminal.ActiveUserID = nullInt64(activeUserID)
	return terminal, nil
}

// Register assigns a new session uuid to the till holding registrationUUID.
// Tokens carrying an older session uuid stop resolving.
func (r *TillRepository) Register(ctx context.Context, registrationUUID, sessionUUID uuid.UUID) (types.Terminal, error) {
	const query = `
		UPDATE till
		SET session_uuid = $2
		WHERE registration_uuid = $1
		RETURNING id, name, session_uuid, active_user_id`
	terminal, err := scanTerminal(db.Conn(ctx, r.db).QueryRowContext(ctx, query, registrationUUID, sessionUUID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Terminal{}, notFound("till", registrationUUID)
		}
		return types.Terminal{}, err
	}
	return terminal, nil
}

// GetBySession returns the till registered under the given session.
func (r *TillRepository) GetBySession(ctx context.Context, tillID int64, sessionUUID uuid.UUID) (types.Terminal, error) {
	const query = `
		SELECT id, name, session_uuid, active_user_id
		FROM till
		WHERE id = $1 AND session_uuid = $2`
	terminal, err := scanTerminal(db.Conn(ctx, r.db).QueryRowContext(ctx, query, tillID, sessionUUID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Terminal{}, notFound("till", tillID)
		}
		return types.Terminal{}, err
	}
	return terminal, nil
}

// SetActiveUser logs userID in at the till; a nil userID logs the current user out.
func (r *TillRepository) SetActiveUser(ctx context.Context, tillID int64, userID *int64) error {
	result, err := db.Conn(ctx, r.db).ExecContext(ctx, `UPDATE till SET active_user_id = $2 WHERE id = $1`, tillID, userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound("till", tillID)
	}
	return nil
}
