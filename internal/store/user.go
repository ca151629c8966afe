package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"

	"github.com/lib/pq"
	"github.com/stustapay/apiserver/internal/db"
	"github.com/stustapay/apiserver/types"
)

const userColumns = `id, name, description, password, user_tag_id, transport_account_id, cashier_account_id, privileges`

// UserRepository handles persistence for users and their privilege rows.
// Every returned user is read back from the usr_with_privileges view.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser maps one usr_with_privileges row onto a user and its password digest.
func scanUser(row rowScanner) (types.UserCredentials, error) {
	var (
		id                 int64
		name               string
		description        sql.NullString
		password           sql.NullString
		userTagID          sql.NullInt64
		transportAccountID sql.NullInt64
		cashierAccountID   sql.NullInt64
		privileges         []string
	)
	if err := row.Scan(
		&id,
		&name,
		&description,
		&password,
		&userTagID,
		&transportAccountID,
		&cashierAccountID,
		pq.Array(&privileges),
	); err != nil {
		return types.UserCredentials{}, err
	}

	if id < 1 {
		return types.UserCredentials{}, fmt.Errorf("invalid user id %d", id)
	}
	if name == "" {
		return types.UserCredentials{}, fmt.Errorf("user %d has an empty name", id)
	}

	privs := make(types.Privileges, 0, len(privileges))
	for _, value := range privileges {
		p, err := types.ParsePrivilege(value)
		if err != nil {
			return types.UserCredentials{}, fmt.Errorf("user %d: %w", id, err)
		}
		privs = append(privs, p)
	}

	return types.UserCredentials{
		User: types.User{
			ID: id,
			UserWithoutID: types.UserWithoutID{
				Name:               name,
				Description:        nullString(description),
				UserTagID:          nullInt64(userTagID),
				TransportAccountID: nullInt64(transportAccountID),
				CashierAccountID:   nullInt64(cashierAccountID),
				Privileges:         privs.Normalize(),
			},
		},
		HashedPassword: password.String,
	}, nil
}

func (r *UserRepository) queryUser(ctx context.Context, where string, arg any) (types.UserCredentials, error) {
	query := `SELECT ` + userColumns + ` FROM usr_with_privileges WHERE ` + where
	creds, err := scanUser(db.Conn(ctx, r.db).QueryRowContext(ctx, query, arg))
	if err != nil {
		return types.UserCredentials{}, err
	}
	return creds, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (types.User, error) {
	creds, err := r.queryUser(ctx, `id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, notFound("user", id)
		}
		return types.User{}, err
	}
	return creds.User, nil
}

// GetByTagID returns the user bound to the given tag row.
func (r *UserRepository) GetByTagID(ctx context.Context, tagID int64) (types.User, error) {
	creds, err := r.queryUser(ctx, `user_tag_id = $1`, tagID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, notFound("user", fmt.Sprintf("with user_tag_id %d", tagID))
		}
		return types.User{}, err
	}
	return creds.User, nil
}

// GetCredentialsByName returns the user together with its password digest.
func (r *UserRepository) GetCredentialsByName(ctx context.Context, name string) (types.UserCredentials, error) {
	creds, err := r.queryUser(ctx, `name = $1`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.UserCredentials{}, notFound("user", name)
		}
		return types.UserCredentials{}, err
	}
	return creds, nil
}

// LockByID takes a row lock on the user until the surrounding transaction ends.
func (r *UserRepository) LockByID(ctx context.Context, id int64) error {
	const query = `SELECT id FROM usr WHERE id = $1 FOR UPDATE`
	var locked int64
	if err := db.Conn(ctx, r.db).QueryRowContext(ctx, query, id).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("user", id)
		}
		return err
	}
	return nil
}

// Create inserts the user row and one privilege row per privilege. An empty
// hashedPassword is stored as NULL. A taken name or tag yields a ConflictError.
func (r *UserRepository) Create(ctx context.Context, user types.UserWithoutID, hashedPassword string) (types.User, error) {
	conn := db.Conn(ctx, r.db)

	const query = `
		INSERT INTO usr (name, description, password, user_tag_id, transport_account_id, cashier_account_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	var id int64
	if err := conn.QueryRowContext(
		ctx,
		query,
		user.Name,
		user.Description,
		sql.NullString{String: hashedPassword, Valid: hashedPassword != ""},
		user.UserTagID,
		user.TransportAccountID,
		user.CashierAccountID,
	).Scan(&id); err != nil {
		return types.User{}, conflict("user", err)
	}

	if err := insertPrivileges(ctx, conn, id, user.Privileges); err != nil {
		return types.User{}, err
	}
	return r.GetByID(ctx, id)
}

// Update replaces every mutable field. The privilege set is deleted and
// reinserted, so omitted privileges are dropped.
func (r *UserRepository) Update(ctx context.Context, id int64, user types.UserWithoutID) (types.User, error) {
	conn := db.Conn(ctx, r.db)

	const query = `
		UPDATE usr
		SET name = $2,
			description = $3,
			user_tag_id = $4,
			transport_account_id = $5,
			cashier_account_id = $6
		WHERE id = $1`
	result, err := conn.ExecContext(
		ctx,
		query,
		id,
		user.Name,
		user.Description,
		user.UserTagID,
		user.TransportAccountID,
		user.CashierAccountID,
	)
	if err != nil {
		return types.User{}, conflict("user", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.User{}, err
	}
	if affected == 0 {
		return types.User{}, notFound("user", id)
	}

	if _, err := conn.ExecContext(ctx, `DELETE FROM usr_privs WHERE usr = $1`, id); err != nil {
		return types.User{}, err
	}
	if err := insertPrivileges(ctx, conn, id, user.Privileges); err != nil {
		return types.User{}, err
	}
	return r.GetByID(ctx, id)
}

func insertPrivileges(ctx context.Context, conn db.Querier, userID int64, privileges types.Privileges) error {
	for _, privilege := range privileges.Normalize() {
		if _, err := conn.ExecContext(
			ctx,
			`INSERT INTO usr_privs (usr, priv) VALUES ($1, $2)`,
			userID,
			string(privilege),
		); err != nil {
			return fmt.Errorf("insert privilege %s: %w", privilege, err)
		}
	}
	return nil
}

// Delete reports whether a row was removed.
func (r *UserRepository) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := db.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM usr WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// List streams all users in store order. The rows stay open until the
// sequence is exhausted or the consumer stops early.
func (r *UserRepository) List(ctx context.Context) iter.Seq2[types.User, error] {
	return func(yield func(types.User, error) bool) {
		rows, err := db.Conn(ctx, r.db).QueryContext(ctx, `SELECT `+userColumns+` FROM usr_with_privileges`)
		if err != nil {
			yield(types.User{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			creds, err := scanUser(rows)
			if err != nil {
				yield(types.User{}, err)
				return
			}
			if !yield(creds.User, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(types.User{}, err)
		}
	}
}

// LinkCashierAccount points the user at an existing account.
func (r *UserRepository) LinkCashierAccount(ctx context.Context, userID, accountID int64) (bool, error) {
	return r.linkAccount(ctx, `UPDATE usr SET cashier_account_id = $2 WHERE id = $1`, userID, accountID)
}

// LinkTransportAccount points the user at an existing account.
func (r *UserRepository) LinkTransportAccount(ctx context.Context, userID, accountID int64) (bool, error) {
	return r.linkAccount(ctx, `UPDATE usr SET transport_account_id = $2 WHERE id = $1`, userID, accountID)
}

func (r *UserRepository) linkAccount(ctx context.Context, query string, userID, accountID int64) (bool, error) {
	result, err := db.Conn(ctx, r.db).ExecContext(ctx, query, userID, accountID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
