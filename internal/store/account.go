package store

import (
	"context"
	"database/sql"

	"github.com/stustapay/apiserver/internal/db"
	"github.com/stustapay/apiserver/types"
)

// AccountRepository creates ledger accounts. Balances are managed elsewhere.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, accountType types.AccountType, name string) (int64, error) {
	const query = `INSERT INTO account (type, name) VALUES ($1, $2) RETURNING id`
	var id int64
	if err := db.Conn(ctx, r.db).QueryRowContext(ctx, query, string(accountType), name).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
