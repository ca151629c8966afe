package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/stustapay/apiserver/internal/auth"
	"github.com/stustapay/apiserver/internal/logging"
	"github.com/stustapay/apiserver/internal/metrics"
	"github.com/stustapay/apiserver/types"
)

// ErrInvalidUser is returned for structurally invalid user input.
var ErrInvalidUser = errors.New("invalid user")

// Transactor runs fn inside one database transaction. The context passed to
// fn carries the transaction; repositories called with it join it.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (types.User, error)
	GetByTagID(ctx context.Context, tagID int64) (types.User, error)
	GetCredentialsByName(ctx context.Context, name string) (types.UserCredentials, error)
	LockByID(ctx context.Context, id int64) error
	Create(ctx context.Context, user types.UserWithoutID, hashedPassword string) (types.User, error)
	Update(ctx context.Context, id int64, user types.UserWithoutID) (types.User, error)
	Delete(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context) iter.Seq2[types.User, error]
	LinkCashierAccount(ctx context.Context, userID, accountID int64) (bool, error)
	LinkTransportAccount(ctx context.Context, userID, accountID int64) (bool, error)
}

// UserTagRepository resolves scanned tag uids.
type UserTagRepository interface {
	GetIDByUID(ctx context.Context, uid int64) (int64, error)
	LockByUID(ctx context.Context, uid int64) (int64, error)
}

// AccountRepository is the ledger collaborator used by promotions.
type AccountRepository interface {
	Create(ctx context.Context, accountType types.AccountType, name string) (int64, error)
}

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
}

// UserService encapsulates user use-cases. Every public method runs in its
// own transaction and checks the caller's privileges before touching data.
type UserService struct {
	tx       Transactor
	users    UserRepository
	tags     UserTagRepository
	accounts AccountRepository
	hasher   PasswordHasher
	events   *EventPublisher
}

func NewUserService(
	tx Transactor,
	users UserRepository,
	tags UserTagRepository,
	accounts AccountRepository,
	hasher PasswordHasher,
	events *EventPublisher,
) *UserService {
	return &UserService{
		tx:       tx,
		users:    users,
		tags:     tags,
		accounts: accounts,
		hasher:   hasher,
		events:   events,
	}
}

// CreateUserNoAuth creates a user without a privilege check. It exists for
// bootstrapping the first admin.
func (s *UserService) CreateUserNoAuth(ctx context.Context, user types.UserWithoutID, password string) (types.User, error) {
	var created types.User
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.createUser(ctx, user, password)
		return err
	})
	if err != nil {
		return types.User{}, err
	}
	metrics.UsersCreatedTotal.WithLabelValues("bootstrap").Inc()
	s.events.publish(ctx, newUserEvent(EventUserCreated, created.ID, ""))
	return created, nil
}

// CreateUser creates a user with an optional password. Requires admin.
func (s *UserService) CreateUser(ctx context.Context, user types.UserWithoutID, password string) (types.User, error) {
	var created types.User
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := auth.RequireUserPrivileges(ctx, types.PrivilegeAdmin); err != nil {
			return err
		}
		var err error
		created, err = s.createUser(ctx, user, password)
		return err
	})
	if err != nil {
		return types.User{}, err
	}
	metrics.UsersCreatedTotal.WithLabelValues("admin").Inc()
	s.events.publish(ctx, newUserEvent(EventUserCreated, created.ID, ""))
	return created, nil
}

func (s *UserService) createUser(ctx context.Context, user types.UserWithoutID, password string) (types.User, error) {
	if err := validateUser(user); err != nil {
		return types.User{}, err
	}

	var hashed string
	if password != "" {
		var err error
		hashed, err = s.hasher.Hash(password)
		if err != nil {
			return types.User{}, fmt.Errorf("hash password: %w", err)
		}
	}
	return s.users.Create(ctx, user, hashed)
}

// CreateUserWithTag creates a user bound to a scanned tag. When a user is
// already bound to the tag it is returned unchanged and newUser.Name is
// ignored. Requires admin.
func (s *UserService) CreateUserWithTag(ctx context.Context, newUser types.NewUser) (types.User, error) {
	var (
		user    types.User
		created bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := auth.RequireUserPrivileges(ctx, types.PrivilegeAdmin); err != nil {
			return err
		}
		var err error
		user, created, err = s.createUserWithTag(ctx, newUser)
		return err
	})
	if err != nil {
		return types.User{}, err
	}
	s.afterTagCreate(ctx, user, created)
	return user, nil
}

// createUserWithTag holds the tag row lock from the lookup to the insert, so
// a concurrent scan of the same tag waits and then finds the bound user.
func (s *UserService) createUserWithTag(ctx context.Context, newUser types.NewUser) (types.User, bool, error) {
	tagID, err := s.tags.LockByUID(ctx, newUser.UserTag)
	if err != nil {
		return types.User{}, false, err
	}

	existing, err := s.users.GetByTagID(ctx, tagID)
	if err == nil {
		return existing, false, nil
	}
	if !isNotFound(err) {
		return types.User{}, false, err
	}

	user, err := s.createUser(ctx, types.UserWithoutID{
		Name:       newUser.Name,
		UserTagID:  &tagID,
		Privileges: types.Privileges{},
	}, "")
	if err != nil {
		return types.User{}, false, err
	}
	return user, true, nil
}

func (s *UserService) afterTagCreate(ctx context.Context, user types.User, created bool) {
	if !created {
		return
	}
	metrics.UsersCreatedTotal.WithLabelValues("tag").Inc()
	s.events.publish(ctx, newUserEvent(EventUserCreated, user.ID, ""))
}

// CreateCashier provisions a cashier from a tag scan at a terminal.
// Requires a terminal with an admin logged in.
func (s *UserService) CreateCashier(ctx context.Context, newUser types.NewUser) (types.User, error) {
	return s.provision(ctx, newUser, types.PrivilegeCashier)
}

// CreateFinanzorga provisions a finance organizer, who is always a cashier
// as well. Requires a terminal with an admin logged in.
func (s *UserService) CreateFinanzorga(ctx context.Context, newUser types.NewUser) (types.User, error) {
	return s.provision(ctx, newUser, types.PrivilegeCashier, types.PrivilegeFinanzorga)
}

func (s *UserService) provision(ctx context.Context, newUser types.NewUser, privileges ...types.Privilege) (types.User, error) {
	var (
		user     types.User
		created  bool
		promoted []types.Privilege
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, _, err := auth.RequireTerminal(ctx, types.PrivilegeAdmin); err != nil {
			return err
		}
		var err error
		user, created, err = s.createUserWithTag(ctx, newUser)
		if err != nil {
			return err
		}
		for _, privilege := range privileges {
			var granted bool
			user, granted, err = s.promote(ctx, user.ID, privilege)
			if err != nil {
				return err
			}
			if granted {
				promoted = append(promoted, privilege)
			}
		}
		return nil
	})
	if err != nil {
		return types.User{}, err
	}
	s.afterTagCreate(ctx, user, created)
	for _, privilege := range promoted {
		s.afterPromote(ctx, user, privilege)
	}
	return user, nil
}

// PromoteToCashier grants the cashier privilege together with a new cashier
// account. Users that already are cashiers are returned unchanged. Requires admin.
func (s *UserService) PromoteToCashier(ctx context.Context, userID int64) (types.User, error) {
	return s.promoteGuarded(ctx, userID, types.PrivilegeCashier)
}

// PromoteToFinanzorga grants the finanzorga privilege together with a new
// transport account. Requires admin.
func (s *UserService) PromoteToFinanzorga(ctx context.Context, userID int64) (types.User, error) {
	return s.promoteGuarded(ctx, userID, types.PrivilegeFinanzorga)
}

func (s *UserService) promoteGuarded(ctx context.Context, userID int64, privilege types.Privilege) (types.User, error) {
	var (
		user    types.User
		granted bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := auth.RequireUserPrivileges(ctx, types.PrivilegeAdmin); err != nil {
			return err
		}
		var err error
		user, granted, err = s.promote(ctx, userID, privilege)
		return err
	})
	if err != nil {
		return types.User{}, err
	}
	if granted {
		s.afterPromote(ctx, user, privilege)
	}
	return user, nil
}

// promote locks the user row before checking the privilege so concurrent
// promotions of one user cannot both create an account.
func (s *UserService) promote(ctx context.Context, userID int64, privilege types.Privilege) (types.User, bool, error) {
	if err := s.users.LockByID(ctx, userID); err != nil {
		return types.User{}, false, err
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return types.User{}, false, err
	}
	if user.Privileges.Has(privilege) {
		return user, false, nil
	}

	updated := user.WithoutID()
	switch privilege {
	case types.PrivilegeCashier:
		accountID, err := s.accounts.Create(ctx, types.AccountTypeInternal, "Cashier account for "+user.Name)
		if err != nil {
			return types.User{}, false, fmt.Errorf("create cashier account: %w", err)
		}
		updated.CashierAccountID = &accountID
	case types.PrivilegeFinanzorga:
		accountID, err := s.accounts.Create(ctx, types.AccountTypeInternal, "Transport account for finanzorga "+user.Name)
		if err != nil {
			return types.User{}, false, fmt.Errorf("create transport account: %w", err)
		}
		updated.TransportAccountID = &accountID
	default:
		return types.User{}, false, fmt.Errorf("%w: privilege %s cannot be granted by promotion", ErrInvalidUser, privilege)
	}
	updated.Privileges = append(updated.Privileges, privilege)

	user, err = s.users.Update(ctx, userID, updated)
	if err != nil {
		return types.User{}, false, err
	}
	return user, true, nil
}

func (s *UserService) afterPromote(ctx context.Context, user types.User, privilege types.Privilege) {
	metrics.PromotionsTotal.WithLabelValues(string(privilege)).Inc()
	logging.Get().Info().
		Int64("user_id", user.ID).
		Str("privilege", string(privilege)).
		Msg("user promoted")
	s.events.publish(ctx, newUserEvent(EventUserPromoted, user.ID, privilege))
}

// ListUsers streams all users. The transaction stays open while the
// sequence is consumed and ends when iteration stops. Requires admin.
func (s *UserService) ListUsers(ctx context.Context) iter.Seq2[types.User, error] {
	return func(yield func(types.User, error) bool) {
		stopped := false
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			if _, err := auth.RequireUserPrivileges(ctx, types.PrivilegeAdmin); err != nil {
				return err
			}
			for user, err := range s.users.List(ctx) {
				if err != nil {
					return err
				}
				if !yield(user, nil) {
					stopped = true
					return nil
				}
			}
			return nil
		})
		if err != nil && !stopped {
			yield(types.User{}, err)
		}
	}
}

// GetUser requires admin.
func (s *UserService) GetUser(ctx context.Context, id int64) (types.User, error) {
	var user types.User
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := auth.RequireUserPrivileges(ctx, types.PrivilegeAdmin); err != nil {
			return err
		}
		var err error
		user, err = s.users.GetByID(ctx, id)
		return err
	})
	return user, err
}

// UpdateUser replaces every mutable field including the privilege set.
// Requires admin.
func (s *UserService) UpdateUser(ctx context.Context, id int64, user types.UserWithoutID) (types.User, error) {
	var updated types.User
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := auth.RequireUserPrivileges(ctx, types.PrivilegeAdmin); err != nil {
			return err
		}
		if err := validateUser(user); err != nil {
			return err
		}
		var err error
		updated, err = s.users.Update(ctx, id, user)
		return err
	})
	return updated, err
}

// DeleteUser reports whether a user was removed. Requires admin.
func (s *UserService) DeleteUser(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := auth.RequireUserPrivileges(ctx, types.PrivilegeAdmin); err != nil {
			return err
		}
		var err error
		deleted, err = s.users.Delete(ctx, id)
		return err
	})
	if err != nil {
		return false, err
	}
	if deleted {
		s.events.publish(ctx, newUserEvent(EventUserDeleted, id, ""))
	}
	return deleted, nil
}

// LinkUserToCashierAccount sets the cashier account reference directly.
// Returns false when the user does not exist. Requires admin.
func (s *UserService) LinkUserToCashierAccount(ctx context.Context, userID, accountID int64) (bool, error) {
	return s.link(ctx, func(ctx context.Context) (bool, error) {
		return s.users.LinkCashierAccount(ctx, userID, accountID)
	})
}

// LinkUserToTransportAccount sets the transport account reference directly.
// Returns false when the user does not exist. Requires admin.
func (s *UserService) LinkUserToTransportAccount(ctx context.Context, userID, accountID int64) (bool, error) {
	return s.link(ctx, func(ctx context.Context) (bool, error) {
		return s.users.LinkTransportAccount(ctx, userID, accountID)
	})
}

func (s *UserService) link(ctx context.Context, fn func(ctx context.Context) (bool, error)) (bool, error) {
	var linked bool
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := auth.RequireUserPrivileges(ctx, types.PrivilegeAdmin); err != nil {
			return err
		}
		var err error
		linked, err = fn(ctx)
		return err
	})
	return linked, err
}

func validateUser(user types.UserWithoutID) error {
	if strings.TrimSpace(user.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidUser)
	}
	for _, p := range user.Privileges {
		if _, err := types.ParsePrivilege(string(p)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidUser, err)
		}
	}
	if user.Privileges.Has(types.PrivilegeCashier) && user.CashierAccountID == nil {
		return fmt.Errorf("%w: cashier privilege requires a cashier account", ErrInvalidUser)
	}
	if user.Privileges.Has(types.PrivilegeFinanzorga) && user.TransportAccountID == nil {
		return fmt.Errorf("%w: finanzorga privilege requires a transport account", ErrInvalidUser)
	}
	return nil
}
