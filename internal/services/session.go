package services

import (
	"context"
	"fmt"

	"github.com/stustapay/apiserver/internal/auth"
	"github.com/stustapay/apiserver/internal/logging"
	"github.com/stustapay/apiserver/internal/metrics"
	"github.com/stustapay/apiserver/types"
)

// SessionRepository defines persistence operations for login sessions.
type SessionRepository interface {
	Create(ctx context.Context, userID int64) (types.Session, error)
	Get(ctx context.Context, userID, sessionID int64) (types.Session, error)
	Delete(ctx context.Context, userID, sessionID int64) (bool, error)
}

// UserTokens is the token side of the auth collaborator.
type UserTokens interface {
	CreateUserAccessToken(payload auth.UserTokenPayload) (string, error)
	DecodeUserToken(token string) (auth.UserTokenPayload, bool)
}

// SessionService logs users in and out.
type SessionService struct {
	tx       Transactor
	users    UserRepository
	sessions SessionRepository
	hasher   PasswordHasher
	tokens   UserTokens
}

func NewSessionService(
	tx Transactor,
	users UserRepository,
	sessions SessionRepository,
	hasher PasswordHasher,
	tokens UserTokens,
) *SessionService {
	return &SessionService{
		tx:       tx,
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		tokens:   tokens,
	}
}

// Login returns nil without an error for an unknown name and for a wrong
// password alike, and runs one password comparison on either path. On
// success a new session is stored and a token for it is returned.
func (s *SessionService) Login(ctx context.Context, username, password string) (*types.LoginResult, error) {
	var result *types.LoginResult
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		creds, err := s.users.GetCredentialsByName(ctx, username)
		if err != nil {
			if !isNotFound(err) {
				return err
			}
			// unknown names pay for a comparison too
			s.hasher.Verify(password, "")
			return nil
		}
		if !s.hasher.Verify(password, creds.HashedPassword) {
			return nil
		}

		session, err := s.sessions.Create(ctx, creds.User.ID)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		token, err := s.tokens.CreateUserAccessToken(auth.UserTokenPayload{
			UserID:    creds.User.ID,
			SessionID: session.ID,
		})
		if err != nil {
			return fmt.Errorf("create token: %w", err)
		}
		result = &types.LoginResult{User: creds.User, Token: token}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result == nil {
		metrics.LoginsTotal.WithLabelValues("failure").Inc()
		return nil, nil
	}
	metrics.LoginsTotal.WithLabelValues("success").Inc()
	logging.Get().Info().Int64("user_id", result.User.ID).Msg("user logged in")
	return result, nil
}

// Logout ends the session referenced by token. It returns false when the
// token does not decode, belongs to another user or its session is already
// gone. Requires an authenticated user.
func (s *SessionService) Logout(ctx context.Context, token string) (bool, error) {
	var deleted bool
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := auth.RequireUserPrivileges(ctx)
		if err != nil {
			return err
		}
		payload, ok := s.tokens.DecodeUserToken(token)
		if !ok || payload.UserID != current.ID {
			return nil
		}
		deleted, err = s.sessions.Delete(ctx, current.ID, payload.SessionID)
		return err
	})
	if err != nil {
		return false, err
	}

	if deleted {
		metrics.LogoutsTotal.WithLabelValues("success").Inc()
	} else {
		metrics.LogoutsTotal.WithLabelValues("rejected").Inc()
	}
	return deleted, nil
}

// AuthenticateUser resolves a user token into the user it was issued for.
// The token's session must still exist.
func (s *SessionService) AuthenticateUser(ctx context.Context, token string) (types.User, error) {
	payload, ok := s.tokens.DecodeUserToken(token)
	if !ok {
		return types.User{}, auth.ErrUnauthenticated
	}

	var user types.User
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.sessions.Get(ctx, payload.UserID, payload.SessionID); err != nil {
			if isNotFound(err) {
				return auth.ErrUnauthenticated
			}
			return err
		}
		var err error
		user, err = s.users.GetByID(ctx, payload.UserID)
		if isNotFound(err) {
			return auth.ErrUnauthenticated
		}
		return err
	})
	return user, err
}

// GetCurrentUser returns the calling user.
func (s *SessionService) GetCurrentUser(ctx context.Context) (types.User, error) {
	return auth.RequireUserPrivileges(ctx)
}
