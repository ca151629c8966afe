package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stustapay/apiserver/internal/auth"
	"github.com/stustapay/apiserver/internal/logging"
	"github.com/stustapay/apiserver/types"
)

// TillRepository defines the terminal side of till persistence.
type TillRepository interface {
	Register(ctx context.Context, registrationUUID, sessionUUID uuid.UUID) (types.Terminal, error)
	GetBySession(ctx context.Context, tillID int64, sessionUUID uuid.UUID) (types.Terminal, error)
	SetActiveUser(ctx context.Context, tillID int64, userID *int64) error
}

// TerminalTokens is the terminal token side of the auth collaborator.
type TerminalTokens interface {
	CreateTerminalAccessToken(payload auth.TerminalTokenPayload) (string, error)
	DecodeTerminalToken(token string) (auth.TerminalTokenPayload, bool)
}

// terminalPrivileges are the privileges that allow a user to operate a till.
var terminalPrivileges = []types.Privilege{
	types.PrivilegeAdmin,
	types.PrivilegeFinanzorga,
	types.PrivilegeCashier,
}

// TerminalService registers tills and tracks the user logged in at each.
type TerminalService struct {
	tx     Transactor
	tills  TillRepository
	users  UserRepository
	tags   UserTagRepository
	tokens TerminalTokens
}

func NewTerminalService(
	tx Transactor,
	tills TillRepository,
	users UserRepository,
	tags UserTagRepository,
	tokens TerminalTokens,
) *TerminalService {
	return &TerminalService{
		tx:     tx,
		tills:  tills,
		users:  users,
		tags:   tags,
		tokens: tokens,
	}
}

// RegisterTerminal binds a device to the till holding registrationUUID and
// returns the terminal token. Registering again invalidates older tokens.
func (s *TerminalService) RegisterTerminal(ctx context.Context, registrationUUID uuid.UUID) (string, types.Terminal, error) {
	var terminal types.Terminal
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		terminal, err = s.tills.Register(ctx, registrationUUID, uuid.New())
		return err
	})
	if err != nil {
		return "", types.Terminal{}, err
	}

	token, err := s.tokens.CreateTerminalAccessToken(auth.TerminalTokenPayload{
		TillID:      terminal.ID,
		SessionUUID: terminal.SessionUUID,
	})
	if err != nil {
		return "", types.Terminal{}, fmt.Errorf("create terminal token: %w", err)
	}
	logging.Get().Info().Int64("till_id", terminal.ID).Msg("terminal registered")
	return token, terminal, nil
}

// AuthenticateTerminal resolves a terminal token into the till and the user
// logged in there, if any.
func (s *TerminalService) AuthenticateTerminal(ctx context.Context, token string) (auth.Principal, error) {
	payload, ok := s.tokens.DecodeTerminalToken(token)
	if !ok {
		return auth.Principal{}, auth.ErrUnauthenticated
	}

	var principal auth.Principal
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		terminal, err := s.tills.GetBySession(ctx, payload.TillID, payload.SessionUUID)
		if err != nil {
			if isNotFound(err) {
				return auth.ErrUnauthenticated
			}
			return err
		}
		principal.Terminal = &terminal
		if terminal.ActiveUserID == nil {
			return nil
		}
		user, err := s.users.GetByID(ctx, *terminal.ActiveUserID)
		if err != nil {
			return err
		}
		principal.User = &user
		return nil
	})
	if err != nil {
		return auth.Principal{}, err
	}
	return principal, nil
}

// LoginUser logs the user bound to the scanned tag in at the calling till.
// The user must be allowed to operate a till.
func (s *TerminalService) LoginUser(ctx context.Context, userTagUID int64) (types.User, error) {
	var user types.User
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		terminal, err := auth.RequireTerminalDevice(ctx)
		if err != nil {
			return err
		}
		tagID, err := s.tags.GetIDByUID(ctx, userTagUID)
		if err != nil {
			return err
		}
		user, err = s.users.GetByTagID(ctx, tagID)
		if err != nil {
			return err
		}
		if !user.Privileges.HasAny(terminalPrivileges...) {
			return auth.ErrPermissionDenied
		}
		return s.tills.SetActiveUser(ctx, terminal.ID, &user.ID)
	})
	if err != nil {
		return types.User{}, err
	}
	return user, nil
}

// LogoutUser clears the user logged in at the calling till.
func (s *TerminalService) LogoutUser(ctx context.Context) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		terminal, err := auth.RequireTerminalDevice(ctx)
		if err != nil {
			return err
		}
		return s.tills.SetActiveUser(ctx, terminal.ID, nil)
	})
}
