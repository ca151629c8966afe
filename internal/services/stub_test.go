package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strconv"

	"github.com/google/uuid"
	"github.com/stustapay/apiserver/internal/auth"
	"github.com/stustapay/apiserver/internal/store"
	"github.com/stustapay/apiserver/types"
)

// memState is an in-memory stand-in for the database. stubTx snapshots it
// before every transaction and restores the snapshot when fn fails.
type memState struct {
	nextID   int64
	users    map[int64]memUser
	tags     map[int64]int64 // uid -> tag id
	accounts map[int64]string
	sessions map[int64]int64 // session id -> user id
	tills    map[int64]types.Terminal
	tillRegs map[uuid.UUID]int64
}

type memUser struct {
	user types.User
	hash string
}

func newMemState() *memState {
	return &memState{
		users:    map[int64]memUser{},
		tags:     map[int64]int64{},
		accounts: map[int64]string{},
		sessions: map[int64]int64{},
		tills:    map[int64]types.Terminal{},
		tillRegs: map[uuid.UUID]int64{},
	}
}

func (m *memState) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memState) clone() *memState {
	out := *m
	out.users = make(map[int64]memUser, len(m.users))
	for id, u := range m.users {
		u.user.Privileges = slices.Clone(u.user.Privileges)
		out.users[id] = u
	}
	out.tags = maps.Clone(m.tags)
	out.accounts = maps.Clone(m.accounts)
	out.sessions = maps.Clone(m.sessions)
	out.tills = maps.Clone(m.tills)
	out.tillRegs = maps.Clone(m.tillRegs)
	return &out
}

func (m *memState) addTag(uid int64) int64 {
	id := m.id()
	m.tags[uid] = id
	return id
}

func (m *memState) addTill() uuid.UUID {
	reg := uuid.New()
	id := m.id()
	m.tills[id] = types.Terminal{ID: id, Name: "till " + strconv.FormatInt(id, 10)}
	m.tillRegs[reg] = id
	return reg
}

func notFoundErr(entity string, id any) error {
	return &store.NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

type stubTx struct {
	state *memState
	calls int
}

func (t *stubTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls++
	snapshot := t.state.clone()
	if err := fn(ctx); err != nil {
		*t.state = *snapshot
		return err
	}
	return nil
}

type stubUserRepo struct {
	state     *memState
	updateErr error
}

func (r *stubUserRepo) GetByID(ctx context.Context, id int64) (types.User, error) {
	u, ok := r.state.users[id]
	if !ok {
		return types.User{}, notFoundErr("user", id)
	}
	return copyUser(u.user), nil
}

func (r *stubUserRepo) GetByTagID(ctx context.Context, tagID int64) (types.User, error) {
	for _, u := range r.state.users {
		if u.user.UserTagID != nil && *u.user.UserTagID == tagID {
			return copyUser(u.user), nil
		}
	}
	return types.User{}, notFoundErr("user", tagID)
}

func (r *stubUserRepo) GetCredentialsByName(ctx context.Context, name string) (types.UserCredentials, error) {
	for _, u := range r.state.users {
		if u.user.Name == name {
			return types.UserCredentials{User: copyUser(u.user), HashedPassword: u.hash}, nil
		}
	}
	return types.UserCredentials{}, notFoundErr("user", name)
}

func (r *stubUserRepo) LockByID(ctx context.Context, id int64) error {
	if _, ok := r.state.users[id]; !ok {
		return notFoundErr("user", id)
	}
	return nil
}

func (r *stubUserRepo) Create(ctx context.Context, user types.UserWithoutID, hashedPassword string) (types.User, error) {
	for _, u := range r.state.users {
		if u.user.Name == user.Name {
			return types.User{}, errors.New("duplicate name")
		}
	}
	created := types.User{ID: r.state.id(), UserWithoutID: user}
	created.Privileges = user.Privileges.Normalize()
	r.state.users[created.ID] = memUser{user: created, hash: hashedPassword}
	return copyUser(created), nil
}

func (r *stubUserRepo) Update(ctx context.Context, id int64, user types.UserWithoutID) (types.User, error) {
	if r.updateErr != nil {
		return types.User{}, r.updateErr
	}
	existing, ok := r.state.users[id]
	if !ok {
		return types.User{}, notFoundErr("user", id)
	}
	updated := types.User{ID: id, UserWithoutID: user}
	updated.Privileges = user.Privileges.Normalize()
	r.state.users[id] = memUser{user: updated, hash: existing.hash}
	return copyUser(updated), nil
}

func (r *stubUserRepo) Delete(ctx context.Context, id int64) (bool, error) {
	if _, ok := r.state.users[id]; !ok {
		return false, nil
	}
	delete(r.state.users, id)
	return true, nil
}

func (r *stubUserRepo) List(ctx context.Context) iter.Seq2[types.User, error] {
	return func(yield func(types.User, error) bool) {
		for _, id := range slices.Sorted(maps.Keys(r.state.users)) {
			if !yield(copyUser(r.state.users[id].user), nil) {
				return
			}
		}
	}
}

func (r *stubUserRepo) LinkCashierAccount(ctx context.Context, userID, accountID int64) (bool, error) {
	u, ok := r.state.users[userID]
	if !ok {
		return false, nil
	}
	u.user.CashierAccountID = &accountID
	r.state.users[userID] = u
	return true, nil
}

func (r *stubUserRepo) LinkTransportAccount(ctx context.Context, userID, accountID int64) (bool, error) {
	u, ok := r.state.users[userID]
	if !ok {
		return false, nil
	}
	u.user.TransportAccountID = &accountID
	r.state.users[userID] = u
	return true, nil
}

func copyUser(u types.User) types.User {
	u.Privileges = slices.Clone(u.Privileges)
	return u
}

type stubTagRepo struct {
	state  *memState
	locked []int64
}

func (r *stubTagRepo) LockByUID(ctx context.Context, uid int64) (int64, error) {
	id, err := r.GetIDByUID(ctx, uid)
	if err != nil {
		return 0, err
	}
	r.locked = append(r.locked, uid)
	return id, nil
}

func (r *stubTagRepo) GetIDByUID(ctx context.Context, uid int64) (int64, error) {
	id, ok := r.state.tags[uid]
	if !ok {
		return 0, notFoundErr("user_tag", uid)
	}
	return id, nil
}

type stubAccountRepo struct{ state *memState }

func (r *stubAccountRepo) Create(ctx context.Context, accountType types.AccountType, name string) (int64, error) {
	id := r.state.id()
	r.state.accounts[id] = name
	return id, nil
}

type stubSessionRepo struct{ state *memState }

func (r *stubSessionRepo) Create(ctx context.Context, userID int64) (types.Session, error) {
	id := r.state.id()
	r.state.sessions[id] = userID
	return types.Session{ID: id, UserID: userID}, nil
}

func (r *stubSessionRepo) Get(ctx context.Context, userID, sessionID int64) (types.Session, error) {
	owner, ok := r.state.sessions[sessionID]
	if !ok || owner != userID {
		return types.Session{}, notFoundErr("session", sessionID)
	}
	return types.Session{ID: sessionID, UserID: userID}, nil
}

func (r *stubSessionRepo) Delete(ctx context.Context, userID, sessionID int64) (bool, error) {
	owner, ok := r.state.sessions[sessionID]
	if !ok || owner != userID {
		return false, nil
	}
	delete(r.state.sessions, sessionID)
	return true, nil
}

type stubTillRepo struct{ state *memState }

func (r *stubTillRepo) Register(ctx context.Context, registrationUUID, sessionUUID uuid.UUID) (types.Terminal, error) {
	id, ok := r.state.tillRegs[registrationUUID]
	if !ok {
		return types.Terminal{}, notFoundErr("till", registrationUUID)
	}
	till := r.state.tills[id]
	till.SessionUUID = sessionUUID
	r.state.tills[id] = till
	return till, nil
}

func (r *stubTillRepo) GetBySession(ctx context.Context, tillID int64, sessionUUID uuid.UUID) (types.Terminal, error) {
	till, ok := r.state.tills[tillID]
	if !ok || till.SessionUUID != sessionUUID {
		return types.Terminal{}, notFoundErr("till", tillID)
	}
	return till, nil
}

func (r *stubTillRepo) SetActiveUser(ctx context.Context, tillID int64, userID *int64) error {
	till, ok := r.state.tills[tillID]
	if !ok {
		return notFoundErr("till", tillID)
	}
	till.ActiveUserID = userID
	r.state.tills[tillID] = till
	return nil
}

type stubBus struct {
	channels []string
	payloads [][]byte
	err      error
}

func (b *stubBus) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	b.channels = append(b.channels, channel)
	b.payloads = append(b.payloads, data)
	return strconv.Itoa(len(b.payloads)), nil
}

// fixture wires every service against one memState.
type fixture struct {
	state     *memState
	tx        *stubTx
	users     *stubUserRepo
	tags      *stubTagRepo
	bus       *stubBus
	tokens    *auth.TokenService
	hasher    *auth.PasswordHasher
	userSvc   *UserService
	session   *SessionService
	terminals *TerminalService
}

func newFixture() *fixture {
	state := newMemState()
	tx := &stubTx{state: state}
	users := &stubUserRepo{state: state}
	tags := &stubTagRepo{state: state}
	bus := &stubBus{}
	tokens, err := auth.NewTokenService("test-secret")
	if err != nil {
		panic(err)
	}
	hasher := auth.NewPasswordHasher(4)

	return &fixture{
		state:     state,
		tx:        tx,
		users:     users,
		tags:      tags,
		bus:       bus,
		tokens:    tokens,
		hasher:    hasher,
		userSvc:   NewUserService(tx, users, tags, &stubAccountRepo{state: state}, hasher, NewEventPublisher(bus)),
		session:   NewSessionService(tx, users, &stubSessionRepo{state: state}, hasher, tokens),
		terminals: NewTerminalService(tx, &stubTillRepo{state: state}, users, tags, tokens),
	}
}

// seedUser stores a user directly, bypassing privilege checks.
func (f *fixture) seedUser(name, password string, privileges ...types.Privilege) types.User {
	var hash string
	if password != "" {
		var err error
		hash, err = f.hasher.Hash(password)
		if err != nil {
			panic(err)
		}
	}
	user := types.UserWithoutID{Name: name, Privileges: types.Privileges(privileges)}
	if user.Privileges.Has(types.PrivilegeCashier) {
		id, _ := (&stubAccountRepo{state: f.state}).Create(context.Background(), types.AccountTypeInternal, "seed cashier")
		user.CashierAccountID = &id
	}
	if user.Privileges.Has(types.PrivilegeFinanzorga) {
		id, _ := (&stubAccountRepo{state: f.state}).Create(context.Background(), types.AccountTypeInternal, "seed transport")
		user.TransportAccountID = &id
	}
	created, err := f.users.Create(context.Background(), user, hash)
	if err != nil {
		panic(err)
	}
	return created
}

func asUser(user types.User) context.Context {
	return auth.WithPrincipal(context.Background(), auth.Principal{User: &user})
}

func atTerminal(terminal types.Terminal, user *types.User) context.Context {
	return auth.WithPrincipal(context.Background(), auth.Principal{Terminal: &terminal, User: user})
}
