package services

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/stustapay/apiserver/internal/auth"
	"github.com/stustapay/apiserver/internal/store"
	"github.com/stustapay/apiserver/types"
)

func TestCreateUserRequiresAdmin(t *testing.T) {
	f := newFixture()
	cashier := f.seedUser("cashier", "", types.PrivilegeCashier)
	input := types.UserWithoutID{Name: "alice", Privileges: types.Privileges{}}

	if _, err := f.userSvc.CreateUser(context.Background(), input, "pw"); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated without principal, got %v", err)
	}
	if _, err := f.userSvc.CreateUser(asUser(cashier), input, "pw"); !errors.Is(err, auth.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied for cashier, got %v", err)
	}
	if len(f.state.users) != 1 {
		t.Fatalf("expected no user to be created, have %d", len(f.state.users))
	}
}

func TestCreateUserStoresHashedPassword(t *testing.T) {
	f := newFixture()
	admin := f.seedUser("admin", "", types.PrivilegeAdmin)
	description := "door shift"

	created, err := f.userSvc.CreateUser(asUser(admin), types.UserWithoutID{
		Name:        "alice",
		Description: &description,
		Privileges:  types.Privileges{types.PrivilegeAdmin, types.PrivilegeAdmin},
	}, "secret")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("expected id to be assigned")
	}
	if !created.Privileges.Equal(types.Privileges{types.PrivilegeAdmin}) || len(created.Privileges) != 1 {
		t.Fatalf("expected deduplicated privileges, got %v", created.Privileges)
	}

	stored := f.state.users[created.ID]
	if stored.hash == "" || stored.hash == "secret" {
		t.Fatalf("expected bcrypt digest, got %q", stored.hash)
	}
	if !f.hasher.Verify("secret", stored.hash) {
		t.Fatalf("stored digest does not verify")
	}
	if len(f.bus.channels) != 1 || f.bus.channels[0] != UserEventsChannel {
		t.Fatalf("expected one user event, got %v", f.bus.channels)
	}
}

func TestCreateUserWithoutPasswordStoresNoDigest(t *testing.T) {
	f := newFixture()
	admin := f.seedUser("admin", "", types.PrivilegeAdmin)

	created, err := f.userSvc.CreateUser(asUser(admin), types.UserWithoutID{Name: "bob", Privileges: types.Privileges{}}, "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if f.state.users[created.ID].hash != "" {
		t.Fatalf("expected empty digest")
	}
}

func TestCreateUserRejectsInvalidInput(t *testing.T) {
	f := newFixture()
	admin := f.seedUser("admin", "", types.PrivilegeAdmin)

	cases := []struct {
		name string
		user types.UserWithoutID
	}{
		{"blank name", types.UserWithoutID{Name: "  "}},
		{"unknown privilege", types.UserWithoutID{Name: "x", Privileges: types.Privileges{"root"}}},
		{"cashier without account", types.UserWithoutID{Name: "x", Privileges: types.Privileges{types.PrivilegeCashier}}},
		{"finanzorga without account", types.UserWithoutID{Name: "x", Privileges: types.Privileges{types.PrivilegeFinanzorga}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.userSvc.CreateUser(asUser(admin), tc.user, ""); !errors.Is(err, ErrInvalidUser) {
				t.Fatalf("expected ErrInvalidUser, got %v", err)
			}
		})
	}
}

func TestCreateUserNoAuthBootstrapsAdmin(t *testing.T) {
	f := newFixture()

	created, err := f.userSvc.CreateUserNoAuth(context.Background(), types.UserWithoutID{
		Name:       "root",
		Privileges: types.Privileges{types.PrivilegeAdmin},
	}, "pw")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if !created.Privileges.Has(types.PrivilegeAdmin) {
		t.Fatalf("expected admin privilege, got %v", created.Privileges)
	}
}

func TestCreateUserWithTagFirstWriterWins(t *testing.T) {
	f := newFixture()
	admin := f.seedUser("admin", "", types.PrivilegeAdmin)
	tagID := f.state.addTag(0xCAFE)

	first, err := f.userSvc.CreateUserWithTag(asUser(admin), types.NewUser{Name: "first", UserTag: 0xCAFE})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if first.UserTagID == nil || *first.UserTagID != tagID {
		t.Fatalf("expected tag %d bound, got %v", tagID, first.UserTagID)
	}
	if len(first.Privileges) != 0 {
		t.Fatalf("expected no privileges, got %v", first.Privileges)
	}

	second, err := f.userSvc.CreateUserWithTag(asUser(admin), types.NewUser{Name: "second", UserTag: 0xCAFE})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.ID != first.ID || second.Name != "first" {
		t.Fatalf("expected existing user %d, got %+v", first.ID, second)
	}
	if len(f.state.users) != 2 {
		t.Fatalf("expected exactly one tag user, have %d users", len(f.state.users))
	}
	if len(f.bus.payloads) != 1 {
		t.Fatalf("expected a single created event, got %d", len(f.bus.payloads))
	}
}

func TestCreateUserWithTagLocksTheTag(t *testing.T) {
	f := newFixture()
	admin := f.seedUser("admin", "", types.PrivilegeAdmin)
	f.state.addTag(7)
	f.state.addTag(8)

	if _, err := f.userSvc.CreateUserWithTag(asUser(admin), types.NewUser{Name: "seven", UserTag: 7}); err != nil {
		t.Fatalf("create from tag: %v", err)
	}
	if _, err := f.userSvc.CreateUserWithTag(asUser(admin), types.NewUser{Name: "again", UserTag: 7}); err != nil {
		t.Fatalf("create from tag again: %v", err)
	}
	if _, err := f.userSvc.CreateCashier(atTerminal(types.Terminal{ID: 1}, &admin), types.NewUser{Name: "eight", UserTag: 8}); err != nil {
		t.Fatalf("create cashier: %v", err)
	}

	if !slices.Equal(f.tags.locked, []int64{7, 7, 8}) {
		t.Fatalf("expected every tag scan to lock its tag, got %v", f.tags.locked)
	}
}

func TestCreateUserWithUnknownTag(t *testing.T) {
	f := newFixture()
	admin := f.seedUser("admin", "", types.PrivilegeAdmin)

	_, err := f.userSvc.CreateUserWithTag(asUser(admin), types.NewUser{Name: "x", UserTag: 42})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPromoteToCashierCreatesOneAccount(t *testing.T) {
	f := newFixture()
	admin := f.seedUser("admin", "", types.PrivilegeAdmin)
	bob := f.seedUser("bob", "")
	accountsBefore := len(f.state.accounts)

	promoted, err := f.userSvc.PromoteToCashier(asUser(admin), bob.ID)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !promoted.Privileges.Has(types.PrivilegeCashier) || promoted.CashierAccountID == nil {
		t.Fatalf("expected cashier with account, got %+v", promoted)
	}
	if name := f.state.accounts[*promoted.CashierAccountID]; name != "Cashier account for bob" {
		t.Fatalf("unexpected account name %q", name)
	}

	again, err := f.userSvc.PromoteToCashier(asUser(admin), bob.ID)
	if err != nil {
		t.Fatalf("promote again: %v", err)
	}
	if *again.CashierAccountID != *promoted.CashierAccountID {
		t.Fatalf("expected unchanged account, got %d", *again.CashierAccountID)
	}
	if got := len(f.state.accounts) - accountsBefore; got != 1 {
		t.Fatalf("expected exactly one account, got %d", got)
	}
}

func TestPromoteToFinanzorgaCreatesTransportAccount(t *testing.T) {
	f := newFixture()
	admin := f.seedUser("admin", "", types.PrivilegeAdmin)
	carol := f.seedUser("carol", "", types.PrivilegeCashier)

	promoted, err := f.userSvc.PromoteToFinanzorga(asUser(admin), carol.ID)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !promoted.Privileges.Equal(types.Privileges{types.PrivilegeCashier, types.PrivilegeFinanzorga}) {
		t.Fatalf("unexpected privileges %v", promoted.Privileges)
	}
	if promoted.TransportAccountID == nil {
		t.Fatalf("expected transport account")
	}
	if name := f.state.accounts[*promoted.TransportAccountID]; name != "Transport account for finanzorga carol" {
		t.Fatalf("unexpected account name %q", name)
	}
	if *promoted.CashierAccountID != *carol.CashierAccountID {
		t.Fatalf("cashier account must be kept")
	}

	var event UserEvent
	if err := json.Unmarshal(f.bus.payloads[len(f.bus.payloads)-1], &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Type != EventUserPromoted || event.Privilege != types.PrivilegeFinanzorga || event.UserID != carol.ID {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestPromoteRequiresAdminAndExistingUser(t *testing.T) {
	f := newFixture()
	admin := f.seedUser("admin", "", types.PrivilegeAdmin)
	finanzorga := f.seedUser("fo", "", types.PrivilegeFinanzorga)
	bob := f.seedUser("bob", "")

	if _, err := f.userSvc.PromoteToCashier(asUser(finanzorga), bob.ID); !errors.Is(err, auth.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if _, err := f.userSvc.PromoteToCashier(asUser(admin), 9999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPromoteRollsBackAccountOnFailure(t *testing.T) {
	f := newFixture()
	admin := f.seedUser("admin", "", types.PrivilegeAdmin)
	bob := f.seedUser("bob", "")
	accountsBefore := len(f.state.accounts)
	f.users.updateErr = errors.New("connection reset")

	if _, err := f.userSvc.PromoteToCashier(asUser(admin), bob.ID); err == nil {
		t.Fatalf("expected error")
	}
	if len(f.state.accounts) != accountsBefore {
		t.Fatalf("expected account creation to be rolled back")
	}
	if f.state.users[bob.ID].user.Privileges.Has(types.PrivilegeCashier) {
		t.Fatalf("expected privilege not to be granted")
	}
}

func TestCreateFinanzorgaFromTerminal(t *testing.T) {
	f := newFixture()
	admin := f.seedUser("admin", "", types.PrivilegeAdmin)
	f.state.addTag(77)
	terminal := types.Terminal{ID: 1, Name: "till"}

	user, err := f.userSvc.CreateFinanzorga(atTerminal(terminal, &admin), types.NewUser{Name: "dana", UserTag: 77})
	if err != nil {
		t.Fatalf("create finanzorga: %v", err)
	}
	if !user.Privileges.Equal(types.Privileges{types.PrivilegeCashier, types.PrivilegeFinanzorga}) {
		t.Fatalf("unexpected privileges %v", user.Privileges)
	}
	if user.CashierAccountID == nil || user.TransportAccountID == nil {
		t.Fatalf("expected both accounts, got %+v", user)
	}
}

func TestCreateCashierFromTerminalIsIdempotent(t *testing.T) {
	f := newFixture()
	admin := f.seedUser("admin", "", types.PrivilegeAdmin)
	f.state.addTag(5)
	ctx := atTerminal(types.Terminal{ID: 1}, &admin)

	first, err := f.userSvc.CreateCashier(ctx, types.NewUser{Name: "erin", UserTag: 5})
	if err != nil {
		t.Fatalf("create cashier: %v", err)
	}
	second, err := f.userSvc.CreateCashier(ctx, types.NewUser{Name: "other", UserTag: 5})
	if err != nil {
		t.Fatalf("create cashier again: %v", err)
	}
	if second.ID != first.ID || *second.CashierAccountID != *first.CashierAccountID {
		t.Fatalf("expected the same cashier, got %+v and %+v", first, second)
	}
}

func TestCreateCashierRequiresTerminalWithAdmin(t *testing.T) {
	f := newFixture()
	admin := f.seedUser("admin", "", types.PrivilegeAdmin)
	cashier := f.seedUser("cashier", "", types.PrivilegeCashier)
	f.state.addTag(5)
	input := types.NewUser{Name: "x", UserTag: 5}

	cases := []struct {
		name string
		ctx  context.Context
	}{
		{"user token only", asUser(admin)},
		{"terminal without user", atTerminal(types.Terminal{ID: 1}, nil)},
		{"terminal with cashier", atTerminal(types.Terminal{ID: 1}, &cashier)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.userSvc.CreateCashier(tc.ctx, input); !errors.Is(err, auth.ErrPermissionDenied) {
				t.Fatalf("expected ErrPermissionDenied, got %v", err)
			}
		})
	}
}

func TestUpdateUserReplacesAllFields(t *testing.T) {
	f := newFixture()
	admin := f.seedUser("admin", "", types.PrivilegeAdmin)
	bob := f.seedUser("bob", "", types.PrivilegeCashier)
	description := "old"
	bob.Description = &description
	f.state.users[bob.ID] = memUser{user: bob}

	updated, err := f.userSvc.UpdateUser(asUser(admin), bob.ID, types.UserWithoutID{
		Name:       "robert",
		Privileges: types.Privileges{types.PrivilegeAdmin},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "robert" || updated.Description != nil || updated.CashierAccountID != nil {
		t.Fatalf("expected full replacement, got %+v", updated)
	}
	if !updated.Privileges.Equal(types.Privileges{types.PrivilegeAdmin}) {
		t.Fatalf("expected privileges replaced, got %v", updated.Privileges)
	}
}

func TestUpdateMissingUser(t *testing.T) {
	f := newFixture()
	admin := f.seedUser("admin", "", types.PrivilegeAdmin)

	_, err := f.userSvc.UpdateUser(asUser(admin), 404, types.UserWithoutID{Name: "x"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteUser(t *testing.T) {
	f := newFixture()
	admin := f.seedUser("admin", "", types.PrivilegeAdmin)
	bob := f.seedUser("bob", "")

	deleted, err := f.userSvc.DeleteUser(asUser(admin), bob.ID)
	if err != nil || !deleted {
		t.Fatalf("expected delete, got %v %v", deleted, err)
	}
	deleted, err = f.userSvc.DeleteUser(asUser(admin), bob.ID)
	if err != nil || deleted {
		t.Fatalf("expected false for missing user, got %v %v", deleted, err)
	}
	if _, err := f.userSvc.GetUser(asUser(admin), bob.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListUsers(t *testing.T) {
	f := newFixture()
	admin := f.seedUser("admin", "", types.PrivilegeAdmin)
	f.seedUser("bob", "")
	f.seedUser("carol", "")

	var names []string
	for user, err := range f.userSvc.ListUsers(asUser(admin)) {
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		names = append(names, user.Name)
	}
	if len(names) != 3 {
		t.Fatalf("expected 3 users, got %v", names)
	}

	count := 0
	for _, err := range f.userSvc.ListUsers(asUser(admin)) {
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		count++
		break
	}
	if count != 1 {
		t.Fatalf("expected early stop, got %d", count)
	}
}

func TestListUsersRequiresAdmin(t *testing.T) {
	f := newFixture()
	bob := f.seedUser("bob", "")

	var errs []error
	for _, err := range f.userSvc.ListUsers(asUser(bob)) {
		errs = append(errs, err)
	}
	if len(errs) != 1 || !errors.Is(errs[0], auth.ErrPermissionDenied) {
		t.Fatalf("expected a single permission error, got %v", errs)
	}
}

func TestLinkAccounts(t *testing.T) {
	f := newFixture()
	admin := f.seedUser("admin", "", types.PrivilegeAdmin)
	bob := f.seedUser("bob", "")

	linked, err := f.userSvc.LinkUserToCashierAccount(asUser(admin), bob.ID, 500)
	if err != nil || !linked {
		t.Fatalf("expected link, got %v %v", linked, err)
	}
	if got := f.state.users[bob.ID].user.CashierAccountID; got == nil || *got != 500 {
		t.Fatalf("unexpected cashier account %v", got)
	}
	linked, err = f.userSvc.LinkUserToTransportAccount(asUser(admin), 9999, 500)
	if err != nil || linked {
		t.Fatalf("expected false for missing user, got %v %v", linked, err)
	}
}

func TestEventPublishFailureDoesNotFailCaller(t *testing.T) {
	f := newFixture()
	admin := f.seedUser("admin", "", types.PrivilegeAdmin)
	f.bus.err = errors.New("broker down")

	if _, err := f.userSvc.CreateUser(asUser(admin), types.UserWithoutID{Name: "x"}, ""); err != nil {
		t.Fatalf("expected success despite bus error, got %v", err)
	}
}

func TestNilEventPublisherDropsEvents(t *testing.T) {
	var p *EventPublisher
	p.publish(context.Background(), newUserEvent(EventUserDeleted, 1, ""))
}
