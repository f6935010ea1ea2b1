package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"comanda/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, store)
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
	if store.updates == 0 {
		t.Fatalf("expected the upgraded hash to be written back")
	}
}

func TestCreateOperatorStoresHashes(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, store)

	user, err := manager.CreateOperator(context.Background(), domain.UserCreateRequest{
		Username: "Gerente",
		Password: "pass1234",
		Role:     domain.RoleAdmin,
		PIN:      "4071",
	})
	if err != nil {
		t.Fatalf("create operator failed: %v", err)
	}
	if user.Username != "gerente" || !user.HasPIN {
		t.Fatalf("unexpected summary %+v", user)
	}

	saved := store.users["gerente"]
	if saved.Password == "pass1234" || !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected password to be hashed, got %s", saved.Password)
	}
	if saved.PINHash == "4071" || !strings.HasPrefix(saved.PINHash, "$2") {
		t.Fatalf("expected pin to be hashed, got %s", saved.PINHash)
	}

	if !manager.VerifyPIN("gerente", "4071") {
		t.Fatalf("expected pin to verify")
	}
	if manager.VerifyPIN("gerente", "4072") {
		t.Fatalf("expected wrong pin to fail")
	}
	if !manager.IsActiveAdmin(context.Background(), "gerente") {
		t.Fatalf("expected new admin to be active")
	}

	if _, err := manager.CreateOperator(context.Background(), domain.UserCreateRequest{Username: "gerente", Password: "pass1234"}); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestCreateOperatorValidation(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, &userStoreStub{})

	cases := []domain.UserCreateRequest{
		{Username: "abc", Password: "pass1234"},
		{Username: "with space", Password: "pass1234"},
		{Username: "caixa01", Password: "123"},
		{Username: "caixa01", Password: "pass1234", Role: "owner"},
		{Username: "chefe01", Password: "pass1234", Role: domain.RoleAdmin},
		{Username: "chefe01", Password: "pass1234", Role: domain.RoleAdmin, PIN: "1234"},
	}
	for _, req := range cases {
		if _, err := manager.CreateOperator(context.Background(), req); !errors.Is(err, ErrInvalidAccount) {
			t.Fatalf("expected ErrInvalidAccount for %+v, got %v", req, err)
		}
	}
}

func TestInactiveAdminIsRejected(t *testing.T) {
	pinHash, _ := hashPassword("4071")
	store := &userStoreStub{users: map[string]domain.UserAccount{
		"former": {Username: "former", Password: "secret99", PINHash: pinHash, Role: domain.RoleAdmin, Active: false},
	}}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, store)

	if manager.IsActiveAdmin(context.Background(), "former") {
		t.Fatalf("expected inactive admin to be rejected")
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "former", Password: "secret99"}); !errors.Is(err, ErrInactiveAccount) {
		t.Fatalf("expected ErrInactiveAccount, got %v", err)
	}
}

func TestEnsureAdminBootstrapsOnce(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, store)

	if err := manager.EnsureAdmin(context.Background(), "admin", "", ""); err == nil {
		t.Fatalf("expected missing bootstrap credentials to fail")
	}
	if err := manager.EnsureAdmin(context.Background(), "admin", "first-pass", "7391"); err != nil {
		t.Fatalf("ensure admin failed: %v", err)
	}
	if err := manager.EnsureAdmin(context.Background(), "admin", "other-pass", "8402"); err != nil {
		t.Fatalf("second ensure admin failed: %v", err)
	}
	if !manager.VerifyPIN("admin", "7391") {
		t.Fatalf("expected the first bootstrap pin to be kept")
	}
	if len(store.users) != 1 {
		t.Fatalf("expected exactly one stored user, got %d", len(store.users))
	}
}

func TestValidatePINStrength(t *testing.T) {
	for _, pin := range []string{"123", "123456789", "12a4", "1111", "1234", "9876", "1212"} {
		if err := ValidatePINStrength(pin); err == nil {
			t.Fatalf("expected %q to be rejected", pin)
		}
	}
	for _, pin := range []string{"4071", "739154", "2580"} {
		if err := ValidatePINStrength(pin); err != nil {
			t.Fatalf("expected %q to pass, got %v", pin, err)
		}
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	manager := NewAuthManager(context.Background(), "secret-a", time.Hour, nil)
	other := NewAuthManager(context.Background(), "secret-b", time.Hour, nil)

	token, err := other.sign("admin", domain.RoleAdmin, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := manager.ParseToken(token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	own, _ := manager.sign("admin", domain.RoleAdmin, time.Now().Add(time.Hour))
	actor, err := manager.ParseToken(own)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}
}
