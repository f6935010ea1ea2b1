package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"comanda/internal/domain"
	"comanda/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrInvalidAccount     = errors.New("invalid account")
	ErrAccountExists      = errors.New("username already exists")
)

type AuthManager struct {
	mu        sync.RWMutex
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	users     map[string]credential
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type credential struct {
	password string
	pinHash  string
	role     string
	active   bool
	created  time.Time
}

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(ctx context.Context, secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	manager := &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		users:     make(map[string]credential),
	}
	manager.bootstrapUsers(ctx)
	return manager
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.bootstrapUsers(ctx)
	username := normalizeUsername(req.Username)
	cred, ok := a.lookup(username)
	if !ok || !verifyPassword(cred.password, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !cred.active {
		return domain.LoginResponse{}, ErrInactiveAccount
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, cred.role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &posCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Username: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(username, role string, expiresAt time.Time) (string, error) {
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "comanda",
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// IsActiveAdmin reports whether username is a currently active admin. Token
// claims are not enough for cash actions: the account may have been
// disabled or demoted after the token was issued.
func (a *AuthManager) IsActiveAdmin(ctx context.Context, username string) bool {
	a.bootstrapUsers(ctx)
	cred, ok := a.lookup(normalizeUsername(username))
	return ok && cred.active && cred.role == domain.RoleAdmin
}

// VerifyPIN checks pin against the operator's own PIN hash.
func (a *AuthManager) VerifyPIN(username string, pin string) bool {
	cred, ok := a.lookup(normalizeUsername(username))
	input := strings.TrimSpace(pin)
	if !ok || input == "" || !isPasswordHash(cred.pinHash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(cred.pinHash), []byte(input)) == nil
}

// CreateOperator registers a new cashier or admin account. Admin accounts
// need a PIN since every cash action asks for one.
func (a *AuthManager) CreateOperator(ctx context.Context, req domain.UserCreateRequest) (domain.UserSummary, error) {
	a.bootstrapUsers(ctx)
	username := normalizeUsername(req.Username)
	if len(username) < 4 {
		return domain.UserSummary{}, fmt.Errorf("%w: username must be at least 4 characters", ErrInvalidAccount)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.UserSummary{}, fmt.Errorf("%w: username must not contain spaces", ErrInvalidAccount)
	}
	if len(strings.TrimSpace(req.Password)) < 6 {
		return domain.UserSummary{}, fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidAccount)
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = domain.RoleCashier
	}
	if role != domain.RoleCashier && role != domain.RoleAdmin {
		return domain.UserSummary{}, fmt.Errorf("%w: unknown role %q", ErrInvalidAccount, role)
	}
	pin := strings.TrimSpace(req.PIN)
	if role == domain.RoleAdmin && pin == "" {
		return domain.UserSummary{}, fmt.Errorf("%w: admin accounts need a pin", ErrInvalidAccount)
	}
	if pin != "" {
		if err := ValidatePINStrength(pin); err != nil {
			return domain.UserSummary{}, fmt.Errorf("%w: %v", ErrInvalidAccount, err)
		}
	}
	if _, exists := a.lookup(username); exists {
		return domain.UserSummary{}, ErrAccountExists
	}

	account, err := buildAccount(username, req.Password, pin, role)
	if err != nil {
		return domain.UserSummary{}, err
	}
	if a.userStore != nil {
		if err := a.userStore.CreateUser(ctx, account); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return domain.UserSummary{}, ErrAccountExists
			}
			return domain.UserSummary{}, err
		}
	}
	a.remember(account)
	return summarize(account.Username, credentialFor(account)), nil
}

// EnsureAdmin creates the bootstrap admin account when the user store has no
// active admin yet. It is a no-op otherwise.
func (a *AuthManager) EnsureAdmin(ctx context.Context, username, password, pin string) error {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	for _, cred := range a.users {
		if cred.role == domain.RoleAdmin && cred.active {
			a.mu.RUnlock()
			return nil
		}
	}
	a.mu.RUnlock()

	if strings.TrimSpace(password) == "" || strings.TrimSpace(pin) == "" {
		return errors.New("no active admin account and no bootstrap credentials configured")
	}
	_, err := a.CreateOperator(ctx, domain.UserCreateRequest{
		Username: username,
		Password: password,
		Role:     domain.RoleAdmin,
		PIN:      pin,
	})
	if err != nil {
		return err
	}
	log.Info().Str("username", normalizeUsername(username)).Msg("bootstrap admin account created")
	return nil
}

func (a *AuthManager) ListOperators(ctx context.Context) []domain.UserSummary {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	result := make([]domain.UserSummary, 0, len(a.users))
	for username, cred := range a.users {
		result = append(result, summarize(username, cred))
	}
	a.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}

// bootstrapUsers loads user accounts from the user store into the in-memory
// credential cache. It also upgrades any legacy plain-text passwords to bcrypt
// hashes in the store.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to refresh user accounts")
		return
	}
	if len(users) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, user := range users {
		username := normalizeUsername(user.Username)
		if username == "" {
			continue
		}
		if !isPasswordHash(user.Password) {
			hashed, err := hashPassword(user.Password)
			if err == nil {
				user.Password = hashed
				if err := a.userStore.UpdateUserPassword(ctx, username, hashed); err != nil {
					log.Warn().Err(err).Str("username", username).Msg("failed to upgrade legacy password")
				}
			}
		}
		a.users[username] = credentialFor(user)
	}
}

func (a *AuthManager) lookup(username string) (credential, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cred, ok := a.users[username]
	return cred, ok
}

func (a *AuthManager) remember(account domain.UserAccount) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users[account.Username] = credentialFor(account)
}

func buildAccount(username, password, pin, role string) (domain.UserAccount, error) {
	passwordHash, err := hashPassword(password)
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("failed to hash password")
	}
	account := domain.UserAccount{
		Username:  username,
		Password:  passwordHash,
		Role:      role,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if pin != "" {
		pinHash, err := hashPassword(pin)
		if err != nil {
			return domain.UserAccount{}, fmt.Errorf("failed to hash pin")
		}
		account.PINHash = pinHash
	}
	return account, nil
}

func credentialFor(user domain.UserAccount) credential {
	return credential{
		password: user.Password,
		pinHash:  user.PINHash,
		role:     user.Role,
		active:   user.Active,
		created:  user.CreatedAt,
	}
}

func summarize(username string, cred credential) domain.UserSummary {
	return domain.UserSummary{
		Username:  username,
		Role:      cred.role,
		Active:    cred.active,
		HasPIN:    cred.pinHash != "",
		CreatedAt: cred.created,
	}
}

// ValidatePINStrength rejects PINs that are not 4 to 8 digits, are all the
// same digit, are sequential (ascending or descending), or are on a
// known-weak list.
func ValidatePINStrength(pin string) error {
	if len(pin) < 4 || len(pin) > 8 {
		return fmt.Errorf("PIN must have 4 to 8 digits")
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return fmt.Errorf("PIN must contain digits only")
		}
	}
	known := map[string]bool{
		"1212": true, "1122": true, "1313": true, "2020": true,
		"121212": true, "112233": true, "123123": true, "159753": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}
	return nil
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
