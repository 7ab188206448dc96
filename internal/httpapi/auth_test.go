package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"washly/backend/internal/domain"
)

const testSecret = "test-secret-key-with-32-characters!!"

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

func legacyAdminStore() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:    "admin",
				Password:    "admin123",
				Role:        domain.RoleAdmin,
				TenantID:    "laundry-1",
				DisplayName: "Dueña",
				Active:      true,
				CreatedAt:   time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := legacyAdminStore()
	manager := NewAuthManager(testSecret, time.Hour, store, nil)

	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.True(t, strings.HasPrefix(users[0].Password, "$2"), "expected bcrypt hash, got %s", users[0].Password)
	assert.GreaterOrEqual(t, store.updates, 1)
}

func TestTokenCarriesTenantAndDisplayName(t *testing.T) {
	manager := NewAuthManager(testSecret, time.Hour, legacyAdminStore(), nil)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: " Admin ", Password: "admin123"})
	require.NoError(t, err)
	assert.Equal(t, "laundry-1", resp.TenantID)
	assert.Equal(t, domain.RoleAdmin, resp.Role)

	actor, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{Username: "admin", Role: domain.RoleAdmin, TenantID: "laundry-1", DisplayName: "Dueña"}, actor)
}

func TestLoginRejectsWrongPasswordAndInactiveAccount(t *testing.T) {
	store := legacyAdminStore()
	store.users["ghost"] = domain.UserAccount{
		Username: "ghost", Password: mustHashPassword(t, "ghost-pass"), Role: domain.RoleCashier, TenantID: "laundry-1", Active: false,
	}
	manager := NewAuthManager(testSecret, time.Hour, store, nil)

	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "nope"})
	assert.ErrorIs(t, err, errInvalidCredentials)

	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "ghost", Password: "ghost-pass"})
	assert.Error(t, err)
}

func TestParseTokenRejectsExpiredAndForeignTokens(t *testing.T) {
	manager := NewAuthManager(testSecret, time.Minute, legacyAdminStore(), nil)
	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	manager.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = manager.ParseToken(resp.AccessToken)
	assert.Error(t, err, "expired")

	other := NewAuthManager("another-secret-another-secret-123", time.Hour, legacyAdminStore(), nil)
	foreign, err := other.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)
	manager.now = time.Now
	_, err = manager.ParseToken(foreign.AccessToken)
	assert.Error(t, err, "signed with another secret")

	noTenant := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, cajaClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{Subject: "admin", ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour))},
		Role:             domain.RoleAdmin,
	})
	signed, err := noTenant.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = manager.ParseToken(signed)
	assert.Error(t, err, "tenant claim required")
}

func TestCreateOperatorStoresPasswordHashInAdminTenant(t *testing.T) {
	store := legacyAdminStore()
	manager := NewAuthManager(testSecret, time.Hour, store, nil)
	admin := domain.Actor{Username: "admin", Role: domain.RoleAdmin, TenantID: "laundry-1"}

	operator, err := manager.CreateOperator(context.Background(), admin, domain.OperatorCreateRequest{
		Username: "Rosa", Password: "lavanderia1", DisplayName: "Rosa Q.",
	})
	require.NoError(t, err)
	assert.Equal(t, "rosa", operator.Username)
	assert.Equal(t, domain.RoleCashier, operator.Role)
	assert.Equal(t, "laundry-1", operator.TenantID)

	saved := store.users["rosa"]
	assert.True(t, strings.HasPrefix(saved.Password, "$2"))
	assert.Equal(t, "laundry-1", saved.TenantID)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "rosa", Password: "lavanderia1"})
	require.NoError(t, err)
	assert.Equal(t, "Rosa Q.", resp.DisplayName)

	_, err = manager.CreateOperator(context.Background(), admin, domain.OperatorCreateRequest{Username: "rosa", Password: "lavanderia1"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = manager.CreateOperator(context.Background(), admin, domain.OperatorCreateRequest{Username: "li", Password: "lavanderia1"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = manager.CreateOperator(context.Background(), admin, domain.OperatorCreateRequest{Username: "pedro", Password: "short"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestListOperatorsIsTenantScoped(t *testing.T) {
	store := legacyAdminStore()
	store.users["other"] = domain.UserAccount{
		Username: "other", Password: mustHashPassword(t, "other-pass"), Role: domain.RoleCashier, TenantID: "laundry-2", Active: true,
	}
	manager := NewAuthManager(testSecret, time.Hour, store, nil)

	operators := manager.ListOperators(context.Background(), "laundry-1")
	require.Len(t, operators, 1)
	assert.Equal(t, "admin", operators[0].Username)
}
