package game

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"samud/internal/store"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 20
	minPasswordLength = 6
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Hasher turns passwords into stored hashes and checks them.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// BcryptHasher hashes with bcrypt at Cost, or bcrypt.DefaultCost when zero.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

func (h BcryptHasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// AccountStore is the slice of the persistence gateway accounts need.
type AccountStore interface {
	LoadPlayer(ctx context.Context, username string) (store.PlayerRecord, error)
	CreatePlayer(ctx context.Context, rec store.PlayerRecord) error
	RecordLogin(ctx context.Context, username string, at time.Time) error
}

type AccountManager struct {
	store  AccountStore
	hasher Hasher
	log    *zap.Logger
	now    func() time.Time
}

func NewAccountManager(st AccountStore, hasher Hasher, log *zap.Logger) *AccountManager {
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountManager{store: st, hasher: hasher, log: log, now: time.Now}
}

func validateUsername(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) < minUsernameLength || len(name) > maxUsernameLength {
		return fmt.Errorf("name must be %d to %d characters", minUsernameLength, maxUsernameLength)
	}
	if !usernamePattern.MatchString(name) {
		return fmt.Errorf("name may only contain letters, digits and underscores")
	}
	return nil
}

func validatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be blank")
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	return nil
}

// Exists reports whether name is already registered.
func (a *AccountManager) Exists(ctx context.Context, name string) (bool, error) {
	_, err := a.store.LoadPlayer(ctx, name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Register creates an account. The returned record never carries the
// plaintext password.
func (a *AccountManager) Register(ctx context.Context, name, pass string) (store.PlayerRecord, error) {
	if err := validateUsername(name); err != nil {
		return store.PlayerRecord{}, err
	}
	if err := validatePassword(pass); err != nil {
		return store.PlayerRecord{}, err
	}
	hashed, err := a.hasher.Hash(pass)
	if err != nil {
		return store.PlayerRecord{}, err
	}
	rec := store.PlayerRecord{
		Username:     name,
		PasswordHash: hashed,
		CreatedAt:    a.now().UTC(),
	}
	if err := a.store.CreatePlayer(ctx, rec); err != nil {
		if errors.Is(err, store.ErrExists) {
			return store.PlayerRecord{}, fmt.Errorf("%w: %s", ErrAccountExists, name)
		}
		return store.PlayerRecord{}, fmt.Errorf("create account: %w", err)
	}
	a.log.Info("account created", zap.String("player", name))
	return rec, nil
}

// Authenticate checks name and pass. Unknown names and wrong passwords both
// yield ErrBadCredentials.
func (a *AccountManager) Authenticate(ctx context.Context, name, pass string) (store.PlayerRecord, error) {
	rec, err := a.store.LoadPlayer(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return store.PlayerRecord{}, ErrBadCredentials
	}
	if err != nil {
		return store.PlayerRecord{}, fmt.Errorf("load account: %w", err)
	}
	if !a.hasher.Verify(pass, rec.PasswordHash) {
		return store.PlayerRecord{}, ErrBadCredentials
	}
	return rec, nil
}

// RecordLogin updates login bookkeeping. Failures are logged, not fatal.
func (a *AccountManager) RecordLogin(ctx context.Context, name string) {
	if err := a.store.RecordLogin(ctx, name, a.now().UTC()); err != nil {
		a.log.Warn("record login failed", zap.String("player", name), zap.Error(err))
	}
}
