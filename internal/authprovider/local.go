package authprovider

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned when email or password does not match.
var ErrBadCredentials = errors.New("bad credentials")

// LocalProvider is a Provider with an in-process credential registry, used by
// guardsim and tests where no external identity system exists. Passwords are
// stored as bcrypt hashes; callers must not log or persist plaintext passwords.
type LocalProvider struct {
	cost int

	mu       sync.Mutex
	users    map[string]localUser // keyed by email
	identity *Identity
}

type localUser struct {
	id           string
	passwordHash string
}

// NewLocalProvider returns an empty registry with the given bcrypt cost (4-31).
// Cost 12 is a reasonable default for interactive login.
func NewLocalProvider(cost int) *LocalProvider {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &LocalProvider{cost: cost, users: make(map[string]localUser)}
}

// Register adds a user with the given id, email, and password.
func (p *LocalProvider) Register(id, email, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.users[email] = localUser{id: id, passwordHash: string(hash)}
	p.mu.Unlock()
	return nil
}

// SignIn verifies the credentials and establishes the identity.
// Returns ErrBadCredentials when email is unknown or the password mismatches.
func (p *LocalProvider) SignIn(email, password string) (*Identity, error) {
	p.mu.Lock()
	u, ok := p.users[email]
	p.mu.Unlock()
	if !ok {
		// Burn a comparison anyway so unknown emails cost the same as bad passwords.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(password))
		return nil, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.passwordHash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}
	id := &Identity{ID: u.id, Email: email}
	p.mu.Lock()
	p.identity = id
	p.mu.Unlock()
	out := *id
	return &out, nil
}

// CurrentIdentity returns the signed-in identity, or nil when signed out.
func (p *LocalProvider) CurrentIdentity() *Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.identity == nil {
		return nil
	}
	id := *p.identity
	return &id
}

// SignOut discards the identity. Never fails for this provider.
func (p *LocalProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.identity = nil
	p.mu.Unlock()
	return nil
}
