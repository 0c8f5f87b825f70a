// Package state persists per-identity exit-intent state.
//
// Logged-in customers are stored in Postgres and never expire. Guests are
// stored in Redis with a lifetime equal to the guest cookie's, so the state
// disappears together with the identity that owns it. A write made while
// serving the guest renews both; any other write keeps the current expiry.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/salesboost/exitintent/internal/cache"
	"github.com/salesboost/exitintent/internal/identity"
	"github.com/salesboost/exitintent/internal/model"
	"github.com/salesboost/exitintent/internal/repository"
)

// Store reads and writes visitor state by identity.
type Store interface {
	// Get returns nil when nothing is stored or the stored schema version
	// differs from version. A stale entry is left in place.
	Get(ctx context.Context, id model.Identity, version int64) (*model.VisitorState, error)
	Set(ctx context.Context, id model.Identity, s *model.VisitorState) error
	Clear(ctx context.Context, id model.Identity) error
	// Adopt moves a guest's state to a customer unless the customer already
	// has state. The guest entry is removed either way.
	Adopt(ctx context.Context, guestToken, userID string) (bool, error)
}

// UserBackend is the durable store for customers.
type UserBackend interface {
	GetVisitorState(ctx context.Context, userID string) (*model.VisitorState, error)
	UpsertVisitorState(ctx context.Context, userID string, s *model.VisitorState) error
	InsertVisitorStateIfAbsent(ctx context.Context, userID string, s *model.VisitorState) (bool, error)
	DeleteVisitorState(ctx context.Context, userID string) error
}

// GuestBackend is the expiring store for guests.
type GuestBackend interface {
	GetGuestState(ctx context.Context, token string) (*model.VisitorState, error)
	SetGuestState(ctx context.Context, token string, s *model.VisitorState, ttl time.Duration) error
	UpdateGuestState(ctx context.Context, token string, s *model.VisitorState, ttl time.Duration) error
	DeleteGuestState(ctx context.Context, token string) error
}

// TTLSource supplies the current guest state lifetime.
type TTLSource interface {
	GuestTTL(ctx context.Context) time.Duration
}

// ErrNoIdentity is returned for operations on an empty identity.
var ErrNoIdentity = errors.New("no identity")

// IdentityStore dispatches to the user or guest backend by identity kind.
type IdentityStore struct {
	users  UserBackend
	guests GuestBackend
	ttl    TTLSource
	logger *slog.Logger
}

var _ Store = (*IdentityStore)(nil)

// NewIdentityStore creates an IdentityStore.
func NewIdentityStore(users UserBackend, guests GuestBackend, ttl TTLSource, logger *slog.Logger) *IdentityStore {
	return &IdentityStore{
		users:  users,
		guests: guests,
		ttl:    ttl,
		logger: logger.With("component", "state_store"),
	}
}

// Get implements Store.
func (s *IdentityStore) Get(ctx context.Context, id model.Identity, version int64) (*model.VisitorState, error) {
	st, err := s.Peek(ctx, id)
	if err != nil || st == nil {
		return nil, err
	}
	if st.SchemaVersion != version {
		s.logger.Debug("ignoring state from older settings version",
			"identity", id.LogValue(),
			"stored_version", st.SchemaVersion,
			"current_version", version,
		)
		return nil, nil
	}
	return st, nil
}

// Peek returns the stored state without the version check.
func (s *IdentityStore) Peek(ctx context.Context, id model.Identity) (*model.VisitorState, error) {
	switch {
	case id.IsUser():
		st, err := s.users.GetVisitorState(ctx, id.ID)
		if errors.Is(err, repository.ErrVisitorStateNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("get user state: %w", err)
		}
		return st, nil
	case id.IsGuest():
		st, err := s.guests.GetGuestState(ctx, id.ID)
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("get guest state: %w", err)
		}
		return st, nil
	default:
		return nil, ErrNoIdentity
	}
}

// Set implements Store.
func (s *IdentityStore) Set(ctx context.Context, id model.Identity, st *model.VisitorState) error {
	switch {
	case id.IsUser():
		if err := s.users.UpsertVisitorState(ctx, id.ID, st); err != nil {
			return fmt.Errorf("set user state: %w", err)
		}
	case id.IsGuest():
		ttl := s.ttl.GuestTTL(ctx)
		if !identity.RefreshGuestCookie(ctx, ttl) {
			// No cookie to renew, so the entry keeps the expiry it shares with it.
			if err := s.guests.UpdateGuestState(ctx, id.ID, st, ttl); err != nil {
				return fmt.Errorf("update guest state: %w", err)
			}
			return nil
		}
		if err := s.guests.SetGuestState(ctx, id.ID, st, ttl); err != nil {
			return fmt.Errorf("set guest state: %w", err)
		}
	default:
		return ErrNoIdentity
	}
	return nil
}

// Clear implements Store.
func (s *IdentityStore) Clear(ctx context.Context, id model.Identity) error {
	switch {
	case id.IsUser():
		if err := s.users.DeleteVisitorState(ctx, id.ID); err != nil {
			return fmt.Errorf("clear user state: %w", err)
		}
	case id.IsGuest():
		if err := s.guests.DeleteGuestState(ctx, id.ID); err != nil {
			return fmt.Errorf("clear guest state: %w", err)
		}
	default:
		return ErrNoIdentity
	}
	return nil
}

// Adopt implements Store.
func (s *IdentityStore) Adopt(ctx context.Context, guestToken, userID string) (bool, error) {
	if guestToken == "" || userID == "" {
		return false, ErrNoIdentity
	}

	st, err := s.guests.GetGuestState(ctx, guestToken)
	if errors.Is(err, cache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get guest state: %w", err)
	}

	adopted, err := s.users.InsertVisitorStateIfAbsent(ctx, userID, st)
	if err != nil {
		return false, fmt.Errorf("adopt guest state: %w", err)
	}

	if err := s.guests.DeleteGuestState(ctx, guestToken); err != nil {
		return adopted, fmt.Errorf("delete adopted guest state: %w", err)
	}

	s.logger.Info("guest state migrated",
		"guest", model.GuestIdentity(guestToken).LogValue(),
		"user_id", userID,
		"adopted", adopted,
	)
	return adopted, nil
}
