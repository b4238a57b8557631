// Package identity reconciles local integer user ids with the UUIDs issued by
// the external identity provider.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"

	"movt.app/backend/internal/store"
	"movt.app/backend/internal/utils"
)

// Store is the subset of the relational store the bridge needs.
type Store interface {
	GetMapping(ctx context.Context, localUserID int64) (*store.IdentityMapping, error)
	GetLocalIDByExternal(ctx context.Context, externalUUID string) (int64, error)
	InsertMapping(ctx context.Context, localUserID int64, externalUUID string, degraded bool) (*store.IdentityMapping, error)
	GetUserByID(ctx context.Context, id int64) (*store.User, error)
}

// Provider is the external identity system. FindAccountByEmail returns an
// empty string when no account exists.
type Provider interface {
	FindAccountByEmail(ctx context.Context, email string) (string, error)
	ProvisionAccount(ctx context.Context, email string) (string, error)
}

type Bridge struct {
	store    Store
	provider Provider // nil when no provider is configured
	cache    Cache
	group    singleflight.Group
}

// NewBridge builds a bridge. provider may be nil, in which case unmapped
// users receive degraded-mode identifiers straight away.
func NewBridge(s Store, provider Provider, cache Cache) *Bridge {
	if cache == nil {
		cache = NewMemoryCache(0)
	}
	return &Bridge{store: s, provider: provider, cache: cache}
}

// ResolveExternalUUID returns the external UUID for a local user, creating
// and persisting the mapping on first use. It returns "" with a nil error
// when the local user does not exist.
func (b *Bridge) ResolveExternalUUID(ctx context.Context, localUserID int64) (string, error) {
	if localUserID <= 0 {
		return "", nil
	}
	if id, ok := b.cache.Get(ctx, localUserID); ok {
		return id, nil
	}

	v, err, _ := b.group.Do(strconv.FormatInt(localUserID, 10), func() (any, error) {
		return b.resolve(ctx, localUserID)
	})
	if err != nil {
		return "", err
	}
	id := v.(string)
	if id != "" {
		b.cache.Set(ctx, localUserID, id)
	}
	return id, nil
}

func (b *Bridge) resolve(ctx context.Context, localUserID int64) (string, error) {
	m, err := b.store.GetMapping(ctx, localUserID)
	if err != nil {
		return "", err
	}
	if m != nil {
		return m.ExternalUUID, nil
	}

	user, err := b.store.GetUserByID(ctx, localUserID)
	if err != nil {
		return "", err
	}
	if user == nil || user.Email == "" {
		return "", nil
	}

	externalUUID, degraded := b.lookupOrProvision(ctx, user)
	m, err = b.store.InsertMapping(ctx, localUserID, externalUUID, degraded)
	if errors.Is(err, store.ErrConflict) {
		// another request mapped this user first
		existing, rerr := b.store.GetMapping(ctx, localUserID)
		if rerr != nil {
			return "", rerr
		}
		if existing != nil {
			return existing.ExternalUUID, nil
		}
		return "", fmt.Errorf("identity mapping conflict for user %d: %w", localUserID, err)
	}
	if err != nil {
		return "", err
	}
	if m.Degraded {
		log.Printf("Warning: user %d mapped to degraded-mode identifier %s", localUserID, m.ExternalUUID)
	}
	return m.ExternalUUID, nil
}

// lookupOrProvision asks the provider for an account, then tries to create
// one, and finally falls back to a degraded-mode identifier.
func (b *Bridge) lookupOrProvision(ctx context.Context, user *store.User) (string, bool) {
	if b.provider != nil {
		found, err := b.provider.FindAccountByEmail(ctx, user.Email)
		if err != nil {
			log.Printf("Identity lookup for user %d failed: %v", user.ID, err)
		} else if found != "" {
			return found, false
		}

		created, err := b.provider.ProvisionAccount(ctx, user.Email)
		if err == nil && created != "" {
			return created, false
		}
		log.Printf("Identity provisioning for user %d failed: %v", user.ID, err)
	}
	return utils.DegradedUUID(user.ID, user.Email), true
}

// ResolveLocalUserID accepts either a decimal local id or an external UUID.
// It returns 0 when the candidate cannot be parsed or is not mapped.
func (b *Bridge) ResolveLocalUserID(ctx context.Context, candidate string) (int64, error) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return 0, nil
	}
	if id, err := strconv.ParseInt(candidate, 10, 64); err == nil {
		if id <= 0 {
			return 0, nil
		}
		return id, nil
	}
	if !utils.IsUUID(candidate) {
		return 0, nil
	}
	return b.store.GetLocalIDByExternal(ctx, strings.ToLower(candidate))
}
