package chat

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatsync/internal/identity"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/remote"
)

var usernameRe = regexp.MustCompile(`^[a-z0-9_]{3,32}$`)

// Profiles manages user records. Every mutation flushes the identity cache,
// because a stale cached profile would keep rendering the old name anywhere
// it already appears.
type Profiles struct {
	store remote.Store
	cache *identity.Cache
}

func NewProfiles(store remote.Store, cache *identity.Cache) *Profiles {
	return &Profiles{store: store, cache: cache}
}

// UsernameAvailable reports whether no user holds the username. Usernames
// are stored lowercase; the check lowercases its input to match.
func (p *Profiles) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if !usernameRe.MatchString(username) {
		return false, validationf("username must be 3-32 characters of a-z, 0-9 or _")
	}
	n, err := p.store.Count(ctx, remote.Query{
		Kind:  remote.KindUsers,
		Where: []remote.Predicate{remote.Eq("username", username)},
	})
	if err != nil {
		return false, remoteErr("profiles.UsernameAvailable", err)
	}
	return n == 0, nil
}

// Create registers a new user. A taken username is a Conflict; the
// availability check and the create are not atomic, so a race can still
// seed duplicates, the same trade-off the conversation resolver makes.
func (p *Profiles) Create(ctx context.Context, username, displayName, email string) (*model.User, error) {
	defer logger.DeferLogDuration("profiles.Create", time.Now())()
	username = strings.ToLower(strings.TrimSpace(username))
	ok, err := p.UsernameAvailable(ctx, username)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conflictf("username %q is taken", username)
	}
	u := &model.User{
		ID:          uuid.New().String(),
		Username:    username,
		DisplayName: displayName,
		Email:       email,
	}
	rec, err := p.store.Create(ctx, remote.KindUsers, u.ID, userDoc{
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Email:       u.Email,
	})
	if err != nil {
		return nil, remoteErr("profiles.Create", err)
	}
	u.CreatedAt = rec.CreatedAt
	return u, nil
}

// Update changes display name and/or avatar. Empty display name keeps the
// old one; a non-nil avatarID replaces the avatar, empty string clears it.
func (p *Profiles) Update(ctx context.Context, userID, displayName string, avatarID *string) (*model.User, error) {
	defer logger.DeferLogDuration("profiles.Update", time.Now())()
	rec, err := p.store.Get(ctx, remote.KindUsers, userID)
	if err != nil {
		return nil, remoteErr("profiles.Update", err)
	}
	u, err := decodeUser(rec)
	if err != nil {
		return nil, remoteErr("profiles.Update", err)
	}
	if displayName != "" {
		u.DisplayName = displayName
	}
	if avatarID != nil {
		u.AvatarID = *avatarID
	}
	if _, err := p.store.Update(ctx, remote.KindUsers, userID, userDoc{
		Username:    u.Username,
		DisplayName: u.DisplayName,
		AvatarID:    u.AvatarID,
		Email:       u.Email,
	}); err != nil {
		return nil, remoteErr("profiles.Update", err)
	}
	p.cache.InvalidateAll()
	return u, nil
}

// Get loads one profile, bypassing the cache.
func (p *Profiles) Get(ctx context.Context, userID string) (*model.User, error) {
	rec, err := p.store.Get(ctx, remote.KindUsers, userID)
	if err != nil {
		return nil, remoteErr("profiles.Get", err)
	}
	u, err := decodeUser(rec)
	if err != nil {
		return nil, remoteErr("profiles.Get", err)
	}
	return u, nil
}
