package fakeuserrepo

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/storefront-auth/internal/errors"
	"github.com/jrsteele09/storefront-auth/users"
)

var _ users.UserRepo = (*FakeUserRepo)(nil)

// FakeUserRepo keeps users in memory. Stored users are copied on the way in and out.
type FakeUserRepo struct {
	users       map[string]users.User
	usernameIds map[string]string // normalized username to user id
	lock        sync.RWMutex
}

func NewFakeUserRepo() *FakeUserRepo {
	return &FakeUserRepo{
		users:       make(map[string]users.User),
		usernameIds: make(map[string]string),
	}
}

func (ur *FakeUserRepo) Upsert(_ context.Context, user *users.User) error {
	if user == nil {
		return errors.New("user is required")
	}
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	key := users.NormalizeUsername(user.Username)
	if existingID, ok := ur.usernameIds[key]; ok && existingID != user.ID {
		return apperrors.ErrUserExists
	}
	if previous, ok := ur.users[user.ID]; ok {
		delete(ur.usernameIds, users.NormalizeUsername(previous.Username))
	}

	ur.users[user.ID] = *user
	ur.usernameIds[key] = user.ID
	return nil
}

func (ur *FakeUserRepo) Delete(_ context.Context, id string) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	u, ok := ur.users[id]
	if !ok {
		return apperrors.ErrUserNotFound
	}
	delete(ur.usernameIds, users.NormalizeUsername(u.Username))
	delete(ur.users, id)
	return nil
}

func (ur *FakeUserRepo) GetByUsername(_ context.Context, username string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	id, ok := ur.usernameIds[users.NormalizeUsername(username)]
	if !ok {
		return nil, apperrors.ErrUserNotFound
	}
	u := ur.users[id]
	return &u, nil
}

func (ur *FakeUserRepo) GetByID(_ context.Context, id string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	u, ok := ur.users[id]
	if !ok {
		return nil, apperrors.ErrUserNotFound
	}
	return &u, nil
}

func (ur *FakeUserRepo) Count(_ context.Context) (int, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()
	return len(ur.users), nil
}

func (ur *FakeUserRepo) SetLastLogin(_ context.Context, id string, at time.Time) error {
	return ur.update(id, func(u *users.User) { u.LastLogin = at })
}

func (ur *FakeUserRepo) SetBlocked(_ context.Context, id string, blocked bool) error {
	return ur.update(id, func(u *users.User) { u.Blocked = blocked })
}

func (ur *FakeUserRepo) SetPassword(_ context.Context, id, passwordHash, securityStamp string) error {
	return ur.update(id, func(u *users.User) {
		u.PasswordHash = passwordHash
		u.SecurityStamp = securityStamp
	})
}

func (ur *FakeUserRepo) update(id string, fn func(u *users.User)) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	u, ok := ur.users[id]
	if !ok {
		return apperrors.ErrUserNotFound
	}
	fn(&u)
	ur.users[id] = u
	return nil
}
