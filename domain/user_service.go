package domain

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// UserStorage persists user profiles.
type UserStorage interface {
	UpsertUser(ctx context.Context, u User) (User, error)
}

// UserService records profiles reported by the identity provider.
type UserService struct{ st UserStorage }

func NewUserService(st UserStorage) UserService { return UserService{st: st} }

// Register creates or replaces the profile of u.UID.
func (s UserService) Register(ctx context.Context, u User) (User, error) {
	if err := u.Validate(); err != nil {
		return User{}, err
	}
	if err := authorizeOwner(ctx, u.UID); err != nil {
		return User{}, err
	}
	saved, err := s.st.UpsertUser(ctx, u)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	log.WithField("user", saved.UID).Debug("user profile stored")
	return saved, nil
}
