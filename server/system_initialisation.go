package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/jrsteele09/storefront-auth/internal/cryptox"
	"github.com/jrsteele09/storefront-auth/users"
	"github.com/rs/zerolog/log"
)

const generatedPasswordAttempts = 10

// InitialiseSystem creates the admin user when the user store is empty. Without a configured
// admin password one is generated and logged once.
func (s *Server) InitialiseSystem(ctx context.Context, repo users.UserRepo) error {
	count, err := repo.Count(ctx)
	if err != nil {
		return fmt.Errorf("[Server InitialiseSystem] failed to count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	username := s.config.GetAdminUsername()
	password := s.config.GetAdminPassword()
	generated := password == ""
	if generated {
		if password, err = generateAdminPassword(); err != nil {
			return fmt.Errorf("[Server InitialiseSystem] %w", err)
		}
	}

	admin, err := users.NewUser(username, "", password)
	if err != nil {
		return fmt.Errorf("[Server InitialiseSystem] failed to create admin user: %w", err)
	}
	if err := repo.Upsert(ctx, admin); err != nil {
		return fmt.Errorf("[Server InitialiseSystem] failed to store admin user: %w", err)
	}

	event := log.Info().Str("username", admin.Username).Str("user_id", admin.ID)
	if generated {
		event = event.Str("password", password)
	}
	event.Msg("admin user created")
	return nil
}

func generateAdminPassword() (string, error) {
	for range generatedPasswordAttempts {
		password, err := cryptox.GenerateToken(16)
		if err != nil {
			return "", fmt.Errorf("failed to generate admin password: %w", err)
		}
		if users.ValidatePasswordStrength(password) == nil {
			return password, nil
		}
	}
	return "", errors.New("failed to generate an admin password meeting the strength requirements")
}
