package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sggenna/fluency/core"
	"github.com/sggenna/fluency/core/user"
)

// NewTestConfig returns a Config suitable for tests: no external services,
// deterministic secrets.
func NewTestConfig() *core.Config {
	return &core.Config{
		Env:                       "TEST",
		Debug:                     false, // keep API error payloads deterministic
		TestMode:                  true,
		AppName:                   "Fluency",
		Build:                     "test",
		SecretKey:                 "s3cr3t-t3st-k3y",
		FrontendBaseURL:           "http://localhost:3000",
		DefaultFromEmail:          "noreply@localhost",
		PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
		Server: core.ServerConfig{
			Host:                      "localhost",
			Port:                      "8000",
			JWTExpirationDelta:        7 * 24 * time.Hour,
			JWTRefreshExpirationDelta: 4 * time.Hour,
			ShutdownTimeout:           5 * time.Second,
		},
	}
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	firstName, lastName, email, pwd, role string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		ID:        uuid.NewString(),
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
		Role:      role,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	usr.SetActive(isActive)
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}
