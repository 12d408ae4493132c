package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/sggenna/fluency/core"
	"github.com/sggenna/fluency/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(email, firstName, lastName, role, pwd string) error {
	ctx := context.Background()
	email = core.CleanString(email, true /* lower */)
	role = core.CleanString(role)

	if user.RolePriority(role) == 0 {
		return errors.Errorf("unknown role %q", role)
	}

	now := time.Now().UTC()
	usr, err := cli.usrRepo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return err
		}
		usr = user.User{
			ID:        uuid.NewString(),
			Email:     email,
			CreatedAt: now,
		}
	}
	if firstName != "" {
		usr.FirstName = firstName
	}
	if lastName != "" {
		usr.LastName = lastName
	}
	usr.Role = role
	usr.SetActive(true)
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	usr.UpdatedAt = now

	_, err = cli.usrRepo.UpdateOrCreateUser(ctx, usr)
	return err
}
