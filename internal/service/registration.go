package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

var handlePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

func (s *Service) Register(
	ctx context.Context,
	account Account,
	password string,
) error {
	if !handlePattern.MatchString(account.Handle) {
		return fmt.Errorf("%w: %q", ErrInvalidHandle, account.Handle)
	}
	if password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidCredentials)
	}

	hashPass, err := bcrypt.GenerateFromPassword([]byte(password), s.passwordMode.Cost())
	if err != nil {
		return fmt.Errorf("%w: failed to hash password: %v", ErrInternal, err)
	}

	err = s.identities.InsertIdentity(ctx, account, hashPass)
	if errors.Is(err, ErrHandleExists) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: failed to insert account: %v", ErrInternal, err)
	}

	return nil
}
