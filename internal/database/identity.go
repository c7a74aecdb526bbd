package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"git.sr.ht/~jakintosh/rolepass/internal/service"
)

func (s *SQLiteStore) IdentityStore() service.IdentityStore {
	return s
}

func (s *SQLiteStore) InsertIdentity(
	ctx context.Context,
	account service.Account,
	secret []byte,
) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identity (handle, secret, display_name, email)
		VALUES (?1, ?2, ?3, ?4);`,
		account.Handle,
		secret,
		account.Name,
		account.Email,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", service.ErrHandleExists, account.Handle)
	}
	if err != nil {
		return fmt.Errorf("couldn't insert into identity: %v", err)
	}
	return nil
}

func (s *SQLiteStore) GetSecret(
	ctx context.Context,
	handle string,
) (
	[]byte,
	error,
) {
	row := s.db.QueryRowContext(ctx, `
		SELECT secret
		FROM identity
		WHERE handle=?1;`,
		handle,
	)

	var secret []byte
	err := row.Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", service.ErrAccountNotFound, handle)
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't scan secret: %v", err)
	}
	return secret, nil
}

func (s *SQLiteStore) GetAccount(
	ctx context.Context,
	handle string,
) (
	*service.Account,
	error,
) {
	row := s.db.QueryRowContext(ctx, `
		SELECT handle, display_name, email
		FROM identity
		WHERE handle=?1;`,
		handle,
	)

	account := &service.Account{}
	err := row.Scan(&account.Handle, &account.Name, &account.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", service.ErrAccountNotFound, handle)
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't scan account: %v", err)
	}
	return account, nil
}
