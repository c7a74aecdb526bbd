package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"git.sr.ht/~jakintosh/rolepass/internal/service"
	"git.sr.ht/~jakintosh/rolepass/pkg/roles"
)

var _ roles.Resolver = (*SQLiteStore)(nil)

func (s *SQLiteStore) RoleResolver() roles.Resolver {
	return s
}

// Resolve implements roles.Resolver from the role_mappings table.
func (s *SQLiteStore) Resolve(
	ctx context.Context,
	accountID string,
	clientID string,
) (
	string,
	bool,
	error,
) {
	row := s.db.QueryRowContext(ctx, `
		SELECT r.role
		FROM role_mappings r
		JOIN identity i ON r.owner = i.id
		WHERE i.handle=?1 AND r.client_id=?2;`,
		accountID,
		clientID,
	)

	var role string
	err := row.Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("couldn't scan role: %v", err)
	}
	return role, role != "", nil
}

func (s *SQLiteStore) SetRole(
	ctx context.Context,
	handle string,
	clientID string,
	role string,
) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO role_mappings (owner, client_id, role)
		SELECT i.id, ?2, ?3
		FROM identity i
		WHERE i.handle=?1
		ON CONFLICT (owner, client_id) DO UPDATE SET role=excluded.role;`,
		handle,
		clientID,
		role,
	)
	if err != nil {
		return fmt.Errorf("couldn't upsert role mapping: %v", err)
	}
	if resultsEmpty(result) {
		return fmt.Errorf("%w: %s", service.ErrAccountNotFound, handle)
	}
	return nil
}

func (s *SQLiteStore) DeleteRole(
	ctx context.Context,
	handle string,
	clientID string,
) (
	bool,
	error,
) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM role_mappings
		WHERE client_id=?2 AND owner IN (
			SELECT id FROM identity WHERE handle=?1
		);`,
		handle,
		clientID,
	)
	if err != nil {
		return false, fmt.Errorf("couldn't delete role mapping: %v", err)
	}
	return !resultsEmpty(result), nil
}

func (s *SQLiteStore) ListRoles(
	ctx context.Context,
	handle string,
) (
	map[string]string,
	error,
) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.client_id, r.role
		FROM role_mappings r
		JOIN identity i ON r.owner = i.id
		WHERE i.handle=?1
		ORDER BY r.client_id;`,
		handle,
	)
	if err != nil {
		return nil, fmt.Errorf("couldn't query role mappings: %v", err)
	}
	defer rows.Close()

	mapping := map[string]string{}
	for rows.Next() {
		var clientID, role string
		if err := rows.Scan(&clientID, &role); err != nil {
			return nil, fmt.Errorf("couldn't scan role mapping: %v", err)
		}
		mapping[clientID] = role
	}
	return mapping, rows.Err()
}
