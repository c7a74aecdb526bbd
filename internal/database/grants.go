package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"git.sr.ht/~jakintosh/rolepass/internal/service"
)

func (s *SQLiteStore) GrantStore() service.GrantStore {
	return s
}

const grantColumns = `g.id, i.handle, g.client_id, g.scopes, g.claims, g.created_at, g.updated_at`

func (s *SQLiteStore) FindGrant(
	ctx context.Context,
	accountID string,
	clientID string,
) (
	*service.Grant,
	error,
) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+grantColumns+`
		FROM grants g
		JOIN identity i ON g.owner = i.id
		WHERE i.handle=?1 AND g.client_id=?2;`,
		accountID,
		clientID,
	)
	return s.scanGrant(ctx, row)
}

func (s *SQLiteStore) GetGrant(
	ctx context.Context,
	grantID string,
) (
	*service.Grant,
	error,
) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+grantColumns+`
		FROM grants g
		JOIN identity i ON g.owner = i.id
		WHERE g.id=?1;`,
		grantID,
	)
	return s.scanGrant(ctx, row)
}

// SaveGrant inserts or updates the grant and replaces its role map.
func (s *SQLiteStore) SaveGrant(
	ctx context.Context,
	grant *service.Grant,
) error {
	scopes, err := json.Marshal(nonNil(grant.Scopes))
	if err != nil {
		return fmt.Errorf("couldn't encode scopes: %v", err)
	}
	claims, err := json.Marshal(nonNil(grant.Claims))
	if err != nil {
		return fmt.Errorf("couldn't encode claims: %v", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("couldn't begin transaction: %v", err)
	}
	defer rollback(tx)

	result, err := tx.ExecContext(ctx, `
		INSERT INTO grants (id, owner, client_id, scopes, claims, created_at, updated_at)
		SELECT ?1, i.id, ?2, ?3, ?4, ?5, ?6
		FROM identity i
		WHERE i.handle=?7
		ON CONFLICT (id) DO UPDATE SET
			scopes=excluded.scopes,
			claims=excluded.claims,
			updated_at=excluded.updated_at;`,
		grant.ID,
		grant.ClientID,
		string(scopes),
		string(claims),
		grant.CreatedAt.Unix(),
		grant.UpdatedAt.Unix(),
		grant.AccountID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s/%s", service.ErrGrantConflict, grant.AccountID, grant.ClientID)
	}
	if err != nil {
		return fmt.Errorf("couldn't upsert grant: %v", err)
	}
	if resultsEmpty(result) {
		return fmt.Errorf("%w: %s", service.ErrAccountNotFound, grant.AccountID)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM grant_roles
		WHERE grant_id=?1;`,
		grant.ID,
	); err != nil {
		return fmt.Errorf("couldn't clear grant roles: %v", err)
	}

	for clientID, role := range grant.Roles {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO grant_roles (grant_id, client_id, role)
			VALUES (?1, ?2, ?3);`,
			grant.ID,
			clientID,
			role,
		); err != nil {
			return fmt.Errorf("couldn't insert grant role: %v", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("couldn't commit grant: %v", err)
	}
	return nil
}

func (s *SQLiteStore) scanGrant(
	ctx context.Context,
	row *sql.Row,
) (
	*service.Grant,
	error,
) {
	var (
		grant            service.Grant
		scopes, claims   string
		created, updated int64
	)
	err := row.Scan(
		&grant.ID,
		&grant.AccountID,
		&grant.ClientID,
		&scopes,
		&claims,
		&created,
		&updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, service.ErrGrantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't scan grant: %v", err)
	}
	if err := json.Unmarshal([]byte(scopes), &grant.Scopes); err != nil {
		return nil, fmt.Errorf("couldn't decode scopes: %v", err)
	}
	if err := json.Unmarshal([]byte(claims), &grant.Claims); err != nil {
		return nil, fmt.Errorf("couldn't decode claims: %v", err)
	}
	grant.CreatedAt = time.Unix(created, 0)
	grant.UpdatedAt = time.Unix(updated, 0)

	grant.Roles, err = s.grantRoles(ctx, grant.ID)
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

func (s *SQLiteStore) grantRoles(
	ctx context.Context,
	grantID string,
) (
	map[string]string,
	error,
) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT client_id, role
		FROM grant_roles
		WHERE grant_id=?1;`,
		grantID,
	)
	if err != nil {
		return nil, fmt.Errorf("couldn't query grant roles: %v", err)
	}
	defer rows.Close()

	roles := map[string]string{}
	for rows.Next() {
		var clientID, role string
		if err := rows.Scan(&clientID, &role); err != nil {
			return nil, fmt.Errorf("couldn't scan grant role: %v", err)
		}
		roles[clientID] = role
	}
	return roles, rows.Err()
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
