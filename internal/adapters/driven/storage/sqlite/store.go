// Package sqlite persists token records in a local SQLite database with
// token material encrypted at rest (AES-GCM, key derived from a configured
// storage passphrase).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Pure-Go SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/custodia-labs/graphgate/internal/core/domain"
)

// ErrRecordNotFound indicates no persisted record exists for the key.
var ErrRecordNotFound = errors.New("sqlite: token record not found")

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	k TEXT PRIMARY KEY,
	v BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS tokens (
	tenant_id     TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	scope_key     TEXT NOT NULL,
	access_token  BLOB NOT NULL,
	access_nonce  BLOB NOT NULL,
	refresh_token BLOB,
	refresh_nonce BLOB,
	issued_at     INTEGER NOT NULL,
	expires_at    INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, user_id, scope_key)
);
`

// Store implements driven.TokenStore on SQLite.
type Store struct {
	db  *sql.DB
	key []byte
}

// NewStore opens (creating if needed) the database at path and prepares
// the encryption key from the passphrase. The per-database salt is created
// on first open and kept in the meta table.
func NewStore(path string, passphrase domain.Secret) (*Store, error) {
	if passphrase.IsEmpty() {
		return nil, errors.New("sqlite: storage passphrase is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	salt, err := loadOrCreateSalt(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:  db,
		key: deriveKey([]byte(passphrase.Reveal()), salt),
	}, nil
}

// Save implements driven.TokenStore, upserting the record for its key.
func (s *Store) Save(ctx context.Context, record domain.TokenRecord) error {
	accessCT, accessNonce, err := encrypt(s.key, record.AccessToken.Reveal())
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}

	var refreshCT, refreshNonce []byte
	if !record.RefreshToken.IsEmpty() {
		refreshCT, refreshNonce, err = encrypt(s.key, record.RefreshToken.Reveal())
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tokens
			(tenant_id, user_id, scope_key, access_token, access_nonce,
			 refresh_token, refresh_nonce, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, user_id, scope_key) DO UPDATE SET
			access_token = excluded.access_token,
			access_nonce = excluded.access_nonce,
			refresh_token = excluded.refresh_token,
			refresh_nonce = excluded.refresh_nonce,
			issued_at = excluded.issued_at,
			expires_at = excluded.expires_at`,
		record.Account.TenantID, record.Account.UserID, record.Scopes.Key(),
		accessCT, accessNonce, refreshCT, refreshNonce,
		record.IssuedAt.Unix(), record.ExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("save token record: %w", err)
	}
	return nil
}

// Load implements driven.TokenStore.
func (s *Store) Load(ctx context.Context, account domain.Account, scopes domain.ScopeSet) (domain.TokenRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT access_token, access_nonce, refresh_token, refresh_nonce,
		       issued_at, expires_at
		FROM tokens
		WHERE tenant_id = ? AND user_id = ? AND scope_key = ?`,
		account.TenantID, account.UserID, scopes.Key(),
	)

	var (
		accessCT, accessNonce   []byte
		refreshCT, refreshNonce []byte
		issuedAt, expiresAt     int64
	)
	if err := row.Scan(&accessCT, &accessNonce, &refreshCT, &refreshNonce, &issuedAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TokenRecord{}, ErrRecordNotFound
		}
		return domain.TokenRecord{}, fmt.Errorf("load token record: %w", err)
	}

	accessToken, err := decrypt(s.key, accessCT, accessNonce)
	if err != nil {
		return domain.TokenRecord{}, err
	}
	var refreshToken string
	if len(refreshCT) > 0 {
		refreshToken, err = decrypt(s.key, refreshCT, refreshNonce)
		if err != nil {
			return domain.TokenRecord{}, err
		}
	}

	return domain.TokenRecord{
		Account:      account,
		Scopes:       scopes,
		AccessToken:  domain.Secret(accessToken),
		RefreshToken: domain.Secret(refreshToken),
		IssuedAt:     time.Unix(issuedAt, 0),
		ExpiresAt:    time.Unix(expiresAt, 0),
	}, nil
}

// Delete implements driven.TokenStore.
func (s *Store) Delete(ctx context.Context, account domain.Account, scopes domain.ScopeSet) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE tenant_id = ? AND user_id = ? AND scope_key = ?`,
		account.TenantID, account.UserID, scopes.Key(),
	)
	if err != nil {
		return fmt.Errorf("delete token record: %w", err)
	}
	return nil
}

// Accounts implements driven.TokenStore.
func (s *Store) Accounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT tenant_id, user_id FROM tokens ORDER BY tenant_id, user_id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.TenantID, &a.UserID); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// IssuedTimes returns account id -> most recent issue time, for the debug
// listing. Token material never leaves the store through this path.
func (s *Store) IssuedTimes(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, user_id, MAX(issued_at) FROM tokens GROUP BY tenant_id, user_id`)
	if err != nil {
		return nil, fmt.Errorf("list issue times: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var a domain.Account
		var issued int64
		if err := rows.Scan(&a.TenantID, &a.UserID, &issued); err != nil {
			return nil, fmt.Errorf("scan issue time: %w", err)
		}
		out[a.ID()] = time.Unix(issued, 0)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func loadOrCreateSalt(db *sql.DB) ([]byte, error) {
	var salt []byte
	err := db.QueryRow(`SELECT v FROM meta WHERE k = 'kdf_salt'`).Scan(&salt)
	switch {
	case err == nil:
		return salt, nil
	case errors.Is(err, sql.ErrNoRows):
		salt, err = newSalt()
		if err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		if _, err := db.Exec(`INSERT INTO meta (k, v) VALUES ('kdf_salt', ?)`, salt); err != nil {
			return nil, fmt.Errorf("persist salt: %w", err)
		}
		return salt, nil
	default:
		return nil, fmt.Errorf("load salt: %w", err)
	}
}
