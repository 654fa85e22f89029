// Package keyring stores the credential pair and active tenant durably so a
// process restart can attempt a silent session restore. The sqlite file is
// the client's only local persistence.
package keyring

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/0Ankit0/identitykit/token"
)

const schema = `
CREATE TABLE IF NOT EXISTS keyring (
	id             INTEGER PRIMARY KEY CHECK (id = 1),
	access_token   TEXT NOT NULL DEFAULT '',
	refresh_token  TEXT NOT NULL DEFAULT '',
	token_type     TEXT NOT NULL DEFAULT '',
	access_expiry  INTEGER NOT NULL DEFAULT 0,
	tenant_id      TEXT NOT NULL DEFAULT ''
);
INSERT OR IGNORE INTO keyring (id) VALUES (1);
`

// SQLite is a single-row sqlite-backed keyring.
type SQLite struct {
	db *sql.DB
}

var _ token.Keyring = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the keyring database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.Wrap(err, "[keyring.OpenSQLite] create directory")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "[keyring.OpenSQLite] sql.Open")
	}
	// The keyring is a single row touched from one process.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[keyring.OpenSQLite] apply schema")
	}
	return &SQLite{db: db}, nil
}

// Load returns the persisted pair (nil when absent) and the tenant mirror.
func (k *SQLite) Load() (*token.Pair, string, error) {
	row := k.db.QueryRow(`SELECT access_token, refresh_token, token_type, access_expiry, tenant_id FROM keyring WHERE id = 1`)

	var (
		access, refresh, tokenType, tenantID string
		expiryUnix                           int64
	)
	if err := row.Scan(&access, &refresh, &tokenType, &expiryUnix, &tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", nil
		}
		return nil, "", errors.Wrap(err, "[SQLite.Load] scan")
	}

	if access == "" || refresh == "" {
		return nil, tenantID, nil
	}
	pair := &token.Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenType,
	}
	if expiryUnix > 0 {
		pair.AccessExpiry = time.Unix(expiryUnix, 0)
	}
	return pair, tenantID, nil
}

// Save writes the whole record. A nil pair clears the credentials while
// keeping the tenant mirror.
func (k *SQLite) Save(pair *token.Pair, tenantID string) error {
	var (
		access, refresh, tokenType string
		expiryUnix                 int64
	)
	if pair.Valid() {
		access = pair.AccessToken
		refresh = pair.RefreshToken
		tokenType = pair.TokenType
		if !pair.AccessExpiry.IsZero() {
			expiryUnix = pair.AccessExpiry.Unix()
		}
	}
	_, err := k.db.Exec(
		`UPDATE keyring SET access_token = ?, refresh_token = ?, token_type = ?, access_expiry = ?, tenant_id = ? WHERE id = 1`,
		access, refresh, tokenType, expiryUnix, tenantID,
	)
	if err != nil {
		return errors.Wrap(err, "[SQLite.Save] update")
	}
	return nil
}

// Close releases the underlying database handle.
func (k *SQLite) Close() error {
	return k.db.Close()
}
