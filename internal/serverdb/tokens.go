package serverdb

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"time"
)

// TokenKind distinguishes short-lived access tokens from refresh tokens.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

const tokenLength = 40

var tokenPrefix = map[TokenKind]string{
	TokenAccess:  "rem_at_",
	TokenRefresh: "rem_rt_",
}

var base62Chars = []byte("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz")

// IssueToken creates a token of kind for the user, valid for ttl. Only the
// hash is stored; the plaintext is returned once.
func (db *ServerDB) IssueToken(userID string, kind TokenKind, ttl time.Duration) (string, time.Time, error) {
	prefix, ok := tokenPrefix[kind]
	if !ok {
		return "", time.Time{}, fmt.Errorf("unknown token kind %q", kind)
	}

	secret := make([]byte, tokenLength)
	for i := range secret {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(base62Chars))))
		if err != nil {
			return "", time.Time{}, fmt.Errorf("generate random token: %w", err)
		}
		secret[i] = base62Chars[n.Int64()]
	}
	plaintext := prefix + string(secret)

	now := time.Now().UTC()
	expires := now.Add(ttl)
	_, err := db.conn.Exec(
		`INSERT INTO tokens (token_hash, user_id, kind, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		hashToken(plaintext), userID, string(kind), expires, now,
	)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("insert token: %w", err)
	}
	return plaintext, expires, nil
}

// VerifyToken returns the user owning an unexpired token of kind, or nil.
func (db *ServerDB) VerifyToken(plaintext string, kind TokenKind) (*User, error) {
	keyHash := hashToken(plaintext)
	u := &User{}
	var expires time.Time
	err := db.conn.QueryRow(`
		SELECT u.id, u.username, u.created_at, u.updated_at, t.expires_at
		FROM tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = ? AND t.kind = ?
	`, keyHash, string(kind)).Scan(&u.ID, &u.Username, &u.CreatedAt, &u.UpdatedAt, &expires)
	if err == sql.ErrNoRows {
		slog.Debug("token not found", "kind", kind, "hash_prefix", keyHash[:8])
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	if !expires.After(time.Now().UTC()) {
		slog.Debug("token expired", "kind", kind, "user", u.ID, "expires_at", expires)
		return nil, nil
	}
	return u, nil
}

// RotateRefreshToken consumes a refresh token and returns its user. The old
// token stops working whether or not the caller issues a new one.
func (db *ServerDB) RotateRefreshToken(plaintext string) (*User, error) {
	u, err := db.VerifyToken(plaintext, TokenRefresh)
	if err != nil || u == nil {
		return u, err
	}
	if err := db.RevokeToken(plaintext); err != nil {
		return nil, err
	}
	return u, nil
}

// RevokeToken deletes a token. Unknown tokens are ignored.
func (db *ServerDB) RevokeToken(plaintext string) error {
	if _, err := db.conn.Exec(`DELETE FROM tokens WHERE token_hash = ?`, hashToken(plaintext)); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// RevokeUserTokens deletes every token the user holds.
func (db *ServerDB) RevokeUserTokens(userID string) (int64, error) {
	res, err := db.conn.Exec(`DELETE FROM tokens WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	return res.RowsAffected()
}

// PurgeExpiredTokens deletes expired tokens and returns how many went.
func (db *ServerDB) PurgeExpiredTokens() (int64, error) {
	res, err := db.conn.Exec(`DELETE FROM tokens WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired tokens: %w", err)
	}
	return res.RowsAffected()
}

func hashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
