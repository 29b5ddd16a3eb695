package chatsession

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"receipt-pipeline/server/internal/database"
	"receipt-pipeline/server/internal/errors"
)

const adminSessionTTL = 24 * time.Hour

// AdminAuth gates the HTTP admin surface (monitor management, manual
// process-receipt calls, the auth-step endpoints themselves) behind a
// single bearer token, since the pipeline has exactly one operator account
// rather than the teacher's multi-user signup/login system.
type AdminAuth struct {
	db           *database.DB
	passwordHash string
}

func NewAdminAuth(db *database.DB, adminPasswordHash string) *AdminAuth {
	return &AdminAuth{db: db, passwordHash: adminPasswordHash}
}

// Login verifies the admin password and issues a new bearer token.
func (a *AdminAuth) Login(password string) (string, error) {
	if err := bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(password)); err != nil {
		return "", errors.New(errors.ErrUnauthorized, "invalid admin password")
	}

	token, err := generateSessionToken()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrInternalServer)
	}

	id := uuid.New()
	tokenHash := hashToken(token)
	expiresAt := time.Now().Add(adminSessionTTL)

	_, err = a.db.Exec(`INSERT INTO admin_sessions (id, token_hash, expires_at) VALUES ($1, $2, $3)`,
		id, tokenHash, expiresAt)
	if err != nil {
		return "", errors.Wrap(err, errors.TransientStorage)
	}

	return token, nil
}

// ValidateToken reports whether a bearer token maps to a live, unexpired
// admin session.
func (a *AdminAuth) ValidateToken(token string) error {
	tokenHash := hashToken(token)

	var expiresAt time.Time
	row := a.db.QueryRow(`SELECT expires_at FROM admin_sessions WHERE token_hash = $1`, tokenHash)
	if err := row.Scan(&expiresAt); err != nil {
		return errors.New(errors.ErrUnauthorized, "invalid or expired session")
	}

	if time.Now().After(expiresAt) {
		return errors.New(errors.ErrUnauthorized, "session expired")
	}

	return nil
}

func (a *AdminAuth) Logout(token string) error {
	_, err := a.db.Exec(`DELETE FROM admin_sessions WHERE token_hash = $1`, hashToken(token))
	if err != nil {
		return errors.Wrap(err, errors.TransientStorage)
	}
	return nil
}

// CleanupExpiredSessions removes expired admin session rows. Nothing in this
// module schedules it; expired rows stay in the table until it is called.
func (a *AdminAuth) CleanupExpiredSessions() error {
	_, err := a.db.Exec(`DELETE FROM admin_sessions WHERE expires_at < now()`)
	if err != nil {
		return errors.Wrap(err, errors.TransientStorage)
	}
	return nil
}

func generateSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ExtractBearerToken pulls the token out of an "Authorization: Bearer xyz"
// header value.
func ExtractBearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New(errors.ErrUnauthorized, "missing bearer token")
	}
	token := strings.TrimPrefix(header, prefix)
	if token == "" {
		return "", errors.New(errors.ErrUnauthorized, "empty bearer token")
	}
	return token, nil
}
