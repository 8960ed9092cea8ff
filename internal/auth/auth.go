// Package auth verifies credentials and issues session tokens.
//
// Clients log in over HTTP and carry the returned token in every WebSocket
// request; Verify resolves the token into a UserContext the rest of the
// backend consumes.
package auth

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/helmboard/helmboard/internal/config"
	"github.com/helmboard/helmboard/internal/fault"
)

// Roles.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// UserContext describes the authenticated user behind a request.
type UserContext struct {
	Username string
	Role     string
	Units    string // preferred unit system: "binary" or "decimal"
}

// IsAdmin reports whether the user holds the admin role.
func (u *UserContext) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Session is an issued login session.
type Session struct {
	Token     string
	Username  string
	Role      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Service handles authentication.
type Service struct {
	cfg         *config.Config
	db          *sql.DB
	rateLimiter *RateLimiter
	now         func() time.Time
}

// NewService creates the auth service and seeds the configured users.
func NewService(cfg *config.Config, db *sql.DB) (*Service, error) {
	s := &Service{
		cfg:         cfg,
		db:          db,
		rateLimiter: NewRateLimiter(5, time.Minute),
		now:         time.Now,
	}
	if err := s.seedUsers(); err != nil {
		return nil, err
	}
	return s, nil
}

// seedUsers upserts the users defined by configuration.
func (s *Service) seedUsers() error {
	upsert := `
	INSERT INTO users (username, password_hash, role)
	VALUES (?, ?, ?)
	ON CONFLICT(username) DO UPDATE SET
		password_hash = excluded.password_hash,
		role = excluded.role
	`
	if _, err := s.db.Exec(upsert, "admin", s.cfg.AdminPasswordHash, RoleAdmin); err != nil {
		return err
	}
	if s.cfg.ViewerPasswordHash != "" {
		if _, err := s.db.Exec(upsert, "viewer", s.cfg.ViewerPasswordHash, RoleViewer); err != nil {
			return err
		}
	}
	return nil
}

// Login verifies credentials and issues a session token.
// TOTP is enforced for admin logins when configured.
func (s *Service) Login(username, password, totpCode, ip string) (*Session, error) {
	if !s.rateLimiter.Allow(ip) {
		return nil, fault.New(fault.KindAuth, "too many login attempts")
	}

	var hash, role string
	err := s.db.QueryRow(`SELECT password_hash, role FROM users WHERE username = ?`, username).
		Scan(&hash, &role)
	if err == sql.ErrNoRows {
		// Burn a bcrypt comparison so unknown users cost the same as bad passwords.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000"), []byte(password))
		return nil, fault.New(fault.KindAuth, "invalid credentials")
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, fault.New(fault.KindAuth, "invalid credentials")
	}

	if role == RoleAdmin && s.cfg.HasTOTP() && !totp.Validate(totpCode, s.cfg.TOTPSecret) {
		return nil, fault.New(fault.KindAuth, "invalid TOTP code")
	}

	token, err := generateToken(32)
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &Session{
		Token:     token,
		Username:  username,
		Role:      role,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.SessionTTL),
	}

	_, err = s.db.Exec(
		`INSERT INTO sessions (id, username, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		session.Token, session.Username, session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	s.rateLimiter.Reset(ip)

	return session, nil
}

// Verify resolves a token into a UserContext.
// Missing, unknown and expired tokens are all AuthError.
func (s *Service) Verify(token string) (*UserContext, error) {
	if token == "" {
		return nil, fault.New(fault.KindAuth, "missing token")
	}

	var username, role, units string
	var expiresAt time.Time
	err := s.db.QueryRow(`
		SELECT s.username, u.role, u.units, s.expires_at
		FROM sessions s JOIN users u ON u.username = s.username
		WHERE s.id = ?
	`, token).Scan(&username, &role, &units, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, fault.New(fault.KindAuth, "invalid token")
	}
	if err != nil {
		return nil, err
	}

	if s.now().After(expiresAt) {
		_, _ = s.db.Exec(`DELETE FROM sessions WHERE id = ?`, token)
		return nil, fault.New(fault.KindAuth, "session expired")
	}

	return &UserContext{Username: username, Role: role, Units: units}, nil
}

// Logout deletes a session.
func (s *Service) Logout(token string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, token)
	return err
}

// PruneExpired removes expired sessions.
func (s *Service) PruneExpired() error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at < ?`, s.now())
	return err
}

func generateToken(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
