package auth

import (
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/helmboard/helmboard/internal/config"
	"github.com/helmboard/helmboard/internal/fault"
	"github.com/helmboard/helmboard/internal/store"
)

func testService(t *testing.T) *Service {
	t.Helper()

	adminHash, err := bcrypt.GenerateFromPassword([]byte("admin-pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	viewerHash, err := bcrypt.GenerateFromPassword([]byte("viewer-pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.AdminPasswordHash = string(adminHash)
	cfg.ViewerPasswordHash = string(viewerHash)

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	svc, err := NewService(cfg, db)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	return svc
}

func TestLogin_Success(t *testing.T) {
	svc := testService(t)

	session, err := svc.Login("admin", "admin-pass", "", "10.0.0.1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if session.Token == "" {
		t.Error("Expected a non-empty token")
	}
	if session.Role != RoleAdmin {
		t.Errorf("Expected admin role, got %q", session.Role)
	}
	if !session.ExpiresAt.After(time.Now()) {
		t.Error("Expected session to expire in the future")
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	svc := testService(t)
	_, err := svc.Login("admin", "nope", "", "10.0.0.1")
	if !fault.Is(err, fault.KindAuth) {
		t.Errorf("Expected auth fault, got %v", err)
	}
}

func TestLogin_UnknownUser(t *testing.T) {
	svc := testService(t)
	_, err := svc.Login("ghost", "whatever", "", "10.0.0.1")
	if !fault.Is(err, fault.KindAuth) {
		t.Errorf("Expected auth fault, got %v", err)
	}
}

func TestLogin_RateLimited(t *testing.T) {
	svc := testService(t)

	for i := 0; i < 5; i++ {
		_, _ = svc.Login("admin", "wrong", "", "10.0.0.9")
	}
	_, err := svc.Login("admin", "admin-pass", "", "10.0.0.9")
	if !fault.Is(err, fault.KindAuth) {
		t.Errorf("Expected rate limit to block even correct credentials, got %v", err)
	}

	// Another IP is unaffected.
	if _, err := svc.Login("admin", "admin-pass", "", "10.0.0.10"); err != nil {
		t.Errorf("Expected other IP to log in, got %v", err)
	}
}

func TestVerify_RoundTrip(t *testing.T) {
	svc := testService(t)

	session, err := svc.Login("viewer", "viewer-pass", "", "10.0.0.1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	user, err := svc.Verify(session.Token)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if user.Username != "viewer" || user.Role != RoleViewer {
		t.Errorf("Unexpected user %+v", user)
	}
	if user.IsAdmin() {
		t.Error("Expected viewer to not be admin")
	}
	if user.Units != "binary" {
		t.Errorf("Expected default binary units, got %q", user.Units)
	}
}

func TestVerify_MissingAndUnknownToken(t *testing.T) {
	svc := testService(t)

	if _, err := svc.Verify(""); !fault.Is(err, fault.KindAuth) {
		t.Errorf("Expected auth fault for empty token, got %v", err)
	}
	if _, err := svc.Verify("bogus"); !fault.Is(err, fault.KindAuth) {
		t.Errorf("Expected auth fault for unknown token, got %v", err)
	}
}

func TestVerify_ExpiredSession(t *testing.T) {
	svc := testService(t)

	session, err := svc.Login("admin", "admin-pass", "", "10.0.0.1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	if _, err := svc.Verify(session.Token); !fault.Is(err, fault.KindAuth) {
		t.Errorf("Expected auth fault for expired session, got %v", err)
	}

	// The expired session was deleted; it stays invalid even at real time.
	svc.now = time.Now
	if _, err := svc.Verify(session.Token); !fault.Is(err, fault.KindAuth) {
		t.Errorf("Expected deleted session to stay invalid, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	svc := testService(t)

	session, err := svc.Login("admin", "admin-pass", "", "10.0.0.1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := svc.Logout(session.Token); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := svc.Verify(session.Token); !fault.Is(err, fault.KindAuth) {
		t.Errorf("Expected logged-out token to be invalid, got %v", err)
	}
}

func TestPruneExpired(t *testing.T) {
	svc := testService(t)

	session, err := svc.Login("admin", "admin-pass", "", "10.0.0.1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	if err := svc.PruneExpired(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	svc.now = time.Now
	if _, err := svc.Verify(session.Token); !fault.Is(err, fault.KindAuth) {
		t.Errorf("Expected pruned session to be invalid, got %v", err)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("ip1") {
			t.Fatalf("Expected attempt %d to be allowed", i+1)
		}
	}
	if rl.Allow("ip1") {
		t.Error("Expected 4th attempt to be blocked")
	}
	if !rl.Allow("ip2") {
		t.Error("Expected other key to be unaffected")
	}

	rl.Reset("ip1")
	if !rl.Allow("ip1") {
		t.Error("Expected reset to clear the window")
	}
}
