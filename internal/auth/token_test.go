package auth

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vigia/internal/database"
)

func openTestDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func signedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "operator", "exp": exp.Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestTokenStoreRoundTrip(t *testing.T) {
	db := openTestDB(t)
	store, err := NewTokenStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if got := store.Token(); got != "" {
		t.Errorf("token = %q on empty store", got)
	}

	if err := store.Set("opaque-token"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := store.Token(); got != "opaque-token" {
		t.Errorf("token = %q", got)
	}

	// A fresh store sees the persisted token.
	reloaded, err := NewTokenStore(db)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	if got := reloaded.Token(); got != "opaque-token" {
		t.Errorf("reloaded token = %q", got)
	}
}

func TestTokenStoreClear(t *testing.T) {
	db := openTestDB(t)
	store, err := NewTokenStore(db)
	if err != nil {
		t.Fatal(err)
	}
	store.Set("something")
	if err := store.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := store.Token(); got != "" {
		t.Errorf("token = %q after clear", got)
	}

	reloaded, _ := NewTokenStore(db)
	if got := reloaded.Token(); got != "" {
		t.Errorf("reloaded token = %q after clear", got)
	}
}

func TestTokenStoreExpiredJWT(t *testing.T) {
	db := openTestDB(t)
	store, err := NewTokenStore(db)
	if err != nil {
		t.Fatal(err)
	}

	valid := signedJWT(t, time.Now().Add(time.Hour))
	store.Set(valid)
	if got := store.Token(); got != valid {
		t.Errorf("valid JWT withheld")
	}

	stale := signedJWT(t, time.Now().Add(-time.Hour))
	store.Set(stale)
	if got := store.Token(); got != "" {
		t.Errorf("expired JWT returned: %q", got)
	}
}

func TestExpiredTreatsOpaqueTokensAsValid(t *testing.T) {
	if expired("not-a-jwt-at-all") {
		t.Error("opaque token reported expired")
	}
	noExp := jwt.MapClaims{"sub": "operator"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, noExp).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if expired(token) {
		t.Error("JWT without exp reported expired")
	}
}
