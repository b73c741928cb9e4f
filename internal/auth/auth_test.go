package auth

import (
	"errors"
	"testing"
	"time"

	"geminichat/internal/models"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid password", "password123", false},
		{"empty password", "", false},
		{"long password", "a" + string(make([]byte, 70)), false}, // bcrypt max is 72 bytes
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("HashPassword() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && hash == "" {
				t.Error("HashPassword() returned empty hash")
			}
		})
	}
}

func TestVerifyPassword(t *testing.T) {
	password := "testpassword123"
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	tests := []struct {
		name     string
		hash     string
		password string
		want     bool
	}{
		{"correct password", hash, password, true},
		{"wrong password", hash, "wrongpassword", false},
		{"empty password", hash, "", false},
		{"invalid hash", "invalidhash", password, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPassword(tt.hash, tt.password); got != tt.want {
				t.Errorf("VerifyPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateToken(t *testing.T) {
	tests := []struct {
		name   string
		userID uint
		kind   string
		secret string
		ttl    time.Duration
	}{
		{"access token", 1, KindAccess, "test-secret", 30 * time.Minute},
		{"refresh token", 1, KindRefresh, "test-secret", 7 * 24 * time.Hour},
		{"zero user id", 0, KindAccess, "test-secret", time.Minute},
		{"empty secret", 1, KindAccess, "", time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := GenerateToken(tt.userID, tt.kind, tt.secret, tt.ttl)
			if err != nil {
				t.Errorf("GenerateToken() error = %v", err)
				return
			}
			if token == "" {
				t.Error("GenerateToken() returned empty token")
			}
		})
	}
}

func TestParseToken(t *testing.T) {
	secret := "test-secret-key"
	userID := uint(42)

	access, err := GenerateToken(userID, KindAccess, secret, 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	refresh, err := GenerateToken(userID, KindRefresh, secret, 24*time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		kind    string
		wantUID uint
		wantErr error
	}{
		{"valid access token", access, KindAccess, userID, nil},
		{"valid refresh token", refresh, KindRefresh, userID, nil},
		{"access used as refresh", access, KindRefresh, 0, ErrWrongKind},
		{"refresh used as access", refresh, KindAccess, 0, ErrWrongKind},
		{"garbage token", "invalid.token.here", KindAccess, 0, ErrInvalidToken},
		{"empty token", "", KindAccess, 0, ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseToken(tt.token, secret, tt.kind)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ParseToken() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Errorf("ParseToken() error = %v", err)
				return
			}
			if claims.UserID != tt.wantUID {
				t.Errorf("ParseToken() UserID = %v, want %v", claims.UserID, tt.wantUID)
			}
		})
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := GenerateToken(1, KindAccess, "secret-a", 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if _, err := ParseToken(token, "secret-b", KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ParseToken() error = %v, want ErrInvalidToken", err)
	}
}

func TestParseToken_Expired(t *testing.T) {
	secret := "test-secret"
	token, err := GenerateToken(1, KindAccess, secret, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := ParseToken(token, secret, KindAccess)
	if err == nil {
		t.Error("ParseToken() should return error for expired token")
	}
	if claims != nil {
		t.Error("ParseToken() should return nil claims for expired token")
	}
}

func TestAuthenticate(t *testing.T) {
	secret := "test-secret"
	user := &models.User{MobileNumber: "+15550001111"}
	user.ID = 7

	lookup := func(id uint) (*models.User, error) {
		if id == user.ID {
			return user, nil
		}
		return nil, errors.New("not found")
	}

	token, err := GenerateToken(user.ID, KindAccess, secret, 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	got, err := Authenticate(token, secret, lookup)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("Authenticate() user ID = %v, want %v", got.ID, user.ID)
	}
}

func TestAuthenticate_UnknownUser(t *testing.T) {
	secret := "test-secret"
	lookup := func(id uint) (*models.User, error) { return nil, errors.New("not found") }

	token, err := GenerateToken(99, KindAccess, secret, 15*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	if _, err := Authenticate(token, secret, lookup); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Authenticate() error = %v, want ErrInvalidToken", err)
	}
}

func TestAuthenticate_RefreshTokenRejected(t *testing.T) {
	secret := "test-secret"
	lookup := func(id uint) (*models.User, error) { return &models.User{}, nil }

	token, err := GenerateToken(1, KindRefresh, secret, 24*time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	if _, err := Authenticate(token, secret, lookup); !errors.Is(err, ErrWrongKind) {
		t.Errorf("Authenticate() error = %v, want ErrWrongKind", err)
	}
}
