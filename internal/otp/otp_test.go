package otp

import (
	"context"
	"testing"
	"time"

	"geminichat/internal/cache"
)

func TestGenerate(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		wantLen int
	}{
		{"default length", DefaultLength, 6},
		{"custom length", 4, 4},
		{"zero falls back to default", 0, 6},
		{"negative falls back to default", -1, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := Generate(tt.length)
			if err != nil {
				t.Fatalf("Generate() error = %v", err)
			}
			if len(code) != tt.wantLen {
				t.Errorf("Generate() length = %d, want %d", len(code), tt.wantLen)
			}
			for _, r := range code {
				if r < '0' || r > '9' {
					t.Errorf("Generate() = %q, contains non-digit %q", code, r)
				}
			}
		})
	}
}

func TestIssueAndVerify(t *testing.T) {
	m := NewManager(cache.NewMemory(), 5*time.Minute)
	ctx := context.Background()

	code, err := m.Issue(ctx, "+15550001111")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	ok, err := m.Verify(ctx, "+15550001111", code)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Error("Verify() = false for correct code")
	}
}

func TestVerifySingleUse(t *testing.T) {
	m := NewManager(cache.NewMemory(), 5*time.Minute)
	ctx := context.Background()

	code, err := m.Issue(ctx, "+15550001111")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if ok, _ := m.Verify(ctx, "+15550001111", code); !ok {
		t.Fatal("Verify() first attempt = false")
	}
	if ok, _ := m.Verify(ctx, "+15550001111", code); ok {
		t.Error("Verify() second attempt = true, code should be single-use")
	}
}

func TestVerifyWrongCode(t *testing.T) {
	m := NewManager(cache.NewMemory(), 5*time.Minute)
	ctx := context.Background()

	code, err := m.Issue(ctx, "+15550001111")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if ok, _ := m.Verify(ctx, "+15550001111", "000000"); ok {
		t.Error("Verify() = true for wrong code")
	}
	// Wrong attempt must not consume the stored code.
	if ok, _ := m.Verify(ctx, "+15550001111", code); !ok {
		t.Error("Verify() = false, correct code should survive a wrong attempt")
	}
}

func TestVerifyExpired(t *testing.T) {
	mem := cache.NewMemory()
	m := NewManager(mem, 5*time.Minute)
	ctx := context.Background()

	code, err := m.Issue(ctx, "+15550001111")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	mem.Advance(6 * time.Minute)
	if ok, _ := m.Verify(ctx, "+15550001111", code); ok {
		t.Error("Verify() = true after OTP expired")
	}
}

func TestVerifyWrongMobile(t *testing.T) {
	m := NewManager(cache.NewMemory(), 5*time.Minute)
	ctx := context.Background()

	code, err := m.Issue(ctx, "+15550001111")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if ok, _ := m.Verify(ctx, "+15550002222", code); ok {
		t.Error("Verify() = true for a different mobile number")
	}
}
