package security

import "testing"

func TestHasher_HashAndCompare(t *testing.T) {
	h := NewHasher(4) // min cost for test speed
	hash, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash() error: %v", err)
	}
	if err := h.Compare(hash, "correct horse battery staple"); err != nil {
		t.Errorf("Compare() with correct password: %v", err)
	}
	if err := h.Compare(hash, "wrong password"); err == nil {
		t.Error("Compare() with wrong password should fail")
	}
}

func TestNewHasher_ClampsCost(t *testing.T) {
	if h := NewHasher(0); h.Cost < 4 {
		t.Errorf("cost = %d, want default", h.Cost)
	}
	if h := NewHasher(99); h.Cost > 31 {
		t.Errorf("cost = %d, want clamped to max", h.Cost)
	}
	if h := NewHasher(1); h.Cost < 4 {
		t.Errorf("cost = %d, want clamped to min", h.Cost)
	}
}
