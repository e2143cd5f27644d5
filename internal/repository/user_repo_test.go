package repository

import "testing"

func TestGenerateReferralCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		code, err := generateReferralCode()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != 7 {
			t.Fatalf("code %q has length %d, want 7", code, len(code))
		}
		for _, c := range code {
			if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
				t.Fatalf("code %q contains non-hex character %q", code, c)
			}
		}
		seen[code] = true
	}
	if len(seen) < 2 {
		t.Fatalf("generated %d distinct codes out of 64, want randomness", len(seen))
	}
}
