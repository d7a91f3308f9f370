package challenge

import "testing"

func TestNumericIsFiveDigits(t *testing.T) {
	gen := New()
	for i := 0; i < 100; i++ {
		token := gen.Numeric()
		if len(token) != 5 {
			t.Fatalf("expected 5 digits, got %q", token)
		}
		if token[0] == '0' {
			t.Fatalf("leading zero in %q", token)
		}
	}
}

func TestNumericCoversRange(t *testing.T) {
	gen := &Generator{intN: func(n int) int { return 0 }}
	if got := gen.Numeric(); got != "10000" {
		t.Fatalf("expected 10000, got %q", got)
	}
	gen = &Generator{intN: func(n int) int { return n - 1 }}
	if got := gen.Numeric(); got != "99999" {
		t.Fatalf("expected 99999, got %q", got)
	}
}

func TestPhraseComesFromAllowList(t *testing.T) {
	gen := New()
	for i := 0; i < 50; i++ {
		token := gen.Phrase()
		found := false
		for _, phrase := range phrases {
			if token == phrase {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("phrase %q not in allow-list", token)
		}
	}
}
