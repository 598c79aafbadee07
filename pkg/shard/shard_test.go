package shard

import "testing"

func TestOfStableForSameKey(t *testing.T) {
	for _, key := range []string{"user:1", "p:9", "k", ""} {
		first := Of(key, 16)
		for i := 0; i < 100; i++ {
			if got := Of(key, 16); got != first {
				t.Fatalf("Of(%q) not stable: got %d, want %d", key, got, first)
			}
		}
	}
}

func TestOfWithinRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		key := string(rune(i))
		if got := Of(key, 8); got < 0 || got >= 8 {
			t.Fatalf("Of(%q, 8) = %d, out of range", key, got)
		}
	}
}

func TestOfDegenerateN(t *testing.T) {
	if got := Of("anything", 0); got != 0 {
		t.Fatalf("Of with n=0 = %d, want 0", got)
	}
	if got := Of("anything", 1); got != 0 {
		t.Fatalf("Of with n=1 = %d, want 0", got)
	}
}
