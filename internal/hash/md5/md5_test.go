package md5

import "testing"

func TestSumMatchesKnownDigest(t *testing.T) {
	t.Parallel()

	got := Sum("hello world")
	want := "5eb63bbbe01eeed093cb22bb8f5acdc3"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	hashed, err := New().Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if hashed != want {
		t.Fatalf("Hash() = %s, want %s", hashed, want)
	}
}
