package sha256

import "testing"

func TestHexKnownDigest(t *testing.T) {
	t.Parallel()

	got := Hex([]byte("hello world"))
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if empty := Hex(nil); empty != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("unexpected empty digest %s", empty)
	}
}

// RFC 4231 test case 2.
func TestHMACKnownVector(t *testing.T) {
	t.Parallel()

	got := HMACHex([]byte("Jefe"), "what do ya want for nothing?")
	want := "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if len(HMAC([]byte("k"), "d")) != 32 {
		t.Fatal("expected 32-byte mac")
	}
}
