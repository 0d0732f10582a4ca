package util

import "testing"

func TestRedactStable(t *testing.T) {
	a, b := Redact("user:42:settings"), Redact("user:42:settings")
	if a != b || len(a) != 16 {
		t.Fatalf("a=%q b=%q", a, b)
	}
	if a == Redact("user:43:settings") {
		t.Fatalf("distinct keys collided")
	}
}
