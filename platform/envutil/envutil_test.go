package envutil

import "testing"

func TestStr(t *testing.T) {
	t.Setenv("ENVUTIL_TEST_STR", "value")
	if got := Str("ENVUTIL_TEST_STR", "def"); got != "value" {
		t.Fatalf("Str: %q", got)
	}
	t.Setenv("ENVUTIL_TEST_STR", "  padded  ")
	if got := Str("ENVUTIL_TEST_STR", "def"); got != "padded" {
		t.Fatalf("Str trim: %q", got)
	}
	if got := Str("ENVUTIL_TEST_STR_MISSING", "def"); got != "def" {
		t.Fatalf("Str default: %q", got)
	}
}

func TestInt(t *testing.T) {
	t.Setenv("ENVUTIL_TEST_INT", "8")
	if got := Int("ENVUTIL_TEST_INT", 4); got != 8 {
		t.Fatalf("Int: %d", got)
	}
	t.Setenv("ENVUTIL_TEST_INT", "not a number")
	if got := Int("ENVUTIL_TEST_INT", 4); got != 4 {
		t.Fatalf("Int unparsable: %d", got)
	}
	if got := Int("ENVUTIL_TEST_INT_MISSING", 4); got != 4 {
		t.Fatalf("Int default: %d", got)
	}
}
