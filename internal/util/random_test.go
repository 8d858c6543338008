package util

import (
	"strings"
	"testing"
)

func TestGenerateRandomHex(t *testing.T) {
	for _, length := range []int{1, 8, 32} {
		s := GenerateRandomHex(length)
		if len(s) != length {
			t.Errorf("expected length %d, got %d", length, len(s))
		}
		for _, c := range s {
			if !strings.ContainsRune("0123456789abcdef", c) {
				t.Errorf("unexpected character %q in %s", c, s)
			}
		}
	}
}

func TestGenerateRandomHexNonPositiveLength(t *testing.T) {
	if s := GenerateRandomHex(0); s != "" {
		t.Errorf("expected empty string for zero length, got %q", s)
	}
	if s := GenerateRandomHex(-5); s != "" {
		t.Errorf("expected empty string for negative length, got %q", s)
	}
}

func TestGenerateCycleID(t *testing.T) {
	id := GenerateCycleID()
	if !strings.HasPrefix(id, "c_") {
		t.Errorf("expected c_ prefix, got %s", id)
	}
	if len(id) != len("c_")+12 {
		t.Errorf("unexpected cycle id length: %s", id)
	}
}

func TestPickPhrase(t *testing.T) {
	phrases := []string{"first", "second", "third"}

	if got := PickPhrase(func(n int) int { return 1 }, phrases); got != "second" {
		t.Errorf("expected second, got %s", got)
	}
	if got := PickPhrase(nil, phrases); got != "first" {
		t.Errorf("nil picker should fall back to first, got %s", got)
	}
	if got := PickPhrase(func(n int) int { return 99 }, phrases); got != "first" {
		t.Errorf("out-of-range picker should fall back to first, got %s", got)
	}
	if got := PickPhrase(func(n int) int { return -1 }, phrases); got != "first" {
		t.Errorf("negative picker should fall back to first, got %s", got)
	}
	if got := PickPhrase(func(n int) int { return 0 }, nil); got != "" {
		t.Errorf("expected empty string for no phrases, got %q", got)
	}
}

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value        string
		defaultValue bool
		want         bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"No", true, false},
		{"off", true, false},
		{"", true, true},
		{"", false, false},
		{"maybe", true, true},
		{"maybe", false, false},
		{" true ", false, true},
	}
	for _, tc := range cases {
		t.Run(tc.value+"/default", func(t *testing.T) {
			t.Setenv("MOMENTPIPE_TEST_BOOL", tc.value)
			if got := ParseBoolEnv("MOMENTPIPE_TEST_BOOL", tc.defaultValue); got != tc.want {
				t.Errorf("value %q default %v: expected %v, got %v", tc.value, tc.defaultValue, tc.want, got)
			}
		})
	}
}
