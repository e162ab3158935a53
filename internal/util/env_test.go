package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value        string
		defaultValue bool
		want         bool
	}{
		{"true", false, true},
		{"TRUE", false, true},
		{"1", false, true},
		{"yes", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
		{"off", true, false},
		{" true ", false, true},
		{"maybe", true, true},
		{"maybe", false, false},
		{"", true, true},
		{"", false, false},
	}
	for _, tc := range cases {
		t.Setenv("REFLECTLOOP_TEST_BOOL", tc.value)
		if got := ParseBoolEnv("REFLECTLOOP_TEST_BOOL", tc.defaultValue); got != tc.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tc.value, tc.defaultValue, got, tc.want)
		}
	}
}

func TestGetenvDefault(t *testing.T) {
	t.Setenv("REFLECTLOOP_TEST_STRING", "configured")
	if got := GetenvDefault("REFLECTLOOP_TEST_STRING", "fallback"); got != "configured" {
		t.Errorf("expected configured value, got %q", got)
	}
	t.Setenv("REFLECTLOOP_TEST_STRING", "")
	if got := GetenvDefault("REFLECTLOOP_TEST_STRING", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
}
