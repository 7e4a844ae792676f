package core

import (
	"testing"
	"time"
)

// envCase sets key to value for one subtest; unset means the variable is
// left empty, which every parser treats as missing.
type envCase[T comparable] struct {
	name  string
	value string
	def   T
	want  T
}

func runEnvCases[T comparable](t *testing.T, key string, parse func(string, T) T, cases []envCase[T]) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(key, tc.value)
			if got := parse(key, tc.def); got != tc.want {
				t.Errorf("%s=%q: got %v, want %v", key, tc.value, got, tc.want)
			}
		})
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	runEnvCases(t, "SDG_TEST_STRING", GetEnvOrDefault, []envCase[string]{
		{"set", "http://a:7860", "x", "http://a:7860"},
		{"empty", "", "x", "x"},
		{"blank", "   ", "x", "x"},
		{"trimmed", "  verbose ", "image", "verbose"},
	})
}

func TestParseIntEnv(t *testing.T) {
	runEnvCases(t, "SDG_TEST_INT", ParseIntEnv, []envCase[int]{
		{"valid", "42", 0, 42},
		{"negative", "-10", 0, -10},
		{"invalid", "three", 99, 99},
		{"empty", "", 55, 55},
	})
}

func TestParseInt64Env(t *testing.T) {
	runEnvCases(t, "SDG_TEST_INT64", ParseInt64Env, []envCase[int64]{
		{"max", "9223372036854775807", 0, 9223372036854775807},
		{"overflow", "9223372036854775808", 7, 7},
		{"invalid", "ten", 100, 100},
	})
}

func TestParseFloat64Env(t *testing.T) {
	runEnvCases(t, "SDG_TEST_FLOAT", ParseFloat64Env, []envCase[float64]{
		{"float", "7.5", 0, 7.5},
		{"integer", "42", 0, 42},
		{"invalid", "high", 2.5, 2.5},
	})
}

func TestParseBoolEnv(t *testing.T) {
	var cases []envCase[bool]
	for _, v := range []string{"true", "TRUE", "True", "1", "yes", "YES", "on", "ON", "  true  "} {
		cases = append(cases, envCase[bool]{v, v, false, true})
	}
	for _, v := range []string{"false", "FALSE", "0", "no", "off"} {
		cases = append(cases, envCase[bool]{v, v, true, false})
	}
	cases = append(cases,
		envCase[bool]{"empty keeps true", "", true, true},
		envCase[bool]{"empty keeps false", "", false, false},
		envCase[bool]{"invalid keeps default", "maybe", true, true},
	)
	runEnvCases(t, "SDG_TEST_BOOL", ParseBoolEnv, cases)
}

func TestParseDurationEnv(t *testing.T) {
	runEnvCases(t, "SDG_TEST_DURATION", ParseDurationEnv, []envCase[time.Duration]{
		{"bare seconds", "30", time.Minute, 30 * time.Second},
		{"duration syntax", "2m30s", time.Minute, 150 * time.Second},
		{"invalid", "soon", time.Minute, time.Minute},
		{"empty", "", 2 * time.Minute, 2 * time.Minute},
	})
}

func TestParseListEnv(t *testing.T) {
	t.Setenv("SDG_TEST_LIST", " http://a:7860, ,http://b:7860 ,")
	got := ParseListEnv("SDG_TEST_LIST")
	want := []string{"http://a:7860", "http://b:7860"}
	if len(got) != len(want) {
		t.Fatalf("ParseListEnv() = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ParseListEnv()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	t.Setenv("SDG_TEST_LIST", "")
	if got := ParseListEnv("SDG_TEST_LIST"); got != nil {
		t.Errorf("ParseListEnv() empty = %q, want nil", got)
	}
}
