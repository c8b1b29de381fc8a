package config

import (
	"testing"
	"time"
)

func TestEnvString(t *testing.T) {
	t.Setenv("WS_TEST_STR", "hello")
	if v, ok := EnvString("WS_TEST_STR"); !ok || v != "hello" {
		t.Errorf("EnvString() = %q, %v; want hello, true", v, ok)
	}
	if _, ok := EnvString("WS_TEST_STR_MISSING"); ok {
		t.Error("EnvString() reported a missing variable as set")
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("WS_TEST_INT", "42")
	v, ok, err := EnvInt("WS_TEST_INT")
	if err != nil || !ok || v != 42 {
		t.Errorf("EnvInt() = %d, %v, %v; want 42, true, nil", v, ok, err)
	}

	t.Setenv("WS_TEST_INT_BAD", "many")
	if _, _, err := EnvInt("WS_TEST_INT_BAD"); err == nil {
		t.Error("EnvInt() accepted a non-integer value")
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("WS_TEST_BOOL", "true")
	v, ok, err := EnvBool("WS_TEST_BOOL")
	if err != nil || !ok || !v {
		t.Errorf("EnvBool() = %v, %v, %v; want true, true, nil", v, ok, err)
	}

	t.Setenv("WS_TEST_BOOL_BAD", "yep")
	if _, _, err := EnvBool("WS_TEST_BOOL_BAD"); err == nil {
		t.Error("EnvBool() accepted a non-boolean value")
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("WS_TEST_DUR", "45s")
	v, ok, err := EnvDuration("WS_TEST_DUR")
	if err != nil || !ok || v != 45*time.Second {
		t.Errorf("EnvDuration() = %v, %v, %v; want 45s, true, nil", v, ok, err)
	}

	t.Setenv("WS_TEST_DUR_BAD", "soon")
	if _, _, err := EnvDuration("WS_TEST_DUR_BAD"); err == nil {
		t.Error("EnvDuration() accepted a non-duration value")
	}
}
