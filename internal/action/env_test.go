package action

import "testing"

func TestEnvGet(t *testing.T) {
	t.Setenv("TASKDSL_TEST_VAR", "hello")

	got, err := call(t, nil, "env.get", map[string]any{"name": "TASKDSL_TEST_VAR"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello" {
		t.Errorf("expected hello, got %v", got)
	}
}

func TestEnvGetMissing(t *testing.T) {
	if _, err := call(t, nil, "env.get", map[string]any{"name": "TASKDSL_TEST_UNSET_12345"}); err == nil {
		t.Fatal("expected error for unset variable")
	}

	got, err := call(t, nil, "env.get", map[string]any{"name": "TASKDSL_TEST_UNSET_12345", "default": 7})
	if err != nil {
		t.Fatal(err)
	}
	if got != 7 {
		t.Errorf("expected default 7, got %v", got)
	}
}

func TestEnvGetArguments(t *testing.T) {
	if _, err := call(t, nil, "env.get", map[string]any{}); err == nil {
		t.Fatal("expected error for missing name")
	}
	if _, err := call(t, nil, "env.get", map[string]any{"name": "X", "fallback": "y"}); err == nil {
		t.Fatal("expected error for unexpected argument")
	}
}
