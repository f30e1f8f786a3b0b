package main

import (
	"strings"
	"testing"
)

func TestAgentAdd_PasswordFromStdin(t *testing.T) {
	cfg := writeTestConfig(t, "")
	if _, err := runCmd(t, nil, "db", "init", "--config", cfg); err != nil {
		t.Fatalf("db init: %v", err)
	}

	out, err := runCmd(t, strings.NewReader("hunter2\n"), "agent", "add", "--config", cfg, "--name", "Ana", "--email", "Ana@Example.com")
	if err != nil {
		t.Fatalf("agent add: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Ana <ana@example.com>, capacity 3") {
		t.Errorf("unexpected output: %s", out)
	}

	out, err = runCmd(t, nil, "agent", "list", "--config", cfg)
	if err != nil {
		t.Fatalf("agent list: %v", err)
	}
	for _, want := range []string{"EMAIL", "ana@example.com", "offline"} {
		if !strings.Contains(out, want) {
			t.Errorf("list missing %q: %s", want, out)
		}
	}
}

func TestAgentAdd_DuplicateEmail(t *testing.T) {
	cfg := writeTestConfig(t, "")
	if _, err := runCmd(t, nil, "db", "init", "--config", cfg); err != nil {
		t.Fatalf("db init: %v", err)
	}
	args := []string{"agent", "add", "--config", cfg, "--email", "ana@example.com", "--password", "pw"}
	if _, err := runCmd(t, nil, args...); err != nil {
		t.Fatalf("first add: %v", err)
	}
	_, err := runCmd(t, nil, args...)
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("err = %v, want email taken", err)
	}
}

func TestAgentAdd_EmptyStdin(t *testing.T) {
	cfg := writeTestConfig(t, "")
	if _, err := runCmd(t, nil, "db", "init", "--config", cfg); err != nil {
		t.Fatalf("db init: %v", err)
	}
	_, err := runCmd(t, strings.NewReader(""), "agent", "add", "--config", cfg, "--email", "ana@example.com")
	if err == nil || !strings.Contains(err.Error(), "read password") {
		t.Fatalf("err = %v, want read password error", err)
	}
}

func TestAgentAdd_RequiresEmail(t *testing.T) {
	_, err := runCmd(t, nil, "agent", "add", "--password", "pw")
	if err == nil || !strings.Contains(err.Error(), "email") {
		t.Fatalf("err = %v, want missing email flag", err)
	}
}

func TestAgentList_Empty(t *testing.T) {
	cfg := writeTestConfig(t, "")
	if _, err := runCmd(t, nil, "db", "init", "--config", cfg); err != nil {
		t.Fatalf("db init: %v", err)
	}
	out, err := runCmd(t, nil, "agent", "list", "--config", cfg)
	if err != nil {
		t.Fatalf("agent list: %v", err)
	}
	if !strings.Contains(out, "No agents registered.") {
		t.Errorf("unexpected output: %s", out)
	}
}
