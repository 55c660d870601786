package passphrase

import (
	"errors"
	"strings"
	"testing"
)

func TestSourcePrefersEnvironment(t *testing.T) {
	src := NewSource("MINT_VIEWING_KEY", "viewing key")
	src.lookup = func(name string) (string, bool) {
		if name != "MINT_VIEWING_KEY" {
			t.Fatalf("unexpected lookup %s", name)
		}
		return "from-env", true
	}
	src.prompt = func(string) (string, error) {
		t.Fatal("prompt should not run when the variable is set")
		return "", nil
	}
	got, err := src.Get()
	if err != nil || got != "from-env" {
		t.Fatalf("got %q err=%v", got, err)
	}
}

func TestSourceRejectsEmptyVariable(t *testing.T) {
	src := NewSource("MINT_VIEWING_KEY", "viewing key")
	src.lookup = func(string) (string, bool) { return "  ", true }
	if _, err := src.Get(); err == nil || !strings.Contains(err.Error(), "set but empty") {
		t.Fatalf("expected empty variable error, got %v", err)
	}
}

func TestSourcePromptsOnceAndCaches(t *testing.T) {
	calls := 0
	src := NewSource("", "viewing key")
	src.lookup = func(string) (string, bool) { return "", false }
	src.prompt = func(label string) (string, error) {
		calls++
		if label != "viewing key" {
			t.Fatalf("unexpected label %q", label)
		}
		return "typed", nil
	}
	for i := 0; i < 2; i++ {
		got, err := src.Get()
		if err != nil || got != "typed" {
			t.Fatalf("got %q err=%v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one prompt, got %d", calls)
	}
}

func TestSourcePromptFailureNamesVariable(t *testing.T) {
	src := NewSource("MINT_VIEWING_KEY", "viewing key")
	src.lookup = func(string) (string, bool) { return "", false }
	src.prompt = func(string) (string, error) { return "", errors.New("no terminal") }
	_, err := src.Get()
	if err == nil || !strings.Contains(err.Error(), "MINT_VIEWING_KEY") {
		t.Fatalf("expected error naming the variable, got %v", err)
	}
}
