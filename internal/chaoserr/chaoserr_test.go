package chaoserr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesByKind(t *testing.T) {
	err := E(KindTimeout, "executor.attempt", "no reply", errors.New("i/o timeout"))
	wrapped := fmt.Errorf("dispatch: %w", err)

	if !errors.Is(wrapped, ErrTimeout) {
		t.Errorf("expected errors.Is(ErrTimeout) to match")
	}
	if errors.Is(wrapped, ErrTargetUnreachable) {
		t.Errorf("timeout must not match ErrTargetUnreachable")
	}
	if KindOf(wrapped) != KindTimeout {
		t.Errorf("KindOf: got %v", KindOf(wrapped))
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{E(KindTargetUnreachable, "", "", nil), true},
		{E(KindTimeout, "", "", nil), true},
		{E(KindAuthentication, "", "", nil), false},
		{E(KindActionRejected, "", "", nil), false},
		{errors.New("plain"), false},
	}
	for _, c := range cases {
		if got := Retryable(c.err); got != c.want {
			t.Errorf("Retryable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestValidationMessageIsStable(t *testing.T) {
	err := Validation("registry.Register", map[string]string{"server.host": "required", "name": "required"})
	want := "registry.Register: validation error: name: required; server.host: required"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
	if FieldsOf(err)["name"] != "required" {
		t.Errorf("fields not preserved: %v", FieldsOf(err))
	}
}

func TestOuterKindWins(t *testing.T) {
	inner := E(KindTargetUnreachable, "ssh.dial", "", errors.New("connection refused"))
	outer := E(KindProbe, "registry.CheckStatus", "", inner)
	if KindOf(outer) != KindProbe {
		t.Errorf("KindOf: got %v, want probe", KindOf(outer))
	}
	if !errors.Is(outer, ErrTargetUnreachable) {
		t.Errorf("inner kind should remain reachable through the chain")
	}
}
