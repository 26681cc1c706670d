package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestSecretRedaction(t *testing.T) {
	s := NewSecret("hunter2")

	for _, format := range []string{"%v", "%s", "%+v", "%#v", "%q"} {
		out := fmt.Sprintf(format, s)
		if strings.Contains(out, "hunter2") {
			t.Errorf("format %s leaked secret: %s", format, out)
		}
	}

	info := ConnectionInfo{Host: "example.com", Username: "root", Port: 22, Credential: s}
	if out := fmt.Sprintf("%+v", info); strings.Contains(out, "hunter2") {
		t.Errorf("ConnectionInfo formatting leaked secret: %s", out)
	}

	data, err := json.Marshal(info)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "hunter2") {
		t.Errorf("JSON leaked secret: %s", data)
	}
}

func TestSecretZero(t *testing.T) {
	s := NewSecret("password")
	backing := s

	s.Zero()

	if !s.IsEmpty() {
		t.Error("secret should be empty after Zero")
	}
	for i, b := range backing {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %d", i, b)
		}
	}
}

func TestConnectionInfoCloneIsIndependent(t *testing.T) {
	info := ConnectionInfo{Host: "h", Username: "u", Port: 22, Credential: NewSecret("pw")}
	clone := info.Clone()

	info.Clear()

	if clone.Credential.Reveal() != "pw" {
		t.Errorf("clone credential = %q, want %q", clone.Credential.Reveal(), "pw")
	}
	if !info.Credential.IsEmpty() {
		t.Error("original credential should be cleared")
	}
	if clone.Target() != "u@h" {
		t.Errorf("Target() = %q", clone.Target())
	}
}

func TestSessionStateString(t *testing.T) {
	tests := map[SessionState]string{
		StateDisconnected:  "disconnected",
		StateConnecting:    "connecting",
		StateConnected:     "connected",
		StateDisconnecting: "disconnecting",
		StateFailed:        "failed",
		SessionState(99):   "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(state), got, want)
		}
	}
}
