package models

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
)

const redacted = "[SECRET]"

// Secret holds a session credential. It redacts itself under fmt verbs and
// JSON/text marshaling so it cannot leak through logs or events.
type Secret []byte

// NewSecret copies s into a new Secret.
func NewSecret(s string) Secret {
	return Secret([]byte(s))
}

// String redacts the secret for fmt.Print* convenience.
func (s Secret) String() string { return redacted }

// Format implements fmt.Formatter so %v, %#v, %q and friends are redacted.
func (s Secret) Format(f fmt.State, _ rune) {
	_, _ = io.WriteString(f, redacted)
}

// MarshalJSON redacts secrets in JSON marshaling.
func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(redacted) }

// MarshalText redacts secrets for text encoding.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// IsEmpty reports whether no credential is held.
func (s Secret) IsEmpty() bool { return len(s) == 0 }

// Reveal returns the plaintext. Only the transport layer should call it, at
// the moment the credential is handed to the authentication mechanism.
func (s Secret) Reveal() string { return string(s) }

// Clone returns an independent copy, so zeroing one does not affect the other.
func (s Secret) Clone() Secret {
	if s == nil {
		return nil
	}
	out := make(Secret, len(s))
	copy(out, s)
	return out
}

// Zero overwrites the underlying bytes with zeros.
func (s *Secret) Zero() {
	if s == nil || *s == nil {
		return
	}
	for i := range *s {
		(*s)[i] = 0
	}
	*s = nil
}

// ConnectionInfo identifies the remote endpoint and how to authenticate.
// Treated as immutable once a connection attempt starts.
type ConnectionInfo struct {
	Host     string
	Username string
	Port     int

	// Credential is the password for password authentication. Empty means
	// key-based authentication (IdentityFile or the user's ssh defaults).
	Credential Secret

	// IdentityFile is an optional private key path.
	IdentityFile string
}

// Target returns user@host as understood by ssh and scp.
func (c ConnectionInfo) Target() string {
	return c.Username + "@" + c.Host
}

// Address returns host:port for dialing.
func (c ConnectionInfo) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Clone returns a copy that owns its own credential bytes.
func (c ConnectionInfo) Clone() ConnectionInfo {
	c.Credential = c.Credential.Clone()
	return c
}

// Clear zeroes the credential. Host and user are kept for display.
func (c *ConnectionInfo) Clear() {
	c.Credential.Zero()
}
