package component

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/opencontainers/go-digest"
)

// encMode produces Core Deterministic CBOR (RFC 8949 §4.2) so identical key
// material always hashes to the same digest.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("component: CBOR encoder initialization failed: " + err.Error())
	}
}

// Key is the content address of a configuration, an OCI style digest such as
// "sha256:5e3c...".
type Key string

func (k Key) String() string { return string(k) }

// Short returns the first 12 hex characters of the digest, for logs.
func (k Key) Short() string {
	d := digest.Digest(k)
	if d.Validate() != nil {
		return string(k)
	}
	hex := d.Encoded()
	if len(hex) > 12 {
		hex = hex[:12]
	}
	return hex
}

// KeyMaterial is everything that makes two configurations interchangeable.
type KeyMaterial struct {
	Scope        Scope    `cbor:"1,keyasint"`
	Installation string   `cbor:"2,keyasint,omitempty"`
	Members      []string `cbor:"3,keyasint"`
	Dependencies []Key    `cbor:"4,keyasint"`
	Mode         string   `cbor:"5,keyasint,omitempty"`
}

// ComputeKey hashes m. Only installation scoped material keeps its
// installation name; for other scopes it is cleared so equal graphs share keys
// across installations.
func ComputeKey(m KeyMaterial) (Key, error) {
	if m.Scope != ScopeInstallation {
		m.Installation = ""
	}
	b, err := encMode.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode key material: %w", err)
	}
	return Key(digest.FromBytes(b)), nil
}
