package core

import "io"

// OID is an object identifier: the fixed-width output of the Crypto
// Provider's keyed MAC over an object's canonical plaintext payload.
// Rendered as lowercase hex when used as a storage key or a foreign
// reference.
type OID [32]byte

// CryptoProvider exposes the three primitives the core needs over a
// long-lived key material triple (password-derived symmetric key used to
// protect the private key at rest, public key, MAC key). All primitives
// are authenticated. The asymmetric split lets backup and prune run
// unattended (they only ever need the public key and the MAC key);
// restore and verify additionally require the password-unlocked private
// key.
type CryptoProvider interface {
	// MAC computes the deterministic keyed MAC of plaintext, used as an
	// object identifier. Never requires interactive unlocking.
	MAC(plaintext []byte) OID

	// Seal encrypts plaintext read from r and writes self-authenticating
	// ciphertext to w, using the public key only.
	Seal(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key using passphrase and returns a
	// Decryptor usable for the remainder of the session. Returns an
	// AuthFail-wrapped error if the passphrase is wrong.
	Unlock(passphrase string) (Decryptor, error)
}

// Decryptor holds an unlocked private key in memory for the duration of a
// restore session. The unlocked key is held in memory only and is never
// written to disk.
type Decryptor interface {
	// Open decrypts ciphertext read from r and writes plaintext to w.
	// Fails with an AuthFail-wrapped error if the integrity check fails.
	Open(r io.Reader, w io.Writer) error
}
