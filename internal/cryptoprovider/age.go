// Package cryptoprovider implements core.CryptoProvider on top of
// filippo.io/age. Sealing uses an X25519 public key so unattended backup and
// prune operations never need the passphrase; unlocking a private key with
// its passphrase yields a Decryptor usable for restore and verify.
package cryptoprovider

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"filippo.io/age"
	"golang.org/x/crypto/blake2b"

	"dagback/internal/core"
)

var rndReader = rand.Reader

// AgeProvider implements core.CryptoProvider using an X25519 key pair for
// sealing/opening and a separate 32-byte key for OID derivation. The public
// key and the MAC key are stored in plaintext; the private key is stored
// encrypted under a passphrase-derived scrypt recipient.
type AgeProvider struct {
	publicKeyPath  string
	privateKeyPath string
	macKeyPath     string

	macOnce sync.Once
	macKey  []byte
	macErr  error
}

var _ core.CryptoProvider = (*AgeProvider)(nil)

// NewAgeProvider builds an AgeProvider from key file locations.
func NewAgeProvider(publicKeyPath, privateKeyPath, macKeyPath string) *AgeProvider {
	return &AgeProvider{
		publicKeyPath:  publicKeyPath,
		privateKeyPath: privateKeyPath,
		macKeyPath:     macKeyPath,
	}
}

// Setup generates a new X25519 identity and a new random MAC key, writes the
// public key and MAC key in plaintext, and encrypts the private key with the
// passphrase using age's scrypt-based passphrase encryption. The MAC key is
// deliberately distinct from the age key pair: it never needs to be kept
// secret from the local host running unattended backups, only from the
// remote storage backend, so it travels alongside the public key rather than
// behind the passphrase.
func (p *AgeProvider) Setup(passphrase string) error {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("cryptoprovider: generating key pair: %w", err)
	}

	for _, path := range []string{p.publicKeyPath, p.privateKeyPath, p.macKeyPath} {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return fmt.Errorf("cryptoprovider: creating key directory: %w", err)
		}
	}

	if err := os.WriteFile(p.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("cryptoprovider: writing public key: %w", err)
	}

	macKey := make([]byte, 32)
	if _, err := io.ReadFull(rndReader, macKey); err != nil {
		return fmt.Errorf("cryptoprovider: generating mac key: %w", err)
	}
	if err := os.WriteFile(p.macKeyPath, macKey, 0600); err != nil {
		return fmt.Errorf("cryptoprovider: writing mac key: %w", err)
	}

	privFile, err := os.OpenFile(p.privateKeyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("cryptoprovider: creating private key file: %w", err)
	}
	defer privFile.Close()

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("cryptoprovider: creating scrypt recipient: %w", err)
	}

	w, err := age.Encrypt(privFile, recipient)
	if err != nil {
		return fmt.Errorf("cryptoprovider: creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return fmt.Errorf("cryptoprovider: writing encrypted private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("cryptoprovider: finalizing encrypted private key: %w", err)
	}

	return nil
}

// MAC returns the keyed blake2b digest of plaintext, using the dedicated
// MAC key rather than any age key material. The key is read from disk once
// and cached; a missing or corrupt key file is a provisioning error that a
// provider constructed against an initialized vault should never hit, so it
// panics rather than threading an error through every OID computation site.
func (p *AgeProvider) MAC(plaintext []byte) core.OID {
	p.macOnce.Do(func() {
		p.macKey, p.macErr = os.ReadFile(p.macKeyPath)
	})
	if p.macErr != nil {
		panic(fmt.Sprintf("cryptoprovider: reading mac key: %v", p.macErr))
	}
	h, err := blake2b.New256(p.macKey)
	if err != nil {
		panic(fmt.Sprintf("cryptoprovider: creating mac: %v", err))
	}
	h.Write(plaintext)
	var oid core.OID
	copy(oid[:], h.Sum(nil))
	return oid
}

// Seal encrypts r into w using the stored public key. It never needs the
// passphrase, so it is safe to call from unattended backup and prune runs.
func (p *AgeProvider) Seal(r io.Reader, w io.Writer) error {
	recipient, err := p.loadRecipient()
	if err != nil {
		return fmt.Errorf("cryptoprovider: loading public key: %w", err)
	}

	encWriter, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("cryptoprovider: creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("cryptoprovider: sealing data: %w", err)
	}
	return encWriter.Close()
}

// Unlock decrypts the private key using passphrase and returns a Decryptor
// holding the unlocked identity, for use by interactive restore and verify.
func (p *AgeProvider) Unlock(passphrase string) (core.Decryptor, error) {
	privData, err := os.ReadFile(p.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("cryptoprovider: reading private key file: %w", err)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("cryptoprovider: creating scrypt identity: %w", err)
	}

	decReader, err := age.Decrypt(bytes.NewReader(privData), identity)
	if err != nil {
		return nil, &core.AuthFail{Err: fmt.Errorf("decrypting private key: %w", err)}
	}

	keyData, err := io.ReadAll(decReader)
	if err != nil {
		return nil, fmt.Errorf("cryptoprovider: reading decrypted private key: %w", err)
	}

	identities, err := age.ParseIdentities(bytes.NewReader(keyData))
	if err != nil {
		return nil, fmt.Errorf("cryptoprovider: parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("cryptoprovider: no identities found in private key")
	}

	return &ageDecryptor{identity: identities[0]}, nil
}

// IsConfigured reports whether the key files already exist.
func (p *AgeProvider) IsConfigured() bool {
	for _, path := range []string{p.publicKeyPath, p.privateKeyPath, p.macKeyPath} {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

func (p *AgeProvider) loadRecipient() (age.Recipient, error) {
	pubData, err := os.ReadFile(p.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	recipients, err := age.ParseRecipients(bytes.NewReader(pubData))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients found in public key file")
	}
	return recipients[0], nil
}

// ageDecryptor holds an unlocked age identity for decrypting data.
type ageDecryptor struct {
	identity age.Identity
}

var _ core.Decryptor = (*ageDecryptor)(nil)

func (d *ageDecryptor) Open(r io.Reader, w io.Writer) error {
	decReader, err := age.Decrypt(r, d.identity)
	if err != nil {
		return &core.AuthFail{Err: fmt.Errorf("cryptoprovider: creating decrypted reader: %w", err)}
	}
	if _, err := io.Copy(w, decReader); err != nil {
		return &core.AuthFail{Err: fmt.Errorf("cryptoprovider: opening data: %w", err)}
	}
	return nil
}
