// Package keys generates and materialises the per-machine credential
// keypair used for guest access.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

// DefaultBits is the RSA key size for generated keypairs.
const DefaultBits = 2048

// Generator produces RSA keypairs. The zero value uses DefaultBits.
type Generator struct {
	Bits int
}

// Generate returns a new keypair: the private key in PEM form and the
// public key in authorized_keys form.
func (g Generator) Generate() (privateKey, publicKey string, err error) {
	bits := g.Bits
	if bits == 0 {
		bits = DefaultBits
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate RSA key: %w", err)
	}
	if err := key.Validate(); err != nil {
		return "", "", fmt.Errorf("generated RSA key is invalid: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	pub, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to derive public key: %w", err)
	}
	pubLine := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub)))

	return string(privPEM), pubLine, nil
}

// MaterialiseFile writes the private key to path with mode 0600 if no
// key file exists yet. Check and create are a single atomic step
// (O_EXCL), so the file never briefly exists with looser permissions or
// partial content visible to another racing writer.
func MaterialiseFile(path, privateKey string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("failed to create key file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(privateKey); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write key file %s: %w", path, err)
	}
	return nil
}

// SSHFlags returns the ssh client flags for connecting with a
// materialised key file. Host key checking is disabled; trust records
// are managed through the known-hosts store instead.
func SSHFlags(keyFile string) []string {
	return []string{"-o", "StrictHostKeyChecking=no", "-i", keyFile}
}
