package qemu

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/onkernel/qsynth/lib/caps"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/onkernel/qsynth/lib/qemu/props"
	"golang.org/x/crypto/hkdf"
)

const masterKeyAlias = "masterKey0"

// masterKeySize is the AES-256 key length QEMU expects for keyid secrets.
const masterKeySize = 32

// ensureMasterKey emits the secret object holding the wrapping key, once per run.
func (c *SynthesisContext) ensureMasterKey() error {
	if c.masterKey {
		return nil
	}
	if len(c.env.MasterKey) != masterKeySize || c.env.MasterKeyPath == "" {
		return inconsistent("master key is not configured")
	}
	p := props.Object("secret", masterKeyAlias).
		Set("format", "raw").
		Set("file", c.env.MasterKeyPath)
	if err := c.addObject(p); err != nil {
		return err
	}
	c.masterKey = true
	return nil
}

// secretObject emits an AES wrapped secret object carrying value. ok is false
// when the target lacks secret objects, in which case nothing is emitted and
// the caller falls back to passing the credential inline.
func (c *SynthesisContext) secretObject(id string, value []byte) (ok bool, err error) {
	if !c.has(caps.ObjectSecret) {
		return false, nil
	}
	if err := c.ensureMasterKey(); err != nil {
		return false, err
	}

	data, iv, err := c.wrapSecret(id, value)
	if err != nil {
		return false, err
	}
	p := props.Object("secret", id).
		Set("data", data).
		Set("keyid", masterKeyAlias).
		Set("iv", iv).
		Set("format", "base64")
	if err := c.addObject(p); err != nil {
		return false, err
	}
	return true, nil
}

// wrapSecret encrypts value with AES-256-CBC under the master key. The IV is
// derived from the secret id so repeated runs produce identical output.
func (c *SynthesisContext) wrapSecret(id string, value []byte) (data, iv string, err error) {
	block, err := aes.NewCipher(c.env.MasterKey)
	if err != nil {
		return "", "", inconsistent("master key: %v", err)
	}

	ivBytes := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, c.env.MasterKey, nil, []byte(id)), ivBytes); err != nil {
		return "", "", inconsistent("derive iv: %v", err)
	}

	pad := aes.BlockSize - len(value)%aes.BlockSize
	plain := append(bytes.Clone(value), bytes.Repeat([]byte{byte(pad)}, pad)...)
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, ivBytes).CryptBlocks(out, plain)

	return base64.StdEncoding.EncodeToString(out), base64.StdEncoding.EncodeToString(ivBytes), nil
}

func (c *SynthesisContext) lookupSecret(ref domain.SecretRef) ([]byte, error) {
	if c.env.Secrets == nil {
		return nil, inconsistent("no secret store configured")
	}
	v, err := c.env.Secrets.LookupSecret(c.ctx, ref)
	if err != nil {
		name := ref.UUID
		if name == "" {
			name = ref.Usage
		}
		return nil, acquisition(err, "look up secret %s", name)
	}
	return v, nil
}

// tlsCredsObject emits a tls-creds-x509 object once per id. There is no
// plaintext fallback: a target without x509 credentials fails the run.
func (c *SynthesisContext) tlsCredsObject(id, dir string, listen, verifyPeer bool, passwordID string) error {
	if err := c.require(caps.ObjectTLSCredsX509, "TLS (tls-creds-x509)"); err != nil {
		return err
	}
	if c.objects[id] {
		return nil
	}
	if dir == "" {
		return unsupported("TLS requested for %s but no certificate directory is configured", id)
	}

	endpoint := "client"
	if listen {
		endpoint = "server"
	} else {
		verifyPeer = true
	}
	p := props.Object("tls-creds-x509", id).
		Set("dir", dir).
		Set("endpoint", endpoint).
		Bool("verify-peer", verifyPeer).
		Str("passwordid", passwordID)
	if err := c.addObject(p); err != nil {
		return err
	}
	c.objects[id] = true
	return nil
}
