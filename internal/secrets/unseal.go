// Package secrets implements the SecretUnsealer: RSA decryption of
// "secret:"-prefixed environment values and "{{ ... }}" blob segments.
package secrets

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrNoKey is returned when a secret payload is encountered but no private
// key was configured.
var ErrNoKey = errors.New("secret encountered with no private key configured")

// ErrDecrypt is returned when RSA decryption fails (bad padding or wrong
// key).
var ErrDecrypt = errors.New("secret decryption failed")

// ErrBadUTF8 is returned when decrypted plaintext is not valid UTF-8.
var ErrBadUTF8 = errors.New("decrypted secret is not valid utf-8")

const secretPrefix = "secret:"

// Unsealer decrypts secret values and blob segments using an optional RSA
// private key. A nil key is valid: any input containing no secret markers
// passes through unchanged.
type Unsealer struct {
	key *rsa.PrivateKey
}

// New builds an Unsealer. key may be nil if the manifest declares no
// secrets.private_key.
func New(key *rsa.PrivateKey) *Unsealer {
	return &Unsealer{key: key}
}

// UnsealValue decrypts s if it begins with "secret:", otherwise returns it
// unchanged.
func (u *Unsealer) UnsealValue(s string) (string, error) {
	if !strings.HasPrefix(s, secretPrefix) {
		return s, nil
	}
	return u.decrypt(strings.TrimPrefix(s, secretPrefix))
}

func (u *Unsealer) decrypt(b64 string) (string, error) {
	if u.key == nil {
		return "", ErrNoKey
	}

	ciphertext, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	plaintext, err := rsa.DecryptPKCS1v15(rand.Reader, u.key, ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	if !utf8.Valid(plaintext) {
		return "", ErrBadUTF8
	}
	return string(plaintext), nil
}

// UnsealBlob scans b left to right, replacing every "{{ base64ciphertext }}"
// segment with its decrypted plaintext and leaving everything else
// untouched. An unterminated "{{" at end of input is treated as literal
// text. If b is not valid UTF-8 and no key is configured it is returned
// verbatim (there is nothing to decode); with a key configured the scan
// still requires valid UTF-8 and fails with ErrBadUTF8.
func (u *Unsealer) UnsealBlob(b []byte) ([]byte, error) {
	const open = "{{ "
	const closeTag = " }}"

	if u.key == nil && !utf8.Valid(b) {
		return b, nil
	}
	if !utf8.Valid(b) {
		return nil, ErrBadUTF8
	}

	s := string(b)
	var out strings.Builder
	out.Grow(len(s))

	for {
		start := strings.Index(s, open)
		if start == -1 {
			out.WriteString(s)
			break
		}
		end := strings.Index(s[start+len(open):], closeTag)
		if end == -1 {
			out.WriteString(s)
			break
		}
		out.WriteString(s[:start])

		payload := s[start+len(open) : start+len(open)+end]
		plaintext, err := u.decrypt(payload)
		if err != nil {
			return nil, err
		}
		out.WriteString(plaintext)

		s = s[start+len(open)+end+len(closeTag):]
	}

	return []byte(out.String()), nil
}
