package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwe"
	"github.com/lestrrat-go/jwx/v2/jws"
	"golang.org/x/crypto/hkdf"
)

const minSecretLength = 16

// cookieCodec seals the session token: signed with HS256, then encrypted with A256GCM.
type cookieCodec struct {
	signKey    []byte
	encryptKey []byte
}

func deriveKey(secret []byte, info string) ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", info, err)
	}
	return key, nil
}

func newCookieCodec(secret []byte) (*cookieCodec, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", minSecretLength)
	}
	signKey, err := deriveKey(secret, "zero-gate cookie signature")
	if err != nil {
		return nil, err
	}
	encryptKey, err := deriveKey(secret, "zero-gate cookie encryption")
	if err != nil {
		return nil, err
	}
	return &cookieCodec{signKey: signKey, encryptKey: encryptKey}, nil
}

func (c *cookieCodec) Encode(id string) (string, error) {
	signed, err := jws.Sign([]byte(id), jws.WithKey(jwa.HS256, c.signKey))
	if err != nil {
		return "", fmt.Errorf("sign session cookie: %w", err)
	}
	encrypted, err := jwe.Encrypt(signed, jwe.WithContentEncryption(jwa.A256GCM), jwe.WithKey(jwa.DIRECT, c.encryptKey))
	if err != nil {
		return "", fmt.Errorf("encrypt session cookie: %w", err)
	}
	return string(encrypted), nil
}

func (c *cookieCodec) Decode(value string) (string, error) {
	signed, err := jwe.Decrypt([]byte(value), jwe.WithKey(jwa.DIRECT, c.encryptKey))
	if err != nil {
		return "", fmt.Errorf("decrypt session cookie: %w", err)
	}
	id, err := jws.Verify(signed, jws.WithKey(jwa.HS256, c.signKey))
	if err != nil {
		return "", fmt.Errorf("verify session cookie: %w", err)
	}
	if len(id) == 0 {
		return "", errors.New("empty session cookie")
	}
	return string(id), nil
}
