package httptransport

import (
	"errors"
	"fmt"
	"net/http"

	jose "github.com/go-jose/go-jose/v4"

	"issuer/internal/keys"
)

var errNoDecryptionKey = errors.New("no encryption key can open the payload")

// cookieCodec seals cookie payloads as compact JWE objects using the key
// manager's encryption keys. Opening tries every non-purged key so cookies
// sealed before a rotation stay readable.
type cookieCodec struct {
	keys *keys.Manager
}

func (c *cookieCodec) Seal(data []byte) (string, error) {
	key := c.keys.EncryptionKey()
	enc, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{
		Algorithm: jose.RSA_OAEP_256,
		Key:       &key.Private.PublicKey,
		KeyID:     key.ID,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("build encrypter: %w", err)
	}
	obj, err := enc.Encrypt(data)
	if err != nil {
		return "", fmt.Errorf("seal payload: %w", err)
	}
	return obj.CompactSerialize()
}

func (c *cookieCodec) Open(sealed string) ([]byte, error) {
	obj, err := jose.ParseEncrypted(sealed,
		[]jose.KeyAlgorithm{jose.RSA_OAEP_256},
		[]jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	for _, key := range c.keys.EncryptionKeys() {
		if data, err := obj.Decrypt(key.Private); err == nil {
			return data, nil
		}
	}
	return nil, errNoDecryptionKey
}

// cookieJar is the request-scoped cookie capability handed to providers and
// used for the authorization cookie itself. Values round-trip through the
// codec, so nothing stored here is readable by the browser.
type cookieJar struct {
	codec *cookieCodec
}

func (j *cookieJar) Set(w http.ResponseWriter, r *http.Request, name string, value []byte, maxAge int) error {
	sealed, err := j.codec.Seal(value)
	if err != nil {
		return err
	}
	cookie := &http.Cookie{
		Name:     name,
		Value:    sealed,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
	}
	if requestIsTLS(r) {
		cookie.Secure = true
		cookie.SameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, cookie)
	return nil
}

func (j *cookieJar) Get(r *http.Request, name string) ([]byte, error) {
	cookie, err := r.Cookie(name)
	if err != nil {
		return nil, err
	}
	return j.codec.Open(cookie.Value)
}

func (j *cookieJar) Unset(w http.ResponseWriter, r *http.Request, name string) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	}
	if requestIsTLS(r) {
		cookie.Secure = true
		cookie.SameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, cookie)
}

func requestIsTLS(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}
