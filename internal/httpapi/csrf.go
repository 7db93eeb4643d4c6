package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	csrfHeader = "X-CSRF-Token"
	csrfTTL    = 2 * time.Hour
)

// csrfSigner issues and checks HMAC-signed tokens of the form
// nonce.expiry.signature. Tokens are stateless; the signature covers the
// nonce and expiry.
type csrfSigner struct {
	secret []byte
	now    func() time.Time
}

func newCSRFSigner(secret string) *csrfSigner {
	if secret == "" {
		return nil
	}
	return &csrfSigner{secret: []byte(secret), now: time.Now}
}

func (s *csrfSigner) issue() (string, time.Time, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", time.Time{}, err
	}
	expires := s.now().Add(csrfTTL).UTC()
	encNonce := base64.RawURLEncoding.EncodeToString(nonce)
	encExpiry := strconv.FormatInt(expires.Unix(), 10)
	sig := s.sign(encNonce, encExpiry)
	return encNonce + "." + encExpiry + "." + sig, expires, nil
}

func (s *csrfSigner) validate(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || s.now().Unix() > expiry {
		return false
	}
	expected := s.sign(parts[0], parts[1])
	return hmac.Equal([]byte(expected), []byte(parts[2]))
}

func (s *csrfSigner) sign(nonce, expiry string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(nonce))
	mac.Write([]byte{'.'})
	mac.Write([]byte(expiry))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.csrf == nil {
		writeError(w, r, http.StatusServiceUnavailable, "CSRF protection disabled", "csrf_disabled")
		return
	}
	token, expires, err := a.csrf.issue()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed", "internal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expires.Format(time.RFC3339),
	})
}

func (a *API) validCSRF(r *http.Request) bool {
	if a.csrf == nil {
		return false
	}
	return a.csrf.validate(strings.TrimSpace(r.Header.Get(csrfHeader)))
}
