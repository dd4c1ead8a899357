package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// requireAPIKey provides simple Bearer token authentication for the
// dispatch API.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.APIKey == "" {
			s.log.Error().Msg("api key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if bearerToken(r) != s.cfg.Server.APIKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// ===== Per-job stream tokens =====

// StreamTokenManager mints and verifies short-lived HS256 tokens scoped
// to a single job, so EventSource clients (which cannot set headers) can
// attach to that job's stream and nothing else.
type StreamTokenManager struct {
	secret []byte
	ttl    time.Duration
}

func NewStreamTokenManager(secret string, ttl time.Duration) *StreamTokenManager {
	return &StreamTokenManager{secret: []byte(secret), ttl: ttl}
}

func (m *StreamTokenManager) Enabled() bool { return len(m.secret) > 0 }

func (m *StreamTokenManager) Mint(jobID string) (string, error) {
	if !m.Enabled() {
		return "", errors.New("stream secret not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   jobID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify checks the signature and returns the job id the token is bound
// to.
func (m *StreamTokenManager) Verify(tokenStr string) (string, error) {
	if !m.Enabled() {
		return "", errors.New("stream secret not configured")
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// authorizeStream admits either the API key or a matching per-job token.
func (s *Server) authorizeStream(r *http.Request, jobID string) bool {
	if s.cfg.Server.APIKey != "" && bearerToken(r) == s.cfg.Server.APIKey {
		return true
	}
	if tok := r.URL.Query().Get("token"); tok != "" && s.tokens.Enabled() {
		sub, err := s.tokens.Verify(tok)
		return err == nil && sub == jobID
	}
	return false
}
