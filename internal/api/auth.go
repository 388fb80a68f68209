package api

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenIssuer identifies tokens minted by this server.
const tokenIssuer = "smartserver"

// tokenRequest is the body for POST /auth/token.
type tokenRequest struct {
	APIKey string `json:"api_key"`
}

// tokenResponse is the successful token exchange response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// handleToken exchanges the configured API key for a short-lived JWT.
//
// There is no user database: the deployment shares one API key with its
// clients, and tokens exist so the key itself is not replayed on every
// request or embedded in WebSocket URLs that end up in proxy logs.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if !s.secCfg.Enabled {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "security is not enabled")
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.APIKey == "" {
		writeBadRequest(w, "api_key field is required")
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.APIKey), []byte(s.secCfg.APIKey.Key)) != 1 {
		s.logger.Warn("token exchange rejected", "request_id", r.Context().Value(ctxKeyRequestID))
		writeUnauthorized(w, "invalid API key")
		return
	}

	ttl := time.Duration(s.secCfg.JWT.AccessTokenTTL) * time.Minute
	token, err := s.issueToken(ttl)
	if err != nil {
		s.logger.Error("failed to sign access token", "error", err)
		writeInternalError(w, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(ttl.Seconds()),
	})
}

// issueToken signs a new access token valid for the given duration.
func (s *Server) issueToken(ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   "api",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secCfg.JWT.Secret))
}

// verifyToken parses and validates an access token.
func (s *Server) verifyToken(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.secCfg.JWT.Secret), nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
