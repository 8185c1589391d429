package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const jwtExpiration = time.Hour

// AuthHandler exchanges the admin token for a short-lived JWT.
type AuthHandler struct {
	// AdminTokenHash is the bcrypt hash of the admin token.
	AdminTokenHash string
	JWTSecret      []byte
}

type TokenPayload struct {
	Token string `json:"token"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueToken handles POST /auth/token.
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	if h.AdminTokenHash == "" || len(h.JWTSecret) == 0 {
		WriteAPIError(w, http.StatusForbidden, CodeUnauthorized, "admin authentication is not configured")
		return
	}

	var payload TokenPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Token == "" {
		WriteAPIError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid request payload")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.AdminTokenHash), []byte(payload.Token)); err != nil {
		WriteAPIError(w, http.StatusUnauthorized, CodeUnauthorized, "Invalid admin token")
		return
	}

	now := time.Now()
	expirationTime := now.Add(jwtExpiration)
	claims := &jwt.RegisteredClaims{
		Subject:   adminSubject,
		ExpiresAt: jwt.NewNumericDate(expirationTime),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    "objectmatch",
	}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.JWTSecret)
	if err != nil {
		writeError(w, "signing token", err)
		return
	}

	writeJSON(w, http.StatusOK, TokenResponse{Token: tokenString, ExpiresAt: expirationTime})
}
