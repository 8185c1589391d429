package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// adminSubject is the subject of every token issued by the token endpoint.
const adminSubject = "admin"

// AdminAuth guards next behind a bearer JWT signed with secret. An empty
// secret disables the admin endpoints altogether.
func AdminAuth(secret []byte, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(secret) == 0 {
			WriteAPIError(w, http.StatusForbidden, CodeUnauthorized, "admin endpoints are disabled: no JWT secret configured")
			return
		}
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			WriteAPIError(w, http.StatusUnauthorized, CodeUnauthorized, "Authorization header required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			WriteAPIError(w, http.StatusUnauthorized, CodeUnauthorized, "Authorization header format must be Bearer {token}")
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		})
		if err != nil {
			if errors.Is(err, jwt.ErrSignatureInvalid) {
				WriteAPIError(w, http.StatusUnauthorized, CodeUnauthorized, "Invalid token signature")
				return
			}
			WriteAPIError(w, http.StatusUnauthorized, CodeUnauthorized, "Invalid token: "+err.Error())
			return
		}
		if !token.Valid || claims.Subject != adminSubject {
			WriteAPIError(w, http.StatusUnauthorized, CodeUnauthorized, "Invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
