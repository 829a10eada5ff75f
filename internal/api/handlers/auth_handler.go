package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/markdave123-py/Extracta/internal/models"
)

const tokenTTL = 24 * time.Hour

// AuthHandler exchanges the configured client credentials for a bearer token.
type AuthHandler struct {
	clientID   string
	secretHash []byte
	jwtSecret  []byte
	now        func() time.Time
}

func NewAuthHandler(clientID, secretHash, jwtSecret string) *AuthHandler {
	return &AuthHandler{
		clientID:   clientID,
		secretHash: []byte(secretHash),
		jwtSecret:  []byte(jwtSecret),
		now:        time.Now,
	}
}

func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	if h.clientID == "" {
		writeMessage(w, http.StatusNotFound, "token endpoint is disabled")
		return
	}
	var req models.TokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.ClientID != h.clientID || bcrypt.CompareHashAndPassword(h.secretHash, []byte(req.ClientSecret)) != nil {
		writeMessage(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	exp := h.now().Add(tokenTTL).UTC()
	token, err := generateJWT(h.jwtSecret, req.ClientID, exp)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "could not sign token")
		return
	}
	writeJSON(w, http.StatusOK, models.TokenResponse{Token: token, ExpiresAt: exp})
}

// generateJWT creates a signed token with a client_id claim
func generateJWT(secret []byte, clientID string, exp time.Time) (string, error) {
	claims := jwt.MapClaims{
		"client_id": clientID,
		"exp":       exp.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
