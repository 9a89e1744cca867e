package httpapi

import (
	"net/http"
	"time"

	"netrank.org/internal/auth"
)

type tokenRequest struct {
	User  string   `json:"user"`
	Roles []string `json:"roles"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// handleToken issues short-lived development tokens. Production deployments
// front this with a real identity provider and disable the route.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.User == "" {
		writeError(w, r, http.StatusBadRequest, "user is required")
		return
	}
	if len(req.Roles) == 0 {
		req.Roles = []string{auth.RoleViewer}
	}

	ttl := 1 * time.Hour
	token, err := auth.GenerateToken(req.User, req.Roles, ttl)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
	})
}
