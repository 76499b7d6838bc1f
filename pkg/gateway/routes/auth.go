package routes

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/recruit/pkg/common/httputil"
	"github.com/synaptica-ai/recruit/pkg/common/logger"
	gatewayauth "github.com/synaptica-ai/recruit/pkg/gateway/auth"
	"github.com/synaptica-ai/recruit/pkg/gateway/middleware"
)

const stateCookie = "recruit_oauth_state"

type AuthHandler struct {
	oidc        *gatewayauth.OIDCAuthenticator
	tokenSigner *gatewayauth.JWTManager
}

// NewAuthHandler wires login routes. oidc may be nil, in which case the
// login flow answers 501 and only /auth/me is usable.
func NewAuthHandler(oidc *gatewayauth.OIDCAuthenticator, tokenSigner *gatewayauth.JWTManager) *AuthHandler {
	return &AuthHandler{oidc: oidc, tokenSigner: tokenSigner}
}

func (h *AuthHandler) Register(r *mux.Router) {
	r.HandleFunc("/auth/login", h.handleLogin).Methods(http.MethodGet)
	r.HandleFunc("/auth/callback", h.handleCallback).Methods(http.MethodGet)

	protected := r.PathPrefix("/auth").Subrouter()
	protected.Use(middleware.Authenticate(h.tokenSigner))
	protected.HandleFunc("/me", h.handleMe).Methods(http.MethodGet)
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if h.oidc == nil {
		http.Error(w, "single sign-on not configured", http.StatusNotImplemented)
		return
	}
	state, err := gatewayauth.NewState()
	if err != nil {
		logger.Log.WithError(err).Error("failed to generate oauth state")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.oidc.AuthCodeURL(state), http.StatusFound)
}

func (h *AuthHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	if h.oidc == nil {
		http.Error(w, "single sign-on not configured", http.StatusNotImplemented)
		return
	}
	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		logger.Log.WithField("error", errParam).Warn("identity provider rejected login")
		http.Error(w, "login rejected", http.StatusUnauthorized)
		return
	}
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != q.Get("state") {
		http.Error(w, "invalid login state", http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/auth", MaxAge: -1})

	principal, err := h.oidc.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		logger.Log.WithError(err).Warn("oidc exchange failed")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, expires, err := h.tokenSigner.IssueToken(principal)
	if err != nil {
		logger.Log.WithError(err).Error("failed issuing token")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	logger.Log.WithFields(map[string]interface{}{
		"subject": principal.Subject,
		"role":    principal.Role,
	}).Info("coordinator signed in")

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expires.UTC(),
		"user":       principal,
	})
}

func (h *AuthHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"user":       claims.Principal(),
		"expires_at": time.Unix(claims.ExpiresAt, 0).UTC(),
	})
}
