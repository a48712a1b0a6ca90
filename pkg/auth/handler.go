package auth

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultSessionCookie is the cookie the proxy uses to carry the
	// session ID.
	DefaultSessionCookie = "_keycloak_auth_session"

	headerRequestURI   = "X-Request-Uri"
	headerAuthRedirect = "X-Auth-Redirect"
	headerAuthCookie   = "X-Auth-Cookie"
)

// Handler serves the decision endpoint the reverse proxy consults before
// forwarding a request upstream. The proxy translates the response headers
// into a Set-Cookie and a redirect on the user-facing response.
type Handler struct {
	engine  *Engine
	session Source
}

// NewHandler creates the decision endpoint handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{
		engine:  engine,
		session: Source{Cookie: DefaultSessionCookie},
	}
}

// ServeHTTP handles one decision sub-request.
func (h *Handler) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	logger := log.With().Str("handler_type", "ForwardAuth").Logger()

	role := req.URL.Query().Get("role")
	if role == "" {
		logger.Error().Msg("Missing role query parameter")
		http.Error(rw, "missing role query parameter", http.StatusInternalServerError)

		return
	}

	rawURI := req.Header.Get(headerRequestURI)
	if rawURI == "" {
		logger.Error().Msg("Missing x-request-uri header")
		http.Error(rw, "x-request-uri header not found", http.StatusInternalServerError)

		return
	}

	requestURL, err := url.Parse(rawURI)
	if err != nil || !requestURL.IsAbs() {
		logger.Error().Err(err).Msg("Unparseable x-request-uri header")
		http.Error(rw, "could not parse url in x-request-uri header", http.StatusInternalServerError)

		return
	}

	decision := h.engine.Decide(req.Context(), Request{
		URL:       requestURL,
		SessionID: Extract(req, h.session),
		Role:      role,
	})

	h.writeDecision(rw, decision)
}

func (h *Handler) writeDecision(rw http.ResponseWriter, decision Decision) {
	switch decision.Kind {
	case KindAllow:
		rw.WriteHeader(http.StatusOK)

	case KindDeny:
		rw.WriteHeader(http.StatusForbidden)

	case KindRedirectToLogin:
		rw.Header().Set(headerAuthRedirect, decision.RedirectURL)
		rw.WriteHeader(http.StatusUnauthorized)

	case KindIssueSession:
		rw.Header().Set(headerAuthRedirect, decision.RedirectURL)
		rw.Header().Set(headerAuthCookie, fmt.Sprintf("%s=%s; Secure; HttpOnly; Path=/", h.session.Cookie, decision.SessionID))
		rw.WriteHeader(http.StatusUnauthorized)

	case KindInternalError:
		log.Error().Str("reason", decision.Reason).Msg("Internal error while deciding request")
		http.Error(rw, decision.Reason, http.StatusInternalServerError)

	default:
		log.Error().Int("kind", int(decision.Kind)).Msg("Unknown decision kind")
		rw.WriteHeader(http.StatusInternalServerError)
	}
}
