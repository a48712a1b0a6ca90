package auth

import (
	"context"
	"net/url"

	"github.com/Defelo/nginx-keycloak/pkg/kvs"
	"github.com/Defelo/nginx-keycloak/pkg/oidc"
	"github.com/Defelo/nginx-keycloak/pkg/session"
	"github.com/rs/zerolog/log"
)

// Request is the context of one authorization check, as extracted from the
// proxy sub-request.
type Request struct {
	// URL is the absolute URL the end user attempted to reach.
	URL *url.URL

	// SessionID is the session cookie value, empty when the request
	// carried none.
	SessionID string

	// Role is the role the target location requires.
	Role string
}

// Engine decides whether a request may pass. It memoizes verdicts per
// (session, role) in the store so a cache hit costs no provider round trip.
type Engine struct {
	idp      *oidc.Client
	sessions *session.Manager
	store    *kvs.Store
}

// NewEngine creates a decision engine.
func NewEngine(idp *oidc.Client, sessions *session.Manager, store *kvs.Store) *Engine {
	return &Engine{
		idp:      idp,
		sessions: sessions,
		store:    store,
	}
}

// Decide runs the decision state machine. Requests targeting the callback
// path complete the code flow, everything else is a protected request. A
// callback URL that cannot be resolved from the configured callback path is
// an internal error. Any other failure while servicing a protected or
// callback request degrades to a login redirect, never to an error the end
// user could observe.
func (e *Engine) Decide(ctx context.Context, req Request) Decision {
	callbackURL, err := e.idp.CallbackURL(req.URL)
	if err != nil {
		log.Error().Err(err).Msg("Unable to build callback URL")
		return InternalError("could not create callback url")
	}

	loginURL := e.idp.LoginURL(req.URL, callbackURL)

	if req.URL.Path == e.idp.CallbackPath() {
		return e.decideCallback(ctx, req.URL, callbackURL, loginURL)
	}

	return e.decideProtected(ctx, req, loginURL)
}

func (e *Engine) decideProtected(ctx context.Context, req Request, loginURL string) Decision {
	if req.SessionID == "" {
		return RedirectToLogin(loginURL)
	}

	state, err := e.store.GetCache(ctx, req.SessionID, req.Role)
	if err != nil {
		// A failing cache read only costs the memoization, the verdict is
		// recomputed from the session.
		log.Warn().Err(err).Msg("Unable to read session cache")
		state = kvs.NotCached
	}

	switch state {
	case kvs.Allowed:
		return Allow()
	case kvs.Forbidden:
		return Deny()
	case kvs.NotCached:
	}

	sess, err := e.sessions.Lookup(ctx, req.SessionID)
	if err != nil {
		log.Debug().Err(err).Msg("Unable to look up session")
		return RedirectToLogin(loginURL)
	}

	verdict := kvs.Forbidden
	if sess.UserInfo.HasRole(req.Role) {
		verdict = kvs.Allowed
	}

	if err = e.store.PutCache(ctx, req.SessionID, req.Role, verdict); err != nil {
		// The verdict was computed authoritatively, losing the cache entry
		// only means the next decision recomputes it.
		log.Warn().Err(err).Msg("Unable to update session cache")
	}

	if verdict == kvs.Allowed {
		return Allow()
	}

	return Deny()
}

func (e *Engine) decideCallback(ctx context.Context, requestURL, callbackURL *url.URL, loginURL string) Decision {
	query := requestURL.Query()

	code := query.Get("code")
	if code == "" {
		log.Debug().Msg("Callback request misses code parameter")
		return RedirectToLogin(loginURL)
	}

	state, err := url.Parse(query.Get("state"))
	if err != nil || !state.IsAbs() {
		log.Debug().Err(err).Msg("Callback request carries no usable state parameter")
		return RedirectToLogin(loginURL)
	}

	sess, err := e.sessions.Create(ctx, code, callbackURL)
	if err != nil {
		// Provider errors stay internal, the user simply restarts the flow.
		log.Debug().Err(err).Msg("Unable to create session")
		return RedirectToLogin(loginURL)
	}

	return IssueSession(sess.ID, state.String())
}
