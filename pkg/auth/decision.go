package auth

// DecisionKind enumerates the possible outcomes of an authorization check.
type DecisionKind int

// The decision outcomes. The set is closed, the request adapter maps each
// kind to exactly one response shape.
const (
	KindAllow DecisionKind = iota
	KindDeny
	KindRedirectToLogin
	KindIssueSession
	KindInternalError
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Kind DecisionKind

	// RedirectURL is where the user agent should be sent next. Set for
	// KindRedirectToLogin and KindIssueSession.
	RedirectURL string

	// SessionID is the freshly minted session the proxy must store as a
	// cookie. Set for KindIssueSession.
	SessionID string

	// Reason is a short diagnostic for KindInternalError. It never
	// contains token or secret material.
	Reason string
}

// Allow grants access.
func Allow() Decision {
	return Decision{Kind: KindAllow}
}

// Deny refuses access for an authenticated session missing the role.
func Deny() Decision {
	return Decision{Kind: KindDeny}
}

// RedirectToLogin restarts the authorization code flow.
func RedirectToLogin(loginURL string) Decision {
	return Decision{
		Kind:        KindRedirectToLogin,
		RedirectURL: loginURL,
	}
}

// IssueSession hands a new session to the proxy and sends the user agent
// back to the URL it originally requested.
func IssueSession(sessionID, redirectURL string) Decision {
	return Decision{
		Kind:        KindIssueSession,
		RedirectURL: redirectURL,
		SessionID:   sessionID,
	}
}

// InternalError reports a malformed proxy request or an impossible state.
func InternalError(reason string) Decision {
	return Decision{
		Kind:   KindInternalError,
		Reason: reason,
	}
}
