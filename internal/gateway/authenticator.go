package gateway

import "net/http"

// Authenticator resolves a user identity from the connection handshake
// (spec.md §4.7: "the spec uses a query-parameter carrier; the
// implementer SHOULD replace this with a verified credential"). Isolating
// it behind an interface is the Open-Question decision recorded in
// SPEC_FULL.md §9 — swapping in a verified-credential implementation
// later touches nothing else in the gateway.
type Authenticator interface {
	Authenticate(r *http.Request) (userID string, ok bool)
}

// QueryParamAuthenticator is the spec-literal handshake carrier: the user
// id travels as a URL query parameter on the upgrade request.
type QueryParamAuthenticator struct {
	Param string
}

func NewQueryParamAuthenticator(param string) QueryParamAuthenticator {
	if param == "" {
		param = "userId"
	}
	return QueryParamAuthenticator{Param: param}
}

func (a QueryParamAuthenticator) Authenticate(r *http.Request) (string, bool) {
	userID := r.URL.Query().Get(a.Param)
	return userID, userID != ""
}
