package middleware

import (
	"context"
	"net/http"

	stayAuth "github.com/MrEthical07/stayAuth"
	"github.com/MrEthical07/stayAuth/permission"
)

// fakeEngine accepts one bearer token and one session ID.
type fakeEngine struct {
	token   string
	session string
	err     error
	seen    []stayAuth.Request
	allowed map[permission.Permission]bool
	scopes  []string
}

func (f *fakeEngine) Authenticate(_ context.Context, req stayAuth.Request) (*stayAuth.Identity, error) {
	f.seen = append(f.seen, req)
	if f.err != nil {
		return nil, f.err
	}
	switch {
	case req.BearerToken != "" && req.BearerToken == f.token:
		return &stayAuth.Identity{UserID: "u-1", TenantID: "hotel-a", Source: stayAuth.SourceBearer}, nil
	case req.SessionID != "" && req.SessionID == f.session:
		return &stayAuth.Identity{UserID: "u-1", TenantID: "hotel-a", Source: stayAuth.SourceSession}, nil
	}
	return nil, stayAuth.ErrUnauthenticated
}

func (f *fakeEngine) Authorize(id *stayAuth.Identity, perm permission.Permission, scope ...string) bool {
	f.scopes = scope
	return id != nil && f.allowed[perm]
}

func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := stayAuth.IdentityFromContext(r.Context())
		if !ok {
			http.Error(w, "no identity", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(id.UserID))
	})
}
