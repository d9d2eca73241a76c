package middleware

import (
	"context"
	"errors"
	"net"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	stayAuth "github.com/MrEthical07/stayAuth"
)

// SessionIDMetadataKey carries the session ID for clients without a bearer token.
const SessionIDMetadataKey = "x-session-id"

// AuthFunc returns an auth.AuthFunc that authenticates the "authorization: bearer"
// metadata, falling back to the session ID key. The identity is available through
// stayAuth.IdentityFromContext in handlers.
func AuthFunc(engine Authenticator) auth.AuthFunc {
	return func(ctx context.Context) (context.Context, error) {
		if engine == nil {
			return nil, status.Error(codes.Unavailable, "authentication unavailable")
		}

		req := stayAuth.Request{}
		req.BearerToken, _ = auth.AuthFromMD(ctx, "bearer")
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			req.SessionID = first(md, SessionIDMetadataKey)
			req.UserAgent = first(md, "user-agent")
		}
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
				req.IP = host
			}
		}
		if req.BearerToken == "" && req.SessionID == "" {
			return nil, status.Error(codes.Unauthenticated, "missing credentials")
		}

		id, err := engine.Authenticate(ctx, req)
		if err != nil {
			if errors.Is(err, stayAuth.ErrEngineNotReady) {
				return nil, status.Error(codes.Unavailable, "authentication unavailable")
			}
			return nil, status.Error(codes.Unauthenticated, "unauthenticated")
		}
		return stayAuth.WithIdentity(ctx, id), nil
	}
}

// UnaryServerInterceptor authenticates every unary call with AuthFunc.
func UnaryServerInterceptor(engine Authenticator) grpc.UnaryServerInterceptor {
	return auth.UnaryServerInterceptor(AuthFunc(engine))
}

// StreamServerInterceptor authenticates every stream with AuthFunc.
func StreamServerInterceptor(engine Authenticator) grpc.StreamServerInterceptor {
	return auth.StreamServerInterceptor(AuthFunc(engine))
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}
