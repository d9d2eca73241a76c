// Package middleware adapts stayAuth.Engine to HTTP and gRPC servers.
//
// # Adapters
//
//   - [Guard] reads the bearer token and session cookie, calls Engine.Authenticate and
//     stores the identity in the request context.
//   - [RequirePermission] checks a permission for the identity placed by Guard.
//   - [AuthFunc] is a go-grpc-middleware auth function reading the same credentials
//     from incoming metadata; [UnaryServerInterceptor] and [StreamServerInterceptor]
//     wrap it.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Tell the client why a credential was rejected.
package middleware
