package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TokenMetadataKey carries the admin token on gRPC calls.
const TokenMetadataKey = "x-admin-token"

// TokenAuthenticator guards the admin API with a single shared token.
// An empty token disables the check.
type TokenAuthenticator struct {
	digest [sha256.Size]byte
	open   bool
}

// NewTokenAuthenticator creates an authenticator for token.
func NewTokenAuthenticator(token string) *TokenAuthenticator {
	return &TokenAuthenticator{
		digest: sha256.Sum256([]byte(token)),
		open:   token == "",
	}
}

// Open reports whether no token is configured.
func (a *TokenAuthenticator) Open() bool {
	return a.open
}

// Authenticate checks token. Digests are compared so timing does not leak
// the configured token's length.
func (a *TokenAuthenticator) Authenticate(token string) error {
	if a.open {
		return nil
	}
	if token == "" {
		return ErrMissingToken
	}
	got := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(got[:], a.digest[:]) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// UnaryInterceptor returns gRPC interceptor that authenticates requests.
// Health checks pass through so load balancers need no credentials.
func (a *TokenAuthenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if a.open || isHealthMethod(info.FullMethod) {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		tokens := md.Get(TokenMetadataKey)
		if len(tokens) == 0 {
			return nil, status.Error(codes.Unauthenticated, ErrMissingToken.Error())
		}
		if err := a.Authenticate(tokens[0]); err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(ctx, req)
	}
}

func isHealthMethod(method string) bool {
	return strings.HasPrefix(method, "/grpc.health.v1.Health/")
}
