package auth

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestTokenAuthenticator_Authenticate(t *testing.T) {
	a := NewTokenAuthenticator("admin-token")

	if err := a.Authenticate("admin-token"); err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if err := a.Authenticate(""); !errors.Is(err, ErrMissingToken) {
		t.Errorf("expected ErrMissingToken, got %v", err)
	}
	if err := a.Authenticate("admin-tokeN"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}

	open := NewTokenAuthenticator("")
	if !open.Open() {
		t.Error("empty token should leave the API open")
	}
	if err := open.Authenticate(""); err != nil {
		t.Errorf("open authenticator rejected: %v", err)
	}
}

func TestUnaryInterceptor(t *testing.T) {
	interceptor := NewTokenAuthenticator("admin-token").UnaryInterceptor()
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: "/gears.admin.v1.Admin/Reload"}

	tests := []struct {
		name     string
		ctx      context.Context
		info     *grpc.UnaryServerInfo
		wantCode codes.Code
	}{
		{"no metadata", context.Background(), info, codes.Unauthenticated},
		{"no token", metadata.NewIncomingContext(context.Background(), metadata.Pairs("other", "x")), info, codes.Unauthenticated},
		{"bad token", metadata.NewIncomingContext(context.Background(), metadata.Pairs(TokenMetadataKey, "nope")), info, codes.Unauthenticated},
		{"good token", metadata.NewIncomingContext(context.Background(), metadata.Pairs(TokenMetadataKey, "admin-token")), info, codes.OK},
		{"health bypass", context.Background(), &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, codes.OK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := interceptor(tt.ctx, nil, tt.info, handler)
			if got := status.Code(err); got != tt.wantCode {
				t.Fatalf("code = %v, want %v (err %v)", got, tt.wantCode, err)
			}
			if tt.wantCode == codes.OK && resp != "ok" {
				t.Errorf("handler not called, resp = %v", resp)
			}
		})
	}
}
