package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"slotguard/internal/config"
	"slotguard/internal/domain"
	"slotguard/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

const (
	apiKeyHeaderDefault  = "x-api-key"
	forwardedForHeader   = "X-Forwarded-For"
	requestIDMetadataKey = "x-request-id"
	clientKeyUnknown     = "unknown"
)

var errInvalidAPIKey = errors.New("invalid api key")

// IdentityResolver maps a caller to the identity its quota is charged to.
// Known API keys resolve to "key:<name>" with the key's tier; everyone else
// is "ip:<addr>" on the public tier.
type IdentityResolver struct {
	header            string
	clients           []config.APIClientKey
	trustForwardedFor bool
}

func NewIdentityResolver(cfg config.APIConfig) *IdentityResolver {
	header := strings.ToLower(strings.TrimSpace(cfg.Auth.HeaderAPIKey))
	if header == "" {
		header = apiKeyHeaderDefault
	}
	return &IdentityResolver{
		header:            header,
		clients:           cfg.Auth.APIKeys,
		trustForwardedFor: cfg.TrustForwardedFor,
	}
}

func (r *IdentityResolver) lookup(apiKey string) (config.APIClientKey, bool) {
	var found config.APIClientKey
	ok := false
	for _, c := range r.clients {
		if subtle.ConstantTimeCompare([]byte(c.Key), []byte(apiKey)) == 1 {
			found, ok = c, true
		}
	}
	return found, ok
}

func (r *IdentityResolver) fromKey(apiKey string) (models.Identity, error) {
	client, ok := r.lookup(apiKey)
	if !ok {
		return models.Identity{}, errInvalidAPIKey
	}
	name := client.Name
	if name == "" {
		name = "anonymous"
	}
	return models.Identity{Key: "key:" + name, Tier: client.Tier, Name: name}, nil
}

func ipIdentity(addr string) models.Identity {
	if addr == "" {
		addr = clientKeyUnknown
	}
	return models.Identity{Key: "ip:" + addr, Tier: models.TierPublic}
}

// FromHTTP resolves the caller of an HTTP request. An unknown API key is an
// error rather than a silent downgrade to the public tier.
func (r *IdentityResolver) FromHTTP(req *http.Request) (models.Identity, error) {
	if apiKey := strings.TrimSpace(req.Header.Get(r.header)); apiKey != "" {
		return r.fromKey(apiKey)
	}

	if r.trustForwardedFor {
		if fwd := req.Header.Get(forwardedForHeader); fwd != "" {
			hop, _, _ := strings.Cut(fwd, ",")
			if hop = strings.TrimSpace(hop); hop != "" {
				return ipIdentity(hop), nil
			}
		}
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	return ipIdentity(host), nil
}

// FromGRPC resolves the caller of a gRPC call from metadata and peer info.
func (r *IdentityResolver) FromGRPC(ctx context.Context) (models.Identity, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	if apiKey := first(md.Get(r.header)); apiKey != "" {
		return r.fromKey(apiKey)
	}

	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		host, _, err := net.SplitHostPort(p.Addr.String())
		if err != nil {
			host = p.Addr.String()
		}
		return ipIdentity(host), nil
	}
	return ipIdentity(""), nil
}

// RateLimitUnaryInterceptor charges every unary call to the caller's quota.
func RateLimitUnaryInterceptor(resolver *IdentityResolver, limiter domain.RateLimiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if limiter == nil {
			return handler(ctx, req)
		}

		identity, err := resolver.FromGRPC(ctx)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}

		res, err := limiter.CheckAndConsume(ctx, identity, 1)
		if err != nil {
			return nil, status.Error(codes.Unavailable, domain.ErrLimiterUnavailable.Error())
		}
		if !res.Allowed {
			return nil, rateLimitStatus(res)
		}
		return handler(ctx, req)
	}
}

func rateLimitStatus(res *models.LimitResult) error {
	rlErr := &domain.RateLimitError{Scope: res.Scope, RetryAfterSeconds: res.RetryAfterSeconds}
	st := status.New(codes.ResourceExhausted, rlErr.Error())
	detailed, err := st.WithDetails(&errdetails.RetryInfo{
		RetryDelay: durationpb.New(time.Duration(res.RetryAfterSeconds) * time.Second),
	})
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

func LoggingUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "grpc").Logger()
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := requestIDFromMetadata(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, requestID))

		start := time.Now()
		resp, err := handler(ctx, req)
		dur := time.Since(start)

		code := codes.OK
		if err != nil {
			code = status.Code(err)
		}

		remote := clientKeyUnknown
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}

		base.Info().
			Str("request_id", requestID).
			Str("method", info.FullMethod).
			Str("remote", remote).
			Str("code", code.String()).
			Dur("duration", dur).
			Msg("grpc request")

		return resp, err
	}
}

func requestIDFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		if id := first(md.Get(requestIDMetadataKey)); id != "" {
			return id
		}
	}
	return uuid.NewString()
}
