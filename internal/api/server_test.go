package api

import (
	"context"
	"net"
	"testing"
	"time"

	"slotguard/internal/config"
	"slotguard/internal/models"
	"slotguard/internal/repository"
	"slotguard/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func startGRPC(t *testing.T, perMinute int) healthpb.HealthClient {
	t.Helper()

	cfg := testAPIConfig()
	limiter := service.NewLimiter(repository.NewMemoryCounterStore(), config.RateLimitConfig{
		Tiers: map[models.Tier]config.TierLimits{models.TierPublic: {PerMinute: perMinute}},
	}, testLogger())
	srv := NewGRPCServer(&cfg, limiter, testLogger())

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return healthpb.NewHealthClient(conn)
}

func TestGRPCHealthServing(t *testing.T) {
	client := startGRPC(t, 10)

	var header metadata.MD
	ctx := metadata.AppendToOutgoingContext(context.Background(), requestIDMetadataKey, "req-1")
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{}, grpc.Header(&header))
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
	assert.Equal(t, []string{"req-1"}, header.Get(requestIDMetadataKey))
}

func TestGRPCRateLimited(t *testing.T) {
	client := startGRPC(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
		require.NoError(t, err)
	}

	_, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.Error(t, err)

	st := status.Convert(err)
	assert.Equal(t, codes.ResourceExhausted, st.Code())

	var retry *errdetails.RetryInfo
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.RetryInfo); ok {
			retry = info
		}
	}
	require.NotNil(t, retry, "expected RetryInfo detail")
	assert.Positive(t, retry.GetRetryDelay().AsDuration())
}

func TestGRPCUnknownAPIKey(t *testing.T) {
	client := startGRPC(t, 10)

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "nope")
	_, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
