package control

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vietddude/fleetcall/internal/core/config"
	"github.com/vietddude/fleetcall/internal/core/domain"
	"github.com/vietddude/fleetcall/internal/health"
	"github.com/vietddude/fleetcall/internal/infra/rpc/retry"
)

// fleetAPI fakes the two mission methods. Each handler sees the call
// number (1-indexed) and the authorization header.
type fleetAPI struct {
	mu    sync.Mutex
	calls int
	auth  []string

	create    func(n int, req *structpb.Struct) (*structpb.Struct, error)
	subscribe func(n int, req *structpb.Struct, send func(map[string]any) error) error
}

func (f *fleetAPI) begin(ctx context.Context) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	md, _ := metadata.FromIncomingContext(ctx)
	f.auth = append(f.auth, strings.Join(md.Get("authorization"), ","))
	return f.calls
}

var fleetServiceDesc = grpc.ServiceDesc{
	ServiceName: "bearrobotics.api.v1.services.cloud.APIService",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "CreateMission",
		Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			f := srv.(*fleetAPI)
			req := new(structpb.Struct)
			if err := dec(req); err != nil {
				return nil, err
			}
			return f.create(f.begin(ctx), req)
		},
	}},
	Streams: []grpc.StreamDesc{{
		StreamName:    "SubscribeMissionStatus",
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			f := srv.(*fleetAPI)
			req := new(structpb.Struct)
			if err := stream.RecvMsg(req); err != nil {
				return err
			}
			return f.subscribe(f.begin(stream.Context()), req, func(m map[string]any) error {
				msg, err := structpb.NewStruct(m)
				if err != nil {
					return err
				}
				return stream.SendMsg(msg)
			})
		},
	}},
}

type tokens struct {
	mu      sync.Mutex
	fetches int
	err     error
}

func (t *tokens) Fetch(context.Context) (domain.Credential, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return domain.Credential{}, t.err
	}
	t.fetches++
	return domain.Credential{Token: "token-" + string(rune('0'+t.fetches))}, nil
}

func newTestClient(t *testing.T, api *fleetAPI, src *tokens) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&fleetServiceDesc, api)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cfg := config.Default()
	cfg.API.Endpoint = "passthrough:///bufnet"

	c, err := NewClient(context.Background(), cfg,
		WithDialOptions(grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		})),
		WithCredentialSource(src),
		WithPolicy(retry.Policy{
			MaxAttempts:    3,
			RetryableCodes: []codes.Code{codes.Unavailable, codes.Unauthenticated},
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestClient_CreateMission(t *testing.T) {
	var got *structpb.Struct
	api := &fleetAPI{
		create: func(n int, req *structpb.Struct) (*structpb.Struct, error) {
			if n == 1 {
				return nil, status.Error(codes.Unavailable, "restarting")
			}
			got = req
			return structpb.NewStruct(map[string]any{"mission_id": "m-42"})
		},
	}
	c := newTestClient(t, api, &tokens{})

	resp, err := c.CreateMission(context.Background(), "pennybot-1", "table-7")

	require.NoError(t, err)
	assert.Equal(t, "m-42", resp.GetFields()["mission_id"].GetStringValue())
	assert.Equal(t, "pennybot-1", got.GetFields()["robot_id"].GetStringValue())
	goal := got.GetFields()["mission"].GetStructValue().
		GetFields()["base_mission"].GetStructValue().
		GetFields()["navigate_mission"].GetStructValue().
		GetFields()["goal"].GetStructValue()
	assert.Equal(t, "table-7", goal.GetFields()["destination_id"].GetStringValue())

	recs, err := c.Journal().Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, CreateMissionMethod, recs[0].Method)
	assert.Equal(t, domain.OutcomeSuccess, recs[0].Outcome)
	assert.Equal(t, 2, recs[0].Attempts)

	report := c.Health()
	assert.Equal(t, health.StatusHealthy, report.SystemStatus)
}

func TestClient_RefreshesTokenOnUnauthenticated(t *testing.T) {
	api := &fleetAPI{
		create: func(n int, _ *structpb.Struct) (*structpb.Struct, error) {
			if n == 1 {
				return nil, status.Error(codes.Unauthenticated, "expired")
			}
			return &structpb.Struct{}, nil
		},
	}
	src := &tokens{}
	c := newTestClient(t, api, src)

	_, err := c.CreateMission(context.Background(), "r", "d")

	require.NoError(t, err)
	assert.Equal(t, 2, src.fetches)
	assert.Equal(t, []string{"Bearer token-1", "Bearer token-2"}, api.auth)

	cred, err := c.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", cred.Token, "refreshed token is cached")
}

func TestClient_SubscribeMissionStatusReconnects(t *testing.T) {
	api := &fleetAPI{
		subscribe: func(n int, req *structpb.Struct, send func(map[string]any) error) error {
			ids := req.GetFields()["selector"].GetStructValue().
				GetFields()["robot_ids"].GetStructValue().
				GetFields()["ids"].GetListValue().AsSlice()
			if len(ids) != 1 || ids[0] != "pennybot-1" {
				return status.Error(codes.InvalidArgument, "bad selector")
			}
			if err := send(map[string]any{"state": "EN_ROUTE"}); err != nil {
				return err
			}
			if n == 1 {
				return status.Error(codes.Unavailable, "dropped")
			}
			return send(map[string]any{"state": "SUCCEEDED"})
		},
	}
	c := newTestClient(t, api, &tokens{})

	var states []string
	err := c.SubscribeMissionStatus(context.Background(), "pennybot-1", func(m *structpb.Struct) {
		states = append(states, m.GetFields()["state"].GetStringValue())
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"EN_ROUTE", "EN_ROUTE", "SUCCEEDED"}, states)

	recs, err := c.Journal().Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.CallKindStream, recs[0].Kind)
	assert.Equal(t, 3, recs[0].Messages)
}

func TestClient_ExhaustionIsJournaled(t *testing.T) {
	api := &fleetAPI{
		create: func(int, *structpb.Struct) (*structpb.Struct, error) {
			return nil, status.Error(codes.Unavailable, "down")
		},
	}
	c := newTestClient(t, api, &tokens{})

	_, err := c.CreateMission(context.Background(), "r", "d")

	require.ErrorIs(t, err, retry.ErrRetriesExhausted)
	counts, err := c.Journal().CountByOutcome(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.OutcomeRetriesExhausted])
}

func TestClient_CredentialFailureStopsBeforeCalling(t *testing.T) {
	api := &fleetAPI{}
	c := newTestClient(t, api, &tokens{err: errors.New("no key")})

	_, err := c.CreateMission(context.Background(), "r", "d")

	assert.ErrorContains(t, err, "no key")
	assert.Zero(t, api.calls)
}
