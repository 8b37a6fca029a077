package control

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vietddude/fleetcall/internal/core/config"
	"github.com/vietddude/fleetcall/internal/core/domain"
	"github.com/vietddude/fleetcall/internal/health"
	"github.com/vietddude/fleetcall/internal/infra/auth"
	redisclient "github.com/vietddude/fleetcall/internal/infra/redis"
	"github.com/vietddude/fleetcall/internal/infra/rpc/metrics"
	"github.com/vietddude/fleetcall/internal/infra/rpc/provider"
	"github.com/vietddude/fleetcall/internal/infra/rpc/retry"
	"github.com/vietddude/fleetcall/internal/infra/storage"
	"github.com/vietddude/fleetcall/internal/infra/storage/memory"
	"github.com/vietddude/fleetcall/internal/infra/storage/postgres"
)

// Client is the main application struct. It owns the channel to the fleet
// API, the credential cache and everything the retry envelope reports to.
type Client struct {
	cfg          *config.AppConfig
	provider     *provider.GRPCProvider
	credentials  *auth.CachedProvider
	policy       retry.Policy
	observer     retry.Observers
	journal      storage.CallRepository
	healthMon    *health.Monitor
	healthServer *health.Server
	db           *postgres.DB
	redisClient  *redisclient.Client
	log          *slog.Logger
}

type options struct {
	dial   []grpc.DialOption
	source auth.Provider
	policy *retry.Policy
}

// Option customizes NewClient.
type Option func(*options)

// WithDialOptions appends gRPC dial options, e.g. a custom dialer.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dial = append(o.dial, opts...) }
}

// WithCredentialSource replaces the file-based credential provider.
func WithCredentialSource(p auth.Provider) Option {
	return func(o *options) { o.source = p }
}

// WithPolicy overrides the policy from configuration.
func WithPolicy(p retry.Policy) Option {
	return func(o *options) { o.policy = &p }
}

// NewClient creates a Client with all dependencies initialized.
func NewClient(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{cfg: cfg, log: slog.Default()}

	// 1. Retry policy
	if o.policy != nil {
		if err := o.policy.Validate(); err != nil {
			return nil, err
		}
		c.policy = *o.policy
	} else {
		policy, err := cfg.Retry.Policy()
		if err != nil {
			return nil, fmt.Errorf("invalid retry config: %w", err)
		}
		c.policy = policy
	}

	// 2. Call journal
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		c.db = db
		c.journal = postgres.NewCallRepo(db)
		c.log.Debug("Using PostgreSQL call journal")
	} else {
		c.journal = memory.NewCallRepo()
		c.log.Debug("Using memory call journal")
	}

	// 3. Credentials, cached in Redis when configured
	var store auth.TokenStore
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			c.log.Warn("Failed to connect to Redis, caching token in memory", "error", err)
		} else {
			c.redisClient = client
			store = redisclient.NewTokenStore(client, cfg.API.Endpoint)
		}
	}
	source := o.source
	if source == nil {
		source = auth.NewFileProvider(cfg.Auth)
	}
	c.credentials = auth.NewCachedProvider(source, store)

	// 4. Channel
	p, err := provider.NewGRPCProvider(cfg.API, o.dial...)
	if err != nil {
		c.closeStores()
		return nil, err
	}
	c.provider = p

	// 5. Observers
	c.observer = retry.Observers{
		retry.NewLogObserver(c.log),
		metrics.NewObserver(),
		p.Observer(),
		NewJournal(c.journal),
	}

	// 6. Health
	c.healthMon = health.NewMonitor(p)
	if cfg.Server.Port > 0 {
		c.healthServer = health.NewServer(c.healthMon, cfg.Server.Port)
	}

	return c, nil
}

// Start starts the health server when one is configured.
func (c *Client) Start() {
	if c.healthServer != nil {
		c.healthServer.Start()
	}
}

// Envelope returns the envelope used for every call made by the client.
func (c *Client) Envelope() retry.Envelope {
	return retry.Envelope{
		Policy:      c.policy,
		Credentials: c.credentials,
		Observer:    c.observer,
	}
}

// Conn exposes the channel for generated clients.
func (c *Client) Conn() grpc.ClientConnInterface {
	return c.provider.Conn()
}

// Credential returns a cached or freshly fetched credential.
func (c *Client) Credential(ctx context.Context) (domain.Credential, error) {
	return c.credentials.Fetch(ctx)
}

// Journal returns the call journal.
func (c *Client) Journal() storage.CallRepository {
	return c.journal
}

// Health returns the current health report.
func (c *Client) Health() health.HealthReport {
	return c.healthMon.CheckHealth()
}

// Call invokes a unary method with a Struct payload through the envelope.
func (c *Client) Call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	cred, err := c.Credential(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch credential: %w", err)
	}
	call := provider.NewUnaryMethod[*structpb.Struct](c.provider.Conn(), method, newStruct)
	return retry.Unary[*structpb.Struct, *structpb.Struct](ctx, c.Envelope(), call, req, cred)
}

// Subscribe opens a server-streaming method with a Struct payload and hands
// every message to onNext until the stream ends or fails terminally.
func (c *Client) Subscribe(
	ctx context.Context,
	method string,
	req *structpb.Struct,
	onNext func(*structpb.Struct),
) error {
	cred, err := c.Credential(ctx)
	if err != nil {
		return fmt.Errorf("fetch credential: %w", err)
	}
	call := provider.NewStreamMethod[*structpb.Struct](c.provider.Conn(), method, newStruct)
	return retry.Stream[*structpb.Struct, *structpb.Struct](ctx, c.Envelope(), call, req, cred, onNext)
}

// Close stops the health server and releases every connection.
func (c *Client) Close(ctx context.Context) error {
	if c.healthServer != nil {
		if err := c.healthServer.Stop(ctx); err != nil {
			c.log.Warn("Failed to stop health server", "error", err)
		}
	}
	var err error
	if c.provider != nil {
		err = c.provider.Close()
	}
	c.closeStores()
	return err
}

func (c *Client) closeStores() {
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			c.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.log.Warn("Failed to close database", "error", err)
		}
	}
}

func newStruct() *structpb.Struct {
	return new(structpb.Struct)
}
