package provider

import (
	"crypto/tls"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/vietddude/fleetcall/internal/infra/rpc/retry"
)

// GRPCProvider implements Provider for gRPC.
type GRPCProvider struct {
	*BaseProvider
	endpoint string
	secure   bool
	conn     *grpc.ClientConn
}

// NewGRPCProvider creates a new gRPC provider. The channel connects lazily
// on the first call. Extra dial options are appended after the defaults.
func NewGRPCProvider(cfg Config, extra ...grpc.DialOption) (*GRPCProvider, error) {
	target, secure := parseEndpoint(cfg.Endpoint)
	if target == "" {
		return nil, fmt.Errorf("empty grpc endpoint")
	}

	var opts []grpc.DialOption
	if secure {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	if cfg.KeepaliveTime > 0 {
		opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, grpc.WithUserAgent(cfg.UserAgent))
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}

	name := cfg.Name
	if name == "" {
		name = target
	}

	return &GRPCProvider{
		BaseProvider: NewBaseProvider(name),
		endpoint:     cfg.Endpoint,
		secure:       secure,
		conn:         conn,
	}, nil
}

// parseEndpoint strips an http(s) scheme and reports whether TLS is needed.
func parseEndpoint(endpoint string) (target string, secure bool) {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), false
	default:
		return endpoint, strings.HasSuffix(endpoint, ":443")
	}
}

// Conn returns the underlying gRPC connection.
func (p *GRPCProvider) Conn() grpc.ClientConnInterface {
	return p.conn
}

// Secure reports whether the channel uses TLS.
func (p *GRPCProvider) Secure() bool {
	return p.secure
}

// Observer feeds terminal envelope outcomes into the provider's health.
func (p *GRPCProvider) Observer() retry.Observer {
	return retry.ObserverFunc(func(e retry.Event) {
		switch e.State {
		case retry.StateSuccess:
			p.RecordSuccess(e.Elapsed)
		case retry.StateRetriesExhausted:
			p.RecordFailure()
		case retry.StateFatalFailure:
			// Rejections such as PERMISSION_DENIED say nothing about the endpoint.
			if serverFault(e.Code) {
				p.RecordFailure()
			}
		}
	})
}

func serverFault(c codes.Code) bool {
	switch c {
	case codes.Unavailable, codes.Internal, codes.DeadlineExceeded, codes.DataLoss:
		return true
	default:
		return false
	}
}

// Close cleans up resources.
func (p *GRPCProvider) Close() error {
	return p.conn.Close()
}
