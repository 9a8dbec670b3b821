package stream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"vitalwatch-agent/internal/model"
)

type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// GRPCMethods names the three client-streaming calls on the presentation
// backend.
type GRPCMethods struct {
	Charts     string
	Insights   string
	Connection string
}

type GRPCClient struct {
	mu sync.Mutex

	logger      *slog.Logger
	addr        string
	tlsConfig   *tls.Config
	token       string
	sessionID   string
	methods     GRPCMethods
	conn        *grpc.ClientConn
	streams     map[string]grpc.ClientStream
	streamCtx   context.Context
	cancel      context.CancelFunc
	dialTimeout time.Duration
}

func NewGRPCClient(addr string, tlsCfg *tls.Config, token, sessionID string, methods GRPCMethods, logger *slog.Logger) *GRPCClient {
	encoding.RegisterCodec(jsonCodec{})
	ctx, cancel := context.WithCancel(context.Background())
	return &GRPCClient{
		logger:      logger,
		addr:        addr,
		tlsConfig:   tlsCfg,
		token:       token,
		sessionID:   sessionID,
		methods:     methods,
		streams:     make(map[string]grpc.ClientStream),
		streamCtx:   ctx,
		cancel:      cancel,
		dialTimeout: 8 * time.Second,
	}
}

func (c *GRPCClient) SendChartFrame(ctx context.Context, f model.ChartFrame) error {
	return c.send(ctx, c.methods.Charts, f)
}

func (c *GRPCClient) SendInsights(ctx context.Context, r model.InsightReport) error {
	return c.send(ctx, c.methods.Insights, r)
}

func (c *GRPCClient) SendConnectionEvent(ctx context.Context, ev model.ConnectionEvent) error {
	return c.send(ctx, c.methods.Connection, NewConnectionFrame(c.sessionID, ev))
}

func (c *GRPCClient) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	for method, s := range c.streams {
		if e := s.CloseSend(); e != nil {
			err = errors.Join(err, fmt.Errorf("close %s: %w", method, e))
		}
		delete(c.streams, method)
	}
	c.cancel()
	if c.conn != nil {
		err = errors.Join(err, c.conn.Close())
		c.conn = nil
	}
	return err
}

func (c *GRPCClient) send(ctx context.Context, method string, frame any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streamCtx.Err() != nil {
		return errors.New("grpc client closed")
	}
	if err := c.ensureConnLocked(ctx); err != nil {
		return err
	}
	s, ok := c.streams[method]
	if !ok {
		var err error
		if s, err = c.openStreamLocked(method); err != nil {
			return err
		}
	}
	if err := s.SendMsg(frame); err != nil {
		c.logger.Warn("grpc send failed, reopening stream", "method", method, "error", err)
		delete(c.streams, method)
		s, err2 := c.openStreamLocked(method)
		if err2 != nil {
			return fmt.Errorf("reopen %s: %w", method, err2)
		}
		if err2 := s.SendMsg(frame); err2 != nil {
			delete(c.streams, method)
			return fmt.Errorf("send %s: %w", method, err2)
		}
	}
	return nil
}

func (c *GRPCClient) ensureConnLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	var creds credentials.TransportCredentials
	if c.tlsConfig != nil {
		creds = credentials.NewTLS(c.tlsConfig)
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.DialContext(
		dialCtx,
		c.addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return fmt.Errorf("grpc dial %s: %w", c.addr, err)
	}
	c.conn = conn
	c.logger.Info("grpc stream connected", "addr", c.addr)
	return nil
}

// openStreamLocked opens method on the client-lifetime context so a stream
// outlives the request that created it.
func (c *GRPCClient) openStreamLocked(method string) (grpc.ClientStream, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("grpc conn is nil")
	}
	ctx := c.streamCtx
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	s, err := c.conn.NewStream(ctx, &grpc.StreamDesc{ClientStreams: true}, method)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", method, err)
	}
	c.streams[method] = s
	return s, nil
}
