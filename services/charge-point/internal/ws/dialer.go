package ws

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chargepoint/services/charge-point/internal/auth"
	"chargepoint/services/charge-point/internal/ocpp/protocol"
)

// DialerConfig describes the central system endpoint.
type DialerConfig struct {
	// URL is the endpoint without the charge point id, e.g. ws://csms:8080/ocpp.
	URL               string
	ChargePointID     string
	BasicPassword     string
	Tokens            *auth.TokenService
	WriteTimeout      time.Duration
	ReconnectInterval time.Duration
}

// Dialer keeps one link to the central system and reconnects when it drops.
type Dialer struct {
	cfg       DialerConfig
	processor MessageProcessor
	logger    *zap.Logger
	dialer    *websocket.Dialer
	onConnect func(ctx context.Context)

	mu   sync.RWMutex
	conn *Connection
}

// NewDialer ctor.
func NewDialer(cfg DialerConfig, processor MessageProcessor, logger *zap.Logger) *Dialer {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{
		cfg:       cfg,
		processor: processor,
		logger:    logger.With(zap.String("charge_point_id", cfg.ChargePointID)),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Subprotocols:     []string{protocol.Subprotocol},
		},
	}
}

// SetProcessor replaces the frame processor. Call before Run.
func (d *Dialer) SetProcessor(processor MessageProcessor) {
	d.processor = processor
}

// OnConnect registers fn to run after every successful connect. Its context
// ends with the link.
func (d *Dialer) OnConnect(fn func(ctx context.Context)) {
	d.onConnect = fn
}

// Endpoint returns the URL dialed, with the charge point id as last path segment.
func (d *Dialer) Endpoint() string {
	return strings.TrimRight(d.cfg.URL, "/") + "/" + url.PathEscape(d.cfg.ChargePointID)
}

// Connected reports whether the link is up.
func (d *Dialer) Connected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.conn != nil
}

// Send implements ocpp.Sender.
func (d *Dialer) Send(msg []byte) error {
	d.mu.RLock()
	conn := d.conn
	d.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(msg)
}

func (d *Dialer) header() (http.Header, error) {
	header := http.Header{}
	switch {
	case d.cfg.Tokens != nil:
		token, err := d.cfg.Tokens.GenerateToken(d.cfg.ChargePointID, auth.ScopeCentralSystem)
		if err != nil {
			return nil, err
		}
		header.Set("Authorization", "Bearer "+token)
	case d.cfg.BasicPassword != "":
		creds := base64.StdEncoding.EncodeToString([]byte(d.cfg.ChargePointID + ":" + d.cfg.BasicPassword))
		header.Set("Authorization", "Basic "+creds)
	}
	return header, nil
}

// Run dials until ctx is cancelled.
func (d *Dialer) Run(ctx context.Context) error {
	for {
		err := d.connectOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		d.logger.Warn("central system link down", zap.Error(err), zap.Duration("retry_in", d.cfg.ReconnectInterval))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d.cfg.ReconnectInterval):
		}
	}
}

func (d *Dialer) connectOnce(ctx context.Context) error {
	header, err := d.header()
	if err != nil {
		return fmt.Errorf("ws: build auth header: %w", err)
	}

	conn, resp, err := d.dialer.DialContext(ctx, d.Endpoint(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("ws: dial %s: %w", d.Endpoint(), err)
	}
	if conn.Subprotocol() != protocol.Subprotocol {
		d.logger.Warn("central system did not confirm subprotocol", zap.String("subprotocol", conn.Subprotocol()))
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := NewConnection(conn, d.processor, d.cfg.WriteTimeout, d.logger)
	d.mu.Lock()
	d.conn = c
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.conn = nil
		d.mu.Unlock()
	}()

	d.logger.Info("connected to central system", zap.String("endpoint", d.Endpoint()))
	if d.onConnect != nil {
		go d.onConnect(connCtx)
	}
	return c.Run(connCtx)
}
