// Copyright (c) nano Authors. All Rights Reserved.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package agentmesh wires the protocol, crypto, token, session, transport,
// connection, handler, auth, ratelimit, loadbalance and compress packages
// into a single addressable agent. Construction is programmatic: New takes
// an agent ID and a list of Options, mirroring the rest of the package in
// favoring functional options over a file-based config loader.
package agentmesh

import (
	"context"
	"fmt"
	"time"

	"github.com/nanokit/agentmesh/auth"
	"github.com/nanokit/agentmesh/compress"
	"github.com/nanokit/agentmesh/connection"
	"github.com/nanokit/agentmesh/crypto"
	"github.com/nanokit/agentmesh/handler"
	"github.com/nanokit/agentmesh/internal/log"
	"github.com/nanokit/agentmesh/loadbalance"
	"github.com/nanokit/agentmesh/protocol"
	"github.com/nanokit/agentmesh/ratelimit"
	"github.com/nanokit/agentmesh/session"
	"github.com/nanokit/agentmesh/token"
	"github.com/nanokit/agentmesh/transport"
)

// Node is one addressable agent: the whole stack assembled behind a single
// agent ID, ready to send and receive messages over its chosen transport.
type Node struct {
	AgentID string

	Codec       *protocol.Codec
	Crypto      *crypto.Handler
	Tokens      *token.Manager
	Sessions    *session.Manager
	Transport   transport.Transport
	Connections *connection.Manager
	Handler     *handler.Handler
	Auth        *auth.Middleware
	RateLimit   *ratelimit.Limiter
	LoadBalance *loadbalance.Balancer
	Compress    *compress.Middleware

	encrypt    bool
	compressed bool
}

// config accumulates the choices an Option makes before New assembles them
// into a Node; it is never exposed directly.
type config struct {
	sessionTTL        time.Duration
	tokenTTL          time.Duration
	heartbeatInterval time.Duration
	sharedKey         string
	transport         transport.Transport
	authRules         []*auth.Rule
	authOpts          []auth.Option
	rateLimitOpts     []ratelimit.Option
	lbStrategy        loadbalance.Strategy
	compressCfg       compress.Config
	encrypt           bool
	compressed        bool
	logger            log.Logger
}

func defaultConfig() config {
	return config{
		sessionTTL:        time.Hour,
		tokenTTL:          time.Hour,
		heartbeatInterval: 10 * time.Second,
		lbStrategy:        loadbalance.HealthBased,
		compressCfg:       compress.DefaultConfig(),
		encrypt:           true,
		compressed:        false,
	}
}

// Option configures a Node at construction time.
type Option func(*config)

// WithSessionTTL overrides the default 1h session lifetime.
func WithSessionTTL(d time.Duration) Option {
	return func(c *config) { c.sessionTTL = d }
}

// WithTokenTTL overrides the default 1h token lifetime.
func WithTokenTTL(d time.Duration) Option {
	return func(c *config) { c.tokenTTL = d }
}

// WithHeartbeatInterval overrides the connection manager's heartbeat period.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *config) { c.heartbeatInterval = d }
}

// WithTransport supplies the concrete carrier (TCP, WebSocket, or Redis)
// the node sends and receives over. Required: New panics without one.
func WithTransport(t transport.Transport) Option {
	return func(c *config) { c.transport = t }
}

// WithSharedKey sets the PBKDF2-derived key used for message encryption.
func WithSharedKey(key string) Option {
	return func(c *config) { c.sharedKey = key }
}

// WithAuthRule adds a rule to the auth middleware beyond its installed
// defaults.
func WithAuthRule(r *auth.Rule) Option {
	return func(c *config) { c.authRules = append(c.authRules, r) }
}

// WithAuthOption passes a raw auth.Option through to auth.New, e.g.
// auth.WithContextMaxAge.
func WithAuthOption(o auth.Option) Option {
	return func(c *config) { c.authOpts = append(c.authOpts, o) }
}

// WithRateLimit passes a raw ratelimit.Option through to ratelimit.New,
// e.g. ratelimit.WithGlobalRule or ratelimit.WithAdaptiveThrottling.
func WithRateLimit(o ratelimit.Option) Option {
	return func(c *config) { c.rateLimitOpts = append(c.rateLimitOpts, o) }
}

// WithLoadBalancer selects the strategy used to pick among registered peer
// backends.
func WithLoadBalancer(s loadbalance.Strategy) Option {
	return func(c *config) { c.lbStrategy = s }
}

// WithCompression overrides the default compression middleware config.
func WithCompression(cfg compress.Config) Option {
	return func(c *config) { c.compressCfg = cfg }
}

// WithEncryption toggles whether outbound messages are AES-GCM sealed.
// Enabled by default; disabling it requires a trusted transport.
func WithEncryption(enabled bool) Option {
	return func(c *config) { c.encrypt = enabled }
}

// WithCompressedTransport toggles whether outbound payloads are run
// through the compression middleware before being handed to the
// transport. Disabled by default since most payloads fall under
// compress's MinSizeThreshold anyway.
func WithCompressedTransport(enabled bool) Option {
	return func(c *config) { c.compressed = enabled }
}

// WithLogger overrides the package-level logger every component shares.
func WithLogger(l log.Logger) Option {
	return func(c *config) { c.logger = l }
}

// New assembles a Node for agentID. Panics if no transport was supplied:
// a transport is the one dependency every other component needs, so
// failing fast at construction beats a nil-pointer panic deep inside
// the first Send.
func New(agentID string, opts ...Option) *Node {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.transport == nil {
		panic("agentmesh: New requires WithTransport")
	}
	if cfg.logger != nil {
		log.SetLogger(cfg.logger)
	}

	codec := protocol.NewCodec(agentID)
	conns := connection.NewManager(cfg.transport, codec, connection.WithHeartbeatInterval(cfg.heartbeatInterval))
	tokens := token.NewManager(cfg.tokenTTL)
	crypt := crypto.NewHandler(cfg.sharedKey)
	sessions := session.NewManager(cfg.sessionTTL)
	h := handler.New(agentID, tokens, crypt, codec, conns)

	authOpts := append([]auth.Option{}, cfg.authOpts...)
	authMw := auth.New(tokens, authOpts...)
	for _, r := range cfg.authRules {
		authMw.AddRule(r)
	}

	limiter := ratelimit.New(cfg.rateLimitOpts...)
	balancer := loadbalance.New(cfg.lbStrategy)
	compressor := compress.New(cfg.compressCfg)

	n := &Node{
		AgentID:     agentID,
		Codec:       codec,
		Crypto:      crypt,
		Tokens:      tokens,
		Sessions:    sessions,
		Transport:   cfg.transport,
		Connections: conns,
		Handler:     h,
		Auth:        authMw,
		RateLimit:   limiter,
		LoadBalance: balancer,
		Compress:    compressor,
		encrypt:     cfg.encrypt,
		compressed:  cfg.compressed,
	}

	if cfg.compressed {
		h.SetOutboundTransform(n.compressOutbound)
	}

	cfg.transport.SetMessageHandler(func(payload []byte, sender string) {
		n.handleInbound(payload, sender)
	})
	sessions.OnExpired(func(s *session.Session) {
		log.Printf("agentmesh: session %s expired for %v", s.ID, s.Participants)
	})

	return n
}

// handleInbound is the transport upcall: it optionally decompresses, then
// defers to the handler for decryption, decoding, validation and
// prioritized enqueue. Rate limiting and authentication run later, at
// dispatch time, inside the wrappers RegisterCommand installs.
func (n *Node) handleInbound(payload []byte, sender string) {
	raw := payload
	if n.compressed {
		raw = n.decompressInbound(payload)
	}
	n.Handler.ReceiveMessage(context.Background(), raw, n.encrypt)
}

// compressAlgoTag maps a compress.Algorithm to the single byte
// compressOutbound prefixes onto the wire payload, so decompressInbound can
// reverse whichever algorithm Compress adaptively picked without both ends
// having to agree on one in advance.
func compressAlgoTag(a compress.Algorithm) byte {
	switch a {
	case compress.GZIP:
		return 1
	case compress.ZLIB:
		return 2
	case compress.BZ2:
		return 3
	case compress.LZMA:
		return 4
	default:
		return 0
	}
}

func compressAlgoFromTag(b byte) compress.Algorithm {
	switch b {
	case 1:
		return compress.GZIP
	case 2:
		return compress.ZLIB
	case 3:
		return compress.BZ2
	case 4:
		return compress.LZMA
	default:
		return compress.None
	}
}

// compressOutbound runs payload through the compression middleware and
// prefixes the result with a one-byte algorithm tag, installed as the
// handler's outbound transform when WithCompressedTransport is enabled.
func (n *Node) compressOutbound(payload []byte) []byte {
	result, err := n.Compress.Compress(payload, "")
	if err != nil {
		log.Errorf("agentmesh: compression failed, sending uncompressed: %v", err)
		return append([]byte{compressAlgoTag(compress.None)}, payload...)
	}
	return append([]byte{compressAlgoTag(result.Algorithm)}, result.Data...)
}

// decompressInbound reverses compressOutbound: it reads the leading
// algorithm tag and decompresses the remainder accordingly.
func (n *Node) decompressInbound(payload []byte) []byte {
	if len(payload) == 0 {
		return payload
	}
	alg := compressAlgoFromTag(payload[0])
	body := payload[1:]
	if alg == compress.None {
		return body
	}
	decompressed, err := n.Compress.Decompress(body, alg)
	if err != nil {
		log.Errorf("agentmesh: decompression failed: %v", err)
		return body
	}
	return decompressed
}

// RegisterCommand wires fn as the handler for command, gating every
// invocation behind the rate limiter and auth middleware first. A rejected
// message never reaches fn; the sender gets an ERROR response instead.
func (n *Node) RegisterCommand(command string, fn func(msg *protocol.Message)) {
	n.Handler.RegisterCommandHandler(command, func(msg *protocol.Message) {
		if result := n.RateLimit.Check(msg.Header.SenderID); !result.Allowed {
			n.rejectMessage(msg, "rate_limited", fmt.Sprintf("retry after %v", result.RetryAfter))
			return
		}
		if err := n.Auth.AuthenticateMessage(msg); err != nil {
			n.rejectMessage(msg, "unauthorized", err.Error())
			return
		}
		fn(msg)
	})
}

func (n *Node) rejectMessage(msg *protocol.Message, code, detail string) {
	resp := n.Codec.CreateErrorResponse(msg, code, detail)
	n.Handler.SendMessage(context.Background(), &resp, n.encrypt)
}

// Send transmits msg to its recipient. With the compressed-transport
// option enabled, the wire bytes are compressed after encoding and
// encryption, just before they reach the connection manager.
func (n *Node) Send(ctx context.Context, msg *protocol.Message) bool {
	return n.Handler.SendMessage(ctx, msg, n.encrypt)
}

// Start brings the node's background loops online: the connection
// manager's heartbeat/supervisor loops, the session sweep loop, and the
// transport server. It blocks until ctx is cancelled or the transport
// server returns.
func (n *Node) Start(ctx context.Context) error {
	n.Connections.Start(ctx)
	n.Sessions.Start()
	return n.Transport.StartServer(ctx)
}

// Stop tears the node's background loops and transport server down.
func (n *Node) Stop() error {
	n.Sessions.Stop()
	n.Connections.Stop()
	return n.Transport.StopServer()
}
