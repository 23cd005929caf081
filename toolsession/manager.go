// Package toolsession provisions remote tool router sessions scoped to a
// user's active integrations and caches them per conversation.
package toolsession

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/PipeOpsHQ/rube/platform"
	"github.com/PipeOpsHQ/rube/tools"
)

var ErrSessionCreationFailed = errors.New("tool session creation failed")

// maxAcquireAttempts bounds retries when a freshly provisioned session is
// invalidated before the caller could take a reference on it.
const maxAcquireAttempts = 3

// SessionError wraps the cause of a failed provisioning attempt.
type SessionError struct {
	Identity string
	Err      error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s for %s: %v", ErrSessionCreationFailed, e.Identity, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

func (e *SessionError) Is(target error) bool { return target == ErrSessionCreationFailed }

// Provisioner creates tool router sessions on the platform.
type Provisioner interface {
	CreateToolRouterSession(ctx context.Context, userID string, toolkits []string) (platform.ToolRouterSession, error)
	AuthHeaders() http.Header
}

// Registry is the slice of the connection registry the manager needs.
type Registry interface {
	ActiveLister
	ActiveToolkits(ctx context.Context, identity string) ([]string, error)
}

// Metrics observes session provisioning.
type Metrics interface {
	ObserveSessionProvision(outcome string, duration time.Duration)
	ObserveSessionCache(hit bool)
}

// Session is a provisioned tool router session and its merged tool set.
// Every holder, the cache included, owns one reference; the remote client is
// closed when the last one is released.
type Session struct {
	Handle    platform.ToolRouterSession
	Identity  string
	Toolkits  []string
	Tools     *tools.Set
	CreatedAt time.Time

	mu        sync.Mutex
	refs      int
	closeOnce sync.Once
	closed    atomic.Bool
	client    *mcp.ClientSession
}

// Closed reports whether the session's remote client has been released.
func (s *Session) Closed() bool { return s.closed.Load() }

// retain takes a reference. It fails once the session is closed.
func (s *Session) retain() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return false
	}
	s.refs++
	return true
}

// Release drops one reference and closes the remote client when none are
// left. Callers of GetOrCreate release the session when their turn ends.
func (s *Session) Release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.refs--
	last := s.refs <= 0
	if last {
		s.closed.Store(true)
	}
	s.mu.Unlock()
	if last {
		s.close()
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.client != nil {
			_ = s.client.Close()
		}
	})
}

type Manager struct {
	provisioner Provisioner
	registry    Registry
	cache       *Cache
	group       singleflight.Group
	httpClient  *http.Client
	logger      *zap.Logger
	metrics     Metrics
	version     string
	now         func() time.Time
}

type Option func(*Manager)

func WithCache(c *Cache) Option {
	return func(m *Manager) {
		if c != nil {
			m.cache = c
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(m *Manager) {
		if h != nil {
			m.httpClient = h
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(metrics Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

func WithClientVersion(v string) Option {
	return func(m *Manager) {
		if strings.TrimSpace(v) != "" {
			m.version = strings.TrimSpace(v)
		}
	}
}

func NewManager(p Provisioner, registry Registry, opts ...Option) *Manager {
	m := &Manager{
		provisioner: p,
		registry:    registry,
		httpClient:  http.DefaultClient,
		logger:      zap.NewNop(),
		version:     "dev",
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cache == nil {
		m.cache = NewCache(DefaultTTL, DefaultCapacity)
	}
	return m
}

// GetOrCreate returns the cached session for (identity, conversation) or
// provisions one. Concurrent first calls for the same key share a single
// provisioning attempt. The returned session carries a reference the caller
// must Release.
func (m *Manager) GetOrCreate(ctx context.Context, identity, conversation string) (*Session, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, &SessionError{Identity: identity, Err: errors.New("identity is required")}
	}
	key := Key{Identity: identity, Conversation: conversation}
	if s, ok := m.cache.Get(key); ok {
		m.observeCache(true)
		return s, nil
	}
	m.observeCache(false)

	for range maxAcquireAttempts {
		s, err := m.provisionShared(ctx, key)
		if err != nil {
			return nil, err
		}
		if s.retain() {
			return s, nil
		}
		m.logger.Debug("tool session invalidated before use; provisioning again", zap.String("identity", identity))
	}
	return nil, &SessionError{Identity: identity, Err: errors.New("session was invalidated while provisioning")}
}

// provisionShared provisions and caches the session for key, sharing the
// attempt with concurrent callers.
func (m *Manager) provisionShared(ctx context.Context, key Key) (*Session, error) {
	identity := key.Identity
	v, err, _ := m.group.Do(identity+"\x00"+key.Conversation, func() (any, error) {
		if s, ok := m.cache.peek(key); ok {
			return s, nil
		}
		start := m.now()
		s, err := m.provision(context.WithoutCancel(ctx), identity)
		if err != nil {
			m.observeProvision("error", m.now().Sub(start))
			return nil, err
		}
		m.observeProvision("ok", m.now().Sub(start))
		m.cache.Put(key, s)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (m *Manager) provision(ctx context.Context, identity string) (*Session, error) {
	toolkits, err := m.registry.ActiveToolkits(ctx, identity)
	if err != nil {
		return nil, &SessionError{Identity: identity, Err: fmt.Errorf("resolve active toolkits: %w", err)}
	}

	handle, err := m.provisioner.CreateToolRouterSession(ctx, identity, toolkits)
	if err != nil {
		return nil, &SessionError{Identity: identity, Err: err}
	}

	client, err := connectRemote(ctx, m.httpClient, handle.URL, m.provisioner.AuthHeaders(), m.version)
	if err != nil {
		return nil, &SessionError{Identity: identity, Err: err}
	}
	remote, err := listRemoteTools(ctx, client)
	if err != nil {
		_ = client.Close()
		return nil, &SessionError{Identity: identity, Err: err}
	}

	set := tools.Merge(remote, LocalTools(m.registry, identity, m.logger)...)
	m.logger.Info("tool session provisioned",
		zap.String("identity", identity),
		zap.String("sessionId", handle.SessionID),
		zap.Strings("toolkits", toolkits),
		zap.Int("remoteTools", len(remote)),
		zap.Int("tools", set.Len()),
	)
	return &Session{
		Handle:    handle,
		Identity:  identity,
		Toolkits:  toolkits,
		Tools:     set,
		CreatedAt: m.now(),
		client:    client,
	}, nil
}

// InvalidateIdentity drops every cached session of identity.
func (m *Manager) InvalidateIdentity(identity string) int {
	n := m.cache.InvalidateIdentity(strings.TrimSpace(identity))
	if n > 0 {
		m.logger.Info("tool sessions invalidated", zap.String("identity", identity), zap.Int("sessions", n))
	}
	return n
}

// OnConnectionDeleted matches connections.DeleteHook.
func (m *Manager) OnConnectionDeleted(_ context.Context, identity, accountID string) {
	m.logger.Debug("connection deleted", zap.String("identity", identity), zap.String("accountId", accountID))
	m.InvalidateIdentity(identity)
}

// Close closes every cached session.
func (m *Manager) Close() {
	m.cache.Close()
}

func (m *Manager) observeCache(hit bool) {
	if m.metrics != nil {
		m.metrics.ObserveSessionCache(hit)
	}
}

func (m *Manager) observeProvision(outcome string, d time.Duration) {
	if m.metrics != nil {
		m.metrics.ObserveSessionProvision(outcome, d)
	}
}
