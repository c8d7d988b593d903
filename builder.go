package authcore

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conveyly/authcore/password"
	"github.com/conveyly/authcore/ratelimit"
	"github.com/conveyly/authcore/session"
	"github.com/conveyly/authcore/token"
)

// Builder assembles an [Engine]. Configure it with the With methods and
// call Build once; a Builder is not reusable.
type Builder struct {
	config    Config
	directory Directory
	store     session.Store
	logger    *slog.Logger
	auditSink AuditSink

	built bool
}

// New returns a Builder preloaded with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the whole security policy.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithDirectory sets the account database adapter. Required.
func (b *Builder) WithDirectory(d Directory) *Builder {
	b.directory = d
	return b
}

// WithStore sets the refresh-token store. Defaults to the in-memory
// store, which is suitable for tests and single-process deployments.
func (b *Builder) WithStore(s session.Store) *Builder {
	b.store = s
	return b
}

// WithLogger sets the structured logger. Defaults to [slog.Default].
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink enables audit event dispatch to the given sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration and wires the engine. Any
// misconfiguration fails here rather than surfacing mid-request.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.directory == nil {
		return nil, errors.New("directory required")
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	hasher, err := password.New(b.config.passwordPolicy(), b.config.passwordParams())
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	tokens, err := token.NewManager(token.Config{
		AccessTTL: b.config.Token.AccessTTL,
		Key:       b.config.Token.SigningKey,
		Issuer:    b.config.Token.Issuer,
		Leeway:    b.config.Token.Leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}

	store := b.store
	if store == nil {
		store = session.NewMemoryStore()
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	sessions, err := session.NewManager(store, tokens, session.Config{
		RefreshTTL:    b.config.Token.RefreshTTL,
		MaxPerAccount: b.config.Session.MaxPerAccount,
		SweepInterval: b.config.Session.SweepInterval,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("session manager: %w", err)
	}

	// Hash an unguessable throwaway value once so Login can verify
	// against it for unknown emails.
	dummy, err := hasher.DummyHash()
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}

	b.built = true
	return &Engine{
		config:    b.config,
		directory: b.directory,
		hasher:    hasher,
		limiter:   ratelimit.New(b.config.rateLimits()),
		tokens:    tokens,
		sessions:  sessions,
		audit:     newAuditDispatcher(b.auditSink),
		metrics:   newMetrics(),
		logger:    logger,
		dummyHash: dummy,
		now:       time.Now,
	}, nil
}
