package requirements

import (
	"context"
	"sync"

	"github.com/kymaka/elimu/core"
	"github.com/kymaka/elimu/storage/kv"
)

// Manager hands out one bootstrapped Session per user key.
type Manager struct {
	store    kv.Store
	registry Registry
	mailSvc  core.EmailService
	logger   core.Logger
	conf     *core.Config

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(store kv.Store, registry Registry, mailSvc core.EmailService, logger core.Logger, conf *core.Config) *Manager {
	return &Manager{
		store:    store,
		registry: registry,
		mailSvc:  mailSvc,
		logger:   logger,
		conf:     conf,
		sessions: make(map[string]*Session),
	}
}

// Session returns the user's session, creating and bootstrapping it on
// first use.
func (m *Manager) Session(ctx context.Context, userID, email string) (*Session, error) {
	key := UserKey(userID, email)

	m.mu.Lock()
	sess, ok := m.sessions[key]
	if !ok {
		sess = NewSession(key, email, m.store, m.registry, m.mailSvc, m.logger, m.conf)
		m.sessions[key] = sess
	}
	m.mu.Unlock()

	if err := sess.bootstrap(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}
