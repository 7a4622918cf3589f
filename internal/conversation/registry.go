package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/playcore-platform/message-delivery-service/infra/broker"
	"github.com/playcore-platform/message-delivery-service/internal/domain/model"
	"github.com/playcore-platform/message-delivery-service/internal/group"
)

// The registry is the directory's live-bind hook.
var _ group.OnlineBinder = (*Registry)(nil)

// Registry tracks which accounts are online and owns conversation
// construction. One conversation per (gamespace, account); a second
// attach replaces the first.
type Registry struct {
	pool   broker.Opener
	groups ParticipationLister
	store  History
	engine Sender
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*Conversation
}

func NewRegistry(pool broker.Opener, groups ParticipationLister, store History, engine Sender, logger *slog.Logger) *Registry {
	return &Registry{
		pool:   pool,
		groups: groups,
		store:  store,
		engine: engine,
		logger: logger,
		active: make(map[string]*Conversation),
	}
}

func registryKey(gamespaceID, accountID string) string {
	return gamespaceID + "|" + accountID
}

// Attach builds and attaches a conversation for the session. A previous
// session of the same account is detached first.
func (r *Registry) Attach(ctx context.Context, gamespaceID, accountID string, authoritative bool, pusher Pusher) (*Conversation, error) {
	c := newConversation(gamespaceID, accountID, authoritative,
		r.pool, r.groups, r.store, r.engine, pusher, r.logger)

	key := registryKey(gamespaceID, accountID)
	r.mu.Lock()
	prev := r.active[key]
	delete(r.active, key)
	r.mu.Unlock()
	if prev != nil {
		prev.Detach()
	}

	if err := c.Attach(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.active[key] = c
	r.mu.Unlock()
	return c, nil
}

// Detach releases the session and drops it from the online set. Only the
// currently registered conversation is removed; a replaced session
// detaches itself without touching its successor.
func (r *Registry) Detach(gamespaceID string, c *Conversation) {
	key := registryKey(gamespaceID, c.AccountID())

	r.mu.Lock()
	if r.active[key] == c {
		delete(r.active, key)
	}
	r.mu.Unlock()

	c.Detach()
}

// BindAccountToGroup binds a freshly created participation into the
// account's live topology; offline accounts are a no-op.
func (r *Registry) BindAccountToGroup(_ context.Context, accountID string, gp model.GroupParticipation) {
	key := registryKey(gp.Group.GamespaceID, accountID)

	r.mu.Lock()
	c := r.active[key]
	r.mu.Unlock()
	if c == nil {
		return
	}

	if err := c.BindGroup(gp); err != nil {
		r.logger.Warn("ONLINE_GROUP_BIND_FAILED",
			"account", accountID, "group", gp.Group.GroupID, "err", err)
	}
}

// Online reports whether the account currently holds a session.
func (r *Registry) Online(gamespaceID, accountID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[registryKey(gamespaceID, accountID)]
	return ok
}
