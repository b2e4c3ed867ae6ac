package tbdb

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ClientTTL bounds how long a constructed client is reused.
const ClientTTL = 25 * time.Minute

// ClientProvider hands out Clients, reusing one while the connection row is
// unchanged. Any write to the connection bumps updated_at and so retires the
// cached client on the next call.
type ClientProvider struct {
	store ConnectionStore
	opts  []Option
	now   func() time.Time

	mu      sync.Mutex
	key     string
	client  *Client
	expires time.Time
}

// NewClientProvider builds clients with opts. The provider's Invalidate is
// installed as every client's 401 hook.
func NewClientProvider(store ConnectionStore, opts ...Option) *ClientProvider {
	p := &ClientProvider{store: store, now: time.Now}
	p.opts = append(append([]Option{}, opts...), WithOnUnauthorized(p.Invalidate))
	return p
}

// Client returns a cached client or constructs a new one.
func (p *ClientProvider) Client(ctx context.Context) (*Client, error) {
	conn, err := p.store.Instance(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tbdb connection: %w", err)
	}
	key := fmt.Sprintf("tbdb_client:%s:%d", conn.Status, conn.UpdatedAt.UnixNano())
	now := p.now()

	p.mu.Lock()
	if p.client != nil && p.key == key && now.Before(p.expires) {
		c := p.client
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := New(ctx, p.store, p.opts...)
	if err != nil {
		return nil, err
	}

	// Construction may have refreshed the token; key on the row as it is now.
	if conn, err = p.store.Instance(ctx); err == nil {
		key = fmt.Sprintf("tbdb_client:%s:%d", conn.Status, conn.UpdatedAt.UnixNano())
	}
	p.mu.Lock()
	p.key, p.client, p.expires = key, c, now.Add(ClientTTL)
	p.mu.Unlock()
	return c, nil
}

// Invalidate drops the cached client.
func (p *ClientProvider) Invalidate() {
	p.mu.Lock()
	p.key, p.client = "", nil
	p.mu.Unlock()
}
