package claim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/valkey-io/valkey-go"
)

// Claimer hands out short-lived exclusive claims on a key, so a task that is
// redelivered while another worker still runs it is skipped.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type ValkeyClaimer struct {
	client valkey.Client
	prefix string
}

func NewValkeyClaimer(addr, password string) (*ValkeyClaimer, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
		Password:    password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}
	if err := client.Do(context.Background(), client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping valkey: %w", err)
	}
	return &ValkeyClaimer{client: client, prefix: "dcops:claim:"}, nil
}

func (c *ValkeyClaimer) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	cmd := c.client.B().Set().Key(c.prefix + key).Value("1").Nx().ExSeconds(seconds).Build()
	err := c.client.Do(ctx, cmd).Error()
	if valkey.IsValkeyNil(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *ValkeyClaimer) Release(ctx context.Context, key string) error {
	return c.client.Do(ctx, c.client.B().Del().Key(c.prefix+key).Build()).Error()
}

func (c *ValkeyClaimer) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}

func (c *ValkeyClaimer) Close() {
	c.client.Close()
}

// Local is an in-process Claimer for single-instance deployments.
type Local struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewLocal() *Local {
	return &Local{expires: map[string]time.Time{}, now: time.Now}
}

func (l *Local) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if exp, ok := l.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	l.expires[key] = now.Add(ttl)
	return true, nil
}

func (l *Local) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.expires, key)
	return nil
}
