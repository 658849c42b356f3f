package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolStopped = errors.New("extraction pool stopped")
	ErrQueueFull   = errors.New("extraction queue full")
)

// Handler runs one queued upload.
type Handler func(ctx context.Context, uploadID string) error

type PoolConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	Handler    Handler
	// OnDone, when set, is called after every task with its result.
	OnDone func(uploadID string, err error)
	Logger *slog.Logger
}

type Stats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// Pool executes extraction tasks off the request path on a fixed number of
// workers fed by a buffered queue.
type Pool struct {
	cfg       PoolConfig
	queue     chan string
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	processed atomic.Int64
	failed    atomic.Int64

	mu      sync.Mutex
	pending map[string]struct{} // queued or running
}

func NewPool(cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:    cfg,
		queue:  make(chan string, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Enqueue hands uploadID to the pool without waiting. It returns
// ErrQueueFull when no slot is free; the upload stays pending and a later
// reconcile queues it. An upload already queued or running is not queued
// twice.
func (p *Pool) Enqueue(ctx context.Context, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.ctx.Err() != nil {
		return ErrPoolStopped
	}
	if !p.reserve(uploadID) {
		return nil
	}
	select {
	case p.queue <- uploadID:
		return nil
	default:
		p.release(uploadID)
		return ErrQueueFull
	}
}

// EnqueueWait is Enqueue that blocks while the queue is full. The worker
// uses it so a busy pool slows down message delivery instead of dropping.
func (p *Pool) EnqueueWait(ctx context.Context, uploadID string) error {
	if p.ctx.Err() != nil {
		return ErrPoolStopped
	}
	if !p.reserve(uploadID) {
		return nil
	}
	select {
	case p.queue <- uploadID:
		return nil
	case <-ctx.Done():
		p.release(uploadID)
		return ctx.Err()
	case <-p.ctx.Done():
		p.release(uploadID)
		return ErrPoolStopped
	}
}

func (p *Pool) reserve(uploadID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[uploadID]; ok {
		return false
	}
	p.pending[uploadID] = struct{}{}
	return true
}

func (p *Pool) release(uploadID string) {
	p.mu.Lock()
	delete(p.pending, uploadID)
	p.mu.Unlock()
}

// Stop cancels running tasks and waits for the workers to exit. Tasks still
// queued stay pending in storage and are picked up by the next reconcile.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.cfg.Workers,
		Queued:    len(p.queue),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case id := <-p.queue:
			p.execute(id)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool) execute(uploadID string) {
	ctx := p.ctx
	if p.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(p.ctx, p.cfg.JobTimeout)
		defer cancel()
	}
	err := p.run(ctx, uploadID)
	p.release(uploadID)
	if err != nil {
		p.failed.Add(1)
		p.cfg.Logger.Error("extraction task failed", slog.String("upload_id", uploadID), slog.String("error", err.Error()))
	} else {
		p.processed.Add(1)
	}
	if p.cfg.OnDone != nil {
		p.cfg.OnDone(uploadID, err)
	}
}

func (p *Pool) run(ctx context.Context, uploadID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return p.cfg.Handler(ctx, uploadID)
}
