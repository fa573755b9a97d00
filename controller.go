package svcgroup

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Controller starts, stops and reloads a fixed Group as one logical unit.
// Every operation fans out one non-blocking request per member and returns
// once all requests are acknowledged; convergence is left to the service
// manager. Operations are serialized: an overlapping call fails with ErrBusy.
type Controller struct {
	group      *Group
	dispatcher Dispatcher

	// concurrency is the maximum number of member dispatches in flight
	concurrency int
	// timeout bounds a single delegate call (0 disables)
	timeout time.Duration

	logger  logrus.FieldLogger
	metrics *Metrics
	store   StateStore

	// op is held for the duration of Start, Stop or Reload
	op sync.Mutex

	// mu guards state
	mu    sync.RWMutex
	state State
}

// Option configures a Controller
type Option func(*Controller)

// WithConcurrency sets the maximum number of concurrent member dispatches.
// Values above 1 give up the guarantee that requests go out in group order.
func WithConcurrency(n int) Option {
	return func(c *Controller) {
		c.concurrency = n
	}
}

// WithTimeout bounds each delegate call
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.timeout = d
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithMetrics wires Prometheus collectors into the controller
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithStateStore persists the group state. The initial state is loaded
// from the store when the controller is created.
func WithStateStore(s StateStore) Option {
	return func(c *Controller) {
		c.store = s
	}
}

// NewController creates a Controller for group using dispatcher
func NewController(group *Group, dispatcher Dispatcher, opts ...Option) (*Controller, error) {
	if group == nil || group.Len() == 0 {
		return nil, &ConfigError{Field: "members", Err: ErrEmptyGroup}
	}
	if dispatcher == nil {
		return nil, &ConfigError{Field: "backend", Err: fmt.Errorf("no dispatcher")}
	}

	c := &Controller{
		group:       group,
		dispatcher:  dispatcher,
		concurrency: 1,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.concurrency < 1 {
		c.concurrency = 1
	}
	if c.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		c.logger = l
	}
	c.logger = c.logger.WithField("group", group.Name())

	if c.store != nil {
		state, err := c.store.Load()
		if err != nil {
			return nil, fmt.Errorf("loading group state: %w", err)
		}
		c.state = state
	}
	c.metrics.setState(group.Name(), c.state)

	return c, nil
}

// NewControllerFromConfig builds the group, dispatcher and state store
// described by cfg
func NewControllerFromConfig(cfg *Config, opts ...Option) (*Controller, error) {
	group, err := cfg.Group()
	if err != nil {
		return nil, err
	}
	dispatcher, err := NewDispatcher(cfg)
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithTimeout(time.Duration(cfg.DispatchTimeout)),
	}
	if cfg.Concurrency > 0 {
		base = append(base, WithConcurrency(cfg.Concurrency))
	}
	if cfg.StateFile != "" {
		base = append(base, WithStateStore(NewFileStateStore(cfg.StateFile)))
	}

	return NewController(group, dispatcher, append(base, opts...)...)
}

// Group returns the controlled group
func (c *Controller) Group() *Group {
	return c.group
}

// State returns the current group state
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Start requests every member to start. On full success the group
// becomes Started; if any member fails the state is left unchanged and
// the per-member failures are returned as a *MultiError.
func (c *Controller) Start(ctx context.Context) error {
	return c.run(ctx, OpStart)
}

// Stop requests every member to stop. On full success the group becomes
// Stopped; a failed stop does not mark the group Stopped.
func (c *Controller) Stop(ctx context.Context) error {
	return c.run(ctx, OpStop)
}

// Reload requests every member to reload. The group state never changes.
// Members without reload support are expected to treat it as a no-op.
func (c *Controller) Reload(ctx context.Context) error {
	return c.run(ctx, OpReload)
}

// Do runs op against the group
func (c *Controller) Do(ctx context.Context, op Operation) error {
	switch op {
	case OpStart, OpStop, OpReload:
		return c.run(ctx, op)
	default:
		return fmt.Errorf("unsupported operation: %v", op)
	}
}

// Close releases dispatcher resources
func (c *Controller) Close() error {
	if closer, ok := c.dispatcher.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Controller) run(ctx context.Context, op Operation) error {
	log := c.logger.WithField("op", op.String())

	if !c.op.TryLock() {
		c.metrics.observeOperation(c.group.Name(), op, resultBusy)
		log.Warn("rejected: another operation is in progress")
		return ErrBusy
	}
	defer c.op.Unlock()

	start := time.Now()
	err := c.dispatchAll(ctx, op)
	if err != nil {
		c.metrics.observeOperation(c.group.Name(), op, resultFailure)
		log.WithError(err).Errorf("%s dispatch failed, state remains %s", op, c.State())
		return err
	}

	var next State
	switch op {
	case OpStart:
		next = StateStarted
	case OpStop:
		next = StateStopped
	default:
		next = c.State()
	}

	c.mu.Lock()
	c.state = next
	c.mu.Unlock()
	c.metrics.setState(c.group.Name(), next)
	c.metrics.observeOperation(c.group.Name(), op, resultSuccess)

	log.WithFields(logrus.Fields{
		"members":  c.group.Len(),
		"state":    next.String(),
		"duration": time.Since(start),
	}).Infof("%s dispatched", op)

	if c.store != nil && op != OpReload {
		if err := c.store.Save(next); err != nil {
			return fmt.Errorf("saving group state: %w", err)
		}
	}
	return nil
}

// dispatchAll issues exactly one request per member. A failure for one
// member never stops dispatch to the others.
func (c *Controller) dispatchAll(ctx context.Context, op Operation) error {
	members := c.group.members
	merr := &MultiError{}

	if c.concurrency == 1 {
		for _, member := range members {
			merr.Add(c.dispatchOne(ctx, op, member))
		}
		return merr.Err()
	}

	// Semaphore for concurrency control
	sem := make(chan struct{}, c.concurrency)

	var wg sync.WaitGroup
	var mu sync.Mutex
	errs := make([]error, len(members))

	for i, member := range members {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, member string) {
			defer wg.Done()
			defer func() { <-sem }()

			err := c.dispatchOne(ctx, op, member)
			mu.Lock()
			errs[i] = err
			mu.Unlock()
		}(i, member)
	}

	wg.Wait()

	// Keep errors in member order regardless of completion order
	for _, err := range errs {
		merr.Add(err)
	}
	return merr.Err()
}

func (c *Controller) dispatchOne(ctx context.Context, op Operation, member string) error {
	log := c.logger.WithFields(logrus.Fields{"op": op.String(), "member": member})

	opCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	log.Debug("dispatching")
	err := c.dispatcher.Dispatch(opCtx, Request{Op: op, Member: member, NoBlock: true})
	c.metrics.observeDispatch(c.group.Name(), op, err)
	if err != nil {
		log.WithError(err).Warn("dispatch failed")
		return &DispatchError{Op: op, Member: member, Err: err}
	}
	return nil
}
