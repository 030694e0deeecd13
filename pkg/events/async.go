package events

import (
	"context"
	"sync"
	"time"

	"github.com/otherjamesbrown/redact-cli/pkg/logging"
	"github.com/otherjamesbrown/redact-cli/pkg/orchestrator"
)

// Sender delivers one serialized event. *Publisher implements it.
type Sender interface {
	Publish(ctx context.Context, channel string, event any) error
}

// AsyncConfig configures an AsyncPublisher.
type AsyncConfig struct {
	// BufferSize is the number of envelopes held before new ones are dropped.
	BufferSize int
	// SendTimeout bounds each publish call.
	SendTimeout time.Duration
}

// DefaultAsyncConfig returns the default buffering configuration.
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		BufferSize:  256,
		SendTimeout: 2 * time.Second,
	}
}

// AsyncPublisher decouples session observers from Redis latency. Envelopes
// are queued and sent by a background goroutine; a full queue drops events
// rather than blocking the session.
type AsyncPublisher struct {
	sender Sender
	config AsyncConfig
	logger logging.Logger

	entryChan chan Envelope
	flushChan chan chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewAsyncPublisher starts the background sender.
func NewAsyncPublisher(sender Sender, config AsyncConfig, logger logging.Logger) *AsyncPublisher {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultAsyncConfig().BufferSize
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultAsyncConfig().SendTimeout
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	p := &AsyncPublisher{
		sender:    sender,
		config:    config,
		logger:    logger.With(logging.F("component", "async_event_publisher")),
		entryChan: make(chan Envelope, config.BufferSize),
		flushChan: make(chan chan struct{}),
		done:      make(chan struct{}),
	}

	p.wg.Add(1)
	go p.run()

	return p
}

// Enqueue queues an envelope without blocking.
func (p *AsyncPublisher) Enqueue(env Envelope) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}

	select {
	case p.entryChan <- env:
		return true
	default:
		p.dropped++
		return false
	}
}

// Observe queues the events implied by a session snapshot. It matches
// orchestrator.Observer.
func (p *AsyncPublisher) Observe(s orchestrator.Session) {
	for _, env := range FromSession(s) {
		p.Enqueue(env)
	}
}

// Observer returns Observe as an orchestrator.Observer.
func (p *AsyncPublisher) Observer() orchestrator.Observer {
	return p.Observe
}

// Dropped returns how many envelopes were discarded because the queue was full.
func (p *AsyncPublisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Flush blocks until every envelope queued before the call has been sent.
func (p *AsyncPublisher) Flush() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	ack := make(chan struct{})
	select {
	case p.flushChan <- ack:
		<-ack
	case <-p.done:
	}
}

// Close drains the queue and stops the background sender.
func (p *AsyncPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()
	return nil
}

func (p *AsyncPublisher) run() {
	defer p.wg.Done()

	for {
		select {
		case env := <-p.entryChan:
			p.send(env)
		case ack := <-p.flushChan:
			p.drain()
			close(ack)
		case <-p.done:
			p.drain()
			return
		}
	}
}

func (p *AsyncPublisher) drain() {
	for {
		select {
		case env := <-p.entryChan:
			p.send(env)
		default:
			return
		}
	}
}

func (p *AsyncPublisher) send(env Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.SendTimeout)
	defer cancel()

	if err := p.sender.Publish(ctx, env.Channel, env.Event); err != nil {
		p.logger.Warn("Dropping event after publish failure",
			logging.Err(err),
			logging.F("channel", env.Channel))
	}
}
