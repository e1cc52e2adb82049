// Package notify publishes borrow events to a message broker. Publication is
// fire-and-forget: a request never waits for the broker, and a broker outage
// only costs notifications.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	KeyBorrowCreated  = "borrow.created"
	KeyBorrowReturned = "borrow.returned"
)

// Notification describes one committed ledger change.
type Notification struct {
	Key        string    `json:"-"`
	BorrowID   uuid.UUID `json:"borrow_id"`
	UserID     uuid.UUID `json:"user_id"`
	BookID     uuid.UUID `json:"book_id"`
	StockAfter int       `json:"stock_after"`
	At         time.Time `json:"at"`
}

// Publisher accepts notifications without blocking.
type Publisher interface {
	Publish(n Notification)
	Close() error
}

// Noop discards every notification. It is used when no broker is configured.
type Noop struct{}

func (Noop) Publish(Notification) {}
func (Noop) Close() error         { return nil }

// Config describes the broker connection.
type Config struct {
	URL       string
	Exchange  string
	QueueSize int
}

// sink is the part of a broker channel the publisher needs.
type sink interface {
	publish(ctx context.Context, key string, body []byte) error
	close() error
}

// AMQP publishes notifications to a topic exchange from a background
// goroutine, behind a circuit breaker.
type AMQP struct {
	sink    sink
	queue   chan Notification
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Dial connects to the broker and declares the exchange.
func Dial(cfg Config, logger zerolog.Logger) (*AMQP, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = "libris.borrows"
	}
	r, err := dialRabbit(cfg.URL, cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return newAMQP(r, cfg.QueueSize, logger), nil
}

func newAMQP(s sink, queueSize int, logger zerolog.Logger) *AMQP {
	if queueSize <= 0 {
		queueSize = 256
	}
	logger = logger.With().Str("component", "notify").Logger()

	p := &AMQP{
		sink:   s,
		queue:  make(chan Notification, queueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "amqp",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	go p.run()
	return p
}

// Publish queues n. When the queue is full the notification is dropped.
func (p *AMQP) Publish(n Notification) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.queue <- n:
	default:
		p.logger.Warn().Str("key", n.Key).Str("borrow_id", n.BorrowID.String()).Msg("notification queue full, dropped")
	}
}

func (p *AMQP) run() {
	defer close(p.done)
	for n := range p.queue {
		if err := p.send(n); err != nil {
			p.logger.Warn().Err(err).Str("key", n.Key).Str("borrow_id", n.BorrowID.String()).Msg("notification not delivered")
		}
	}
}

func (p *AMQP) send(n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return nil, p.sink.publish(ctx, n.Key, body)
	})
	return err
}

// Close drains queued notifications and closes the connection.
func (p *AMQP) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return p.sink.close()
}

type rabbit struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func dialRabbit(url, exchange string) (*rabbit, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &rabbit{conn: conn, ch: ch, exchange: exchange}, nil
}

func (r *rabbit) publish(ctx context.Context, key string, body []byte) error {
	return r.ch.PublishWithContext(ctx, r.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

func (r *rabbit) close() error {
	return errors.Join(r.ch.Close(), r.conn.Close())
}
