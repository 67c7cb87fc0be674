package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	initialReconnectDelay = time.Second
	maxReconnectDelay     = 30 * time.Second
)

// Connection — AMQP соединение с автоматическим reconnect.
//
// Публикация идёт через один канал в режиме publisher confirms.
// Consumers открывают собственные каналы (OpenChannel) и после
// разрыва ждут Reconnected, чтобы подписаться заново.
type Connection struct {
	url    string
	logger *slog.Logger

	mu        sync.RWMutex
	conn      *amqp.Connection
	publishCh *amqp.Channel

	// up закрывается при следующем успешном переподключении.
	up chan struct{}

	closed bool
	done   chan struct{}
}

// NewConnection подключается к RabbitMQ.
func NewConnection(url string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, ch, err := dial(url)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		url:       url,
		logger:    logger,
		conn:      conn,
		publishCh: ch,
		up:        make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.supervise(conn)

	return c, nil
}

// dial открывает соединение и канал публикации с confirms.
func dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	return conn, ch, nil
}

// supervise ждёт разрыва соединения и переподключается.
func (c *Connection) supervise(conn *amqp.Connection) {
	for conn != nil {
		lost := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-c.done:
			return
		case amqpErr := <-lost:
			if c.isClosed() {
				return
			}
			c.logger.Warn("RabbitMQ connection lost", "error", amqpErr)
		}

		conn = c.redial()
	}
}

// redial переподключается с экспоненциальной задержкой.
// Возвращает nil, если Connection закрыли во время ожидания.
func (c *Connection) redial() *amqp.Connection {
	delay := initialReconnectDelay

	for {
		select {
		case <-c.done:
			return nil
		case <-time.After(delay):
		}

		conn, ch, err := dial(c.url)
		if err != nil {
			c.logger.Warn("reconnect failed", "error", err, "next_attempt", delay)
			delay = min(delay*2, maxReconnectDelay)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return nil
		}
		c.conn = conn
		c.publishCh = ch
		close(c.up)
		c.up = make(chan struct{})
		c.mu.Unlock()

		c.logger.Info("reconnected to RabbitMQ")
		return conn
	}
}

// Reconnected возвращает канал, который закроется при следующем
// переподключении. Брать его нужно до попытки подписки.
func (c *Connection) Reconnected() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.up
}

// OpenChannel открывает отдельный канал на текущем соединении.
func (c *Connection) OpenChannel() (*amqp.Channel, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return nil, ErrNoChannel
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, nil
}

// WithChannel выполняет fn на канале публикации.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.RLock()
	ch := c.publishCh
	c.mu.RUnlock()

	if ch == nil || ch.IsClosed() {
		return ErrNoChannel
	}
	return fn(ch)
}

// Close закрывает соединение вместе со всеми каналами.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("close connection: %w", err)
	}

	c.logger.Info("RabbitMQ connection closed")
	return nil
}

func (c *Connection) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
