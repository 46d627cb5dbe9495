package rabbitmq

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"fulfillment-sync/internal/config"
)

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string // default "/"
	UseTLS   bool   // optional
	Exchange string // default "order_events"
}

func FromConfig(c config.RabbitMQConfig) Config {
	return Config{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		VHost:    c.VHost,
		Exchange: c.Exchange,
	}
}

func (c Config) withDefaults() Config {
	if c.VHost == "" {
		c.VHost = "/"
	}
	if c.Exchange == "" {
		c.Exchange = DefaultExchange
	}
	return c
}

func (c Config) URL() string {
	c = c.withDefaults()
	scheme := "amqp"
	if c.UseTLS {
		scheme = "amqps"
	}
	vhost := c.VHost
	if vhost == "/" {
		vhost = ""
	}
	return fmt.Sprintf("%s://%s:%s@%s:%d/%s", scheme, c.User, c.Password, c.Host, c.Port, vhost)
}

type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	acks <-chan amqp.Confirmation // для publisher confirms
	mu   sync.Mutex               // сериализуем Publish при использовании confirms
}

func (c *Client) Channel() *amqp.Channel { return c.ch }

// OpenChannel открывает отдельный канал на том же соединении; канал Client
// остаётся только для публикаций с confirms.
func (c *Client) OpenChannel() (*amqp.Channel, error) { return c.conn.Channel() }

func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Dial connects, opens a confirming channel and declares the event exchange.
func Dial(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	var (
		conn *amqp.Connection
		err  error
	)
	if cfg.UseTLS {
		conn, err = amqp.DialTLS(cfg.URL(), &tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		conn, err = amqp.Dial(cfg.URL())
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	fail := func(step string, err error) (*Client, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	// publisher confirms: Publish ждёт ack на каждое сообщение
	if err := ch.Confirm(false); err != nil {
		return fail("enable confirms", err)
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fail("declare exchange "+cfg.Exchange, err)
	}

	return &Client{conn: conn, ch: ch, acks: acks}, nil
}

// Ping сообщает, живо ли соединение.
func (c *Client) Ping() error {
	if c == nil || c.conn == nil || c.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

// NotifyClose fires once when the connection goes away.
func (c *Client) NotifyClose() <-chan *amqp.Error {
	return c.conn.NotifyClose(make(chan *amqp.Error, 1))
}

// Publish отправляет сообщение и ждёт подтверждения брокера; вызовы
// сериализуются, чтобы ack соответствовал своему сообщению.
func (c *Client) Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if err := c.ch.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		return err
	}

	select {
	case conf := <-c.acks:
		if !conf.Ack {
			return fmt.Errorf("broker nacked delivery %d to %s", conf.DeliveryTag, key)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
