package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"fulfillment-sync/internal/common/logger"
	"fulfillment-sync/internal/domain"
)

const DefaultExchange = "order_events"

// wireEvent is the JSON body of a push message.
type wireEvent struct {
	Type        string          `json:"type"`
	OrderID     string          `json:"order_id,omitempty"`
	WarehouseID string          `json:"warehouse_id,omitempty"`
	Filters     *domain.Filters `json:"filters,omitempty"`
}

// RoutingKey is orders.<warehouse>.<event type>; an empty warehouse is "any".
func RoutingKey(warehouseID, eventType string) string {
	if warehouseID == "" {
		warehouseID = "any"
	}
	return fmt.Sprintf("orders.%s.%s", warehouseID, eventType)
}

// BindingKey selects the events relevant to a filter context.
func BindingKey(f domain.Filters) string {
	if f.WarehouseID == "" {
		return "orders.*.*"
	}
	return fmt.Sprintf("orders.%s.*", f.WarehouseID)
}

// DecodeEvent turns a delivery into a push event. The type falls back to the
// last routing key segment, the warehouse to the middle one.
func DecodeEvent(d amqp.Delivery) (domain.PushEvent, error) {
	var w wireEvent
	if len(d.Body) > 0 {
		if err := json.Unmarshal(d.Body, &w); err != nil {
			return domain.PushEvent{}, fmt.Errorf("decode push event: %w", err)
		}
	}
	parts := strings.Split(d.RoutingKey, ".")
	if w.Type == "" && len(parts) == 3 {
		w.Type = parts[2]
	}
	if w.Type == "" {
		return domain.PushEvent{}, fmt.Errorf("push event without type (routing key %q)", d.RoutingKey)
	}
	ev := domain.PushEvent{Type: w.Type, OrderID: w.OrderID, Filters: w.Filters}
	wh := w.WarehouseID
	if wh == "" && len(parts) == 3 && parts[1] != "any" {
		wh = parts[1]
	}
	if ev.Filters == nil && wh != "" {
		ev.Filters = &domain.Filters{WarehouseID: wh}
	}
	return ev, nil
}

func encodeEvent(warehouseID string, ev domain.PushEvent) ([]byte, error) {
	return json.Marshal(wireEvent{Type: ev.Type, OrderID: ev.OrderID, WarehouseID: warehouseID, Filters: ev.Filters})
}

type (
	EventFunc     func(ctx context.Context, ev domain.PushEvent)
	ReconnectFunc func(ctx context.Context) error
)

type dialFunc func(Config) (*Client, error)

// consumeChannel is the part of *amqp.Channel a subscription uses.
type consumeChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error)
	Close() error
}

func openConsumeChannel(c *Client) (consumeChannel, error) {
	ch, err := c.OpenChannel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// PushTransport subscribes to order events for the current filter context
// and publishes events about actions taken here.
type PushTransport struct {
	cfg         Config
	lg          *logger.Logger
	dial        dialFunc
	openConsume func(*Client) (consumeChannel, error)

	onEvent     EventFunc
	onReconnect ReconnectFunc
	redialDelay time.Duration

	mu     sync.Mutex
	client *Client
	sub    consumeChannel // канал подписки, отдельный от канала публикаций
	queue  string
	tag    string
}

func NewPushTransport(cfg Config, lg *logger.Logger) *PushTransport {
	return &PushTransport{
		cfg:         cfg.withDefaults(),
		lg:          lg,
		dial:        Dial,
		openConsume: openConsumeChannel,
		redialDelay: 2 * time.Second,
	}
}

// OnEvent sets the handler for decoded events; OnReconnect the one called
// after the watcher re-established a lost connection.
func (t *PushTransport) OnEvent(fn EventFunc)         { t.onEvent = fn }
func (t *PushTransport) OnReconnect(fn ReconnectFunc) { t.onReconnect = fn }

// Connect dials the broker once.
func (t *PushTransport) Connect(ctx context.Context) error {
	c, err := t.dial(t.cfg)
	if err != nil {
		return fmt.Errorf("%w: rabbitmq dial: %v", domain.ErrTransport, err)
	}
	t.mu.Lock()
	old := t.client
	t.client = c
	t.sub, t.queue, t.tag = nil, "", ""
	t.mu.Unlock()
	old.Close()
	t.lg.Info("rabbitmq_connected", map[string]any{"host": t.cfg.Host, "exchange": t.cfg.Exchange})
	return nil
}

func (t *PushTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Ping() == nil
}

// Subscribe replaces the current subscription with one bound to filters.
func (t *PushTransport) Subscribe(ctx context.Context, filters domain.Filters) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.client.Ping(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	t.cancelLocked()

	ch, err := t.openConsume(t.client)
	if err != nil {
		return fmt.Errorf("%w: open consume channel: %v", domain.ErrTransport, err)
	}
	fail := func(step string, err error) error {
		_ = ch.Close()
		return fmt.Errorf("%w: %s: %v", domain.ErrTransport, step, err)
	}
	queue := "sync-agent." + uuid.NewString()
	if _, err := ch.QueueDeclare(queue, false, true, true, false, nil); err != nil {
		return fail("queue declare", err)
	}
	key := BindingKey(filters)
	if err := ch.QueueBind(queue, key, t.cfg.Exchange, false, nil); err != nil {
		return fail("queue bind", err)
	}
	tag := uuid.NewString()
	deliveries, err := ch.Consume(queue, tag, true, true, false, false, nil)
	if err != nil {
		return fail("consume", err)
	}
	t.sub, t.queue, t.tag = ch, queue, tag
	go t.consume(deliveries)

	t.lg.Info("push_subscribed", map[string]any{"queue": queue, "binding": key})
	return nil
}

func (t *PushTransport) Unsubscribe(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	return nil
}

func (t *PushTransport) cancelLocked() {
	ch := t.sub
	queue, tag := t.queue, t.tag
	t.sub, t.queue, t.tag = nil, "", ""
	if ch == nil || t.client.Ping() != nil {
		return
	}
	if err := ch.Cancel(tag, false); err != nil {
		t.lg.Warn("push_cancel_failed", err, map[string]any{"queue": queue})
	}
	if _, err := ch.QueueDelete(queue, false, false, false); err != nil {
		t.lg.Warn("push_queue_delete_failed", err, map[string]any{"queue": queue})
	}
	_ = ch.Close()
}

// ForceReconnect drops the connection and dials again. The caller resubscribes.
func (t *PushTransport) ForceReconnect(ctx context.Context) error {
	return t.Connect(ctx)
}

func (t *PushTransport) consume(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		ev, err := DecodeEvent(d)
		if err != nil {
			t.lg.Warn("push_decode_failed", err, map[string]any{"routing_key": d.RoutingKey})
			continue
		}
		if t.onEvent != nil {
			t.onEvent(context.Background(), ev)
		}
	}
}

// Publish announces an event for a warehouse to every subscribed agent.
func (t *PushTransport) Publish(ctx context.Context, warehouseID string, ev domain.PushEvent) error {
	body, err := encodeEvent(warehouseID, ev)
	if err != nil {
		return err
	}
	t.mu.Lock()
	c := t.client
	t.mu.Unlock()
	if err := c.Ping(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	return c.Publish(ctx, t.cfg.Exchange, RoutingKey(warehouseID, ev.Type), amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    uuid.NewString(),
		Body:         body,
	})
}

// Watch redials after the connection is lost and reports the reconnect. It
// returns when ctx is done.
func (t *PushTransport) Watch(ctx context.Context) {
	for {
		t.mu.Lock()
		c := t.client
		t.mu.Unlock()
		if c.Ping() != nil {
			if !t.redial(ctx) {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case amqpErr, ok := <-c.NotifyClose():
			t.mu.Lock()
			replaced := t.client != c
			t.mu.Unlock()
			if replaced {
				// ForceReconnect swapped the client; watch the new one
				continue
			}
			if ok && amqpErr != nil {
				t.lg.Warn("rabbitmq_connection_lost", amqpErr, nil)
			}
			if !t.redial(ctx) {
				return
			}
		}
	}
}

func (t *PushTransport) redial(ctx context.Context) bool {
	for attempt := 1; ; attempt++ {
		err := t.Connect(ctx)
		if err == nil {
			if t.onReconnect != nil {
				if err := t.onReconnect(ctx); err != nil {
					t.lg.Warn("resubscribe_after_reconnect_failed", err, nil)
				}
			}
			return true
		}
		t.lg.Warn("rabbitmq_redial_failed", err, map[string]any{"attempt": attempt})
		select {
		case <-ctx.Done():
			return false
		case <-time.After(t.redialDelay):
		}
	}
}

func (t *PushTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	t.client.Close()
	t.client = nil
}
