package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/miladsoleymani/ackmux/broker"
	"github.com/miladsoleymani/ackmux/core"
)

type fakeChannel struct {
	events    []string
	commitErr error
}

func (f *fakeChannel) Ack(tag uint64, multiple bool) error {
	f.events = append(f.events, fmt.Sprintf("ack %d %t", tag, multiple))
	return nil
}

func (f *fakeChannel) TxCommit() error {
	f.events = append(f.events, "commit")
	return f.commitErr
}

func (f *fakeChannel) TxRollback() error {
	f.events = append(f.events, "rollback")
	return nil
}

func (f *fakeChannel) Close() error {
	f.events = append(f.events, "close")
	return nil
}

func testConsumer(ch channel, transactional bool) *consumer {
	return newConsumer(ch, transactional, 20*time.Millisecond, 10, zap.NewNop())
}

func deliver(c *consumer, topic string, tags ...uint64) {
	for _, tag := range tags {
		c.inbound <- inbound{topic: topic, delivery: amqp.Delivery{DeliveryTag: tag, RoutingKey: topic}}
	}
}

func TestConsumer_PollBatchesBufferedDeliveries(t *testing.T) {
	c := testConsumer(&fakeChannel{}, false)
	deliver(c, "orders", 1, 2, 3)

	msgs, err := c.Poll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d records, want 3", len(msgs))
	}
	if msgs[2].Topic() != "orders" || msgs[2].Offset() != 3 || msgs[2].Partition() != 0 {
		t.Errorf("unexpected record %s-%d@%d", msgs[2].Topic(), msgs[2].Partition(), msgs[2].Offset())
	}
	if c.pending() != 3 {
		t.Errorf("pending = %d, want 3", c.pending())
	}
}

func TestConsumer_PollTimeout(t *testing.T) {
	c := testConsumer(&fakeChannel{}, false)
	msgs, err := c.Poll(context.Background())
	if err != nil || len(msgs) != 0 {
		t.Fatalf("got %d records, err %v; want an empty poll", len(msgs), err)
	}
}

func TestConsumer_PollClosedChannel(t *testing.T) {
	c := testConsumer(&fakeChannel{}, false)
	close(c.inbound)
	if _, err := c.Poll(context.Background()); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("got %v, want ErrChannelClosed", err)
	}
}

func TestConsumer_CommitMultipleAck(t *testing.T) {
	ch := &fakeChannel{}
	c := testConsumer(ch, false)
	deliver(c, "orders", 1, 2, 3)
	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := c.Commit(context.Background(), []core.Offset{{Topic: "orders", Offset: 2}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"ack 2 true"}; !reflect.DeepEqual(ch.events, want) {
		t.Errorf("events = %v, want %v", ch.events, want)
	}
	if c.pending() != 1 {
		t.Errorf("pending = %d, want 1", c.pending())
	}
}

func TestConsumer_CommitInterleavedQueues(t *testing.T) {
	ch := &fakeChannel{}
	c := testConsumer(ch, false)
	deliver(c, "orders", 1)
	deliver(c, "payments", 2)
	deliver(c, "orders", 3)
	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := c.Commit(context.Background(), []core.Offset{{Topic: "orders", Offset: 3}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"ack 1 false", "ack 3 false"}; !reflect.DeepEqual(ch.events, want) {
		t.Errorf("events = %v, want %v", ch.events, want)
	}
}

func TestConsumer_CommitTransactionalChannel(t *testing.T) {
	ch := &fakeChannel{}
	c := testConsumer(ch, true)
	deliver(c, "orders", 1)
	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.Commit(context.Background(), []core.Offset{{Topic: "orders", Offset: 1}}); err != nil {
		t.Fatal(err)
	}
	if want := []string{"ack 1 true", "commit"}; !reflect.DeepEqual(ch.events, want) {
		t.Errorf("events = %v, want %v", ch.events, want)
	}
}

func TestTransaction_CommitAndRollback(t *testing.T) {
	ch := &fakeChannel{}
	c := testConsumer(ch, true)
	b := &Broker{opts: options{transactional: true}, consumers: []*consumer{c}}
	tm, err := b.TransactionManager()
	if err != nil {
		t.Fatal(err)
	}
	deliver(c, "orders", 1, 2)
	if _, err := c.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	tx, err := tm.Begin(ctx, core.TxScope{Partition: -1})
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.SendOffsets(ctx, []core.Offset{{Topic: "orders", Offset: 1}}, "g"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatal(err)
	}
	if c.pending() != 2 {
		t.Fatalf("pending = %d after rollback, want 2", c.pending())
	}

	tx, _ = tm.Begin(ctx, core.TxScope{Partition: -1})
	if err := tx.SendOffsets(ctx, []core.Offset{{Topic: "orders", Offset: 2}}, "g"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if c.pending() != 0 {
		t.Errorf("pending = %d after commit, want 0", c.pending())
	}
	want := []string{"ack 1 true", "rollback", "ack 2 true", "commit"}
	if !reflect.DeepEqual(ch.events, want) {
		t.Errorf("events = %v, want %v", ch.events, want)
	}
}

func TestTransactionManager_RequiresTransactions(t *testing.T) {
	if _, err := (&Broker{}).TransactionManager(); err == nil {
		t.Fatal("expected an error without WithTransactions")
	}
	tm, _ := (&Broker{opts: options{transactional: true}}).TransactionManager()
	if _, err := tm.Begin(context.Background(), core.TxScope{}); err == nil {
		t.Error("expected an error without a consumer")
	}
}

func TestBindings(t *testing.T) {
	topic := &Broker{opts: options{exchange: "events", exchangeType: amqp.ExchangeTopic}}
	got, err := topic.bindings(core.SubscribeRequest{TopicPattern: "orders.#", Group: "billing"})
	if err != nil {
		t.Fatal(err)
	}
	if want := []binding{{queue: "billing", key: "orders.#", byKey: true}}; !reflect.DeepEqual(got, want) {
		t.Errorf("bindings = %+v, want %+v", got, want)
	}

	direct := &Broker{opts: options{routingKey: "rk"}}
	got, err = direct.bindings(core.SubscribeRequest{Topics: []string{"a", "b"}})
	if err != nil {
		t.Fatal(err)
	}
	if want := []binding{{queue: "a", key: "rk"}, {queue: "b", key: "rk"}}; !reflect.DeepEqual(got, want) {
		t.Errorf("bindings = %+v, want %+v", got, want)
	}

	if _, err := direct.bindings(core.SubscribeRequest{TopicPattern: "orders.*", Group: "g"}); err == nil {
		t.Error("expected an error for a pattern without a topic exchange")
	}
}

func TestMessage_Headers(t *testing.T) {
	m := &message{queue: "orders", delivery: amqp.Delivery{
		DeliveryTag: 9,
		RoutingKey:  "orders.created",
		Body:        []byte("v"),
		Headers:     amqp.Table{"trace": "abc", "retries": int32(2)},
	}}
	h := m.Headers()
	if h["trace"] != "abc" || h["retries"] != "2" {
		t.Errorf("headers = %v", h)
	}
	if string(m.Key()) != "orders.created" || m.Offset() != 9 {
		t.Errorf("key %q offset %d", m.Key(), m.Offset())
	}
}

func TestOptsFromConfig(t *testing.T) {
	cfg := broker.Config{
		ClientID:              "svc",
		TransactionalIDPrefix: "tx-",
		Extra: map[string]any{
			"exchange":       "events",
			"exchange_type":  "topic",
			"prefetch_count": 50,
		},
	}
	o := defaults()
	for _, fn := range optsFromConfig(cfg) {
		fn(&o)
	}
	if !o.transactional || o.consumerTag != "svc" || o.exchange != "events" || o.exchangeType != "topic" || o.prefetchCount != 50 {
		t.Errorf("unexpected options: %+v", o)
	}
}
