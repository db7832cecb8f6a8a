package message

import (
	"context"
	stdErrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	amqp "github.com/rabbitmq/amqp091-go"
)

func TestFeedSendUpdateOrder(t *testing.T) {
	ctx := context.Background()
	feed := NewFeed()

	first := ForTask(TypeAction, "task-1", "first").WithInfo(Loading)
	second := New(TypeSystem, "second")
	if err := feed.Send(ctx, first); err != nil {
		t.Fatalf("send first: %v", err)
	}
	if err := feed.Send(ctx, second); err != nil {
		t.Fatalf("send second: %v", err)
	}
	if err := feed.Send(ctx, first); !stdErrors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	done := first.WithInfo("result").Finalize()
	if err := feed.Update(ctx, done); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := feed.Update(ctx, done.WithInfo("again")); !stdErrors.Is(err, ErrFinalized) {
		t.Fatalf("expected finalized error, got %v", err)
	}
	if err := feed.Update(ctx, New(TypeSystem, "ghost")); !stdErrors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	msgs := feed.Messages()
	if len(msgs) != 2 || msgs[0].ID != first.ID || msgs[0].Info != "result" || msgs[1].ID != second.ID {
		t.Fatalf("unexpected feed: %+v", msgs)
	}
}

func TestFeedSendError(t *testing.T) {
	feed := NewFeed()
	if err := feed.SendError(context.Background(), "boom"); err != nil {
		t.Fatalf("send error: %v", err)
	}
	msgs := feed.Messages()
	if len(msgs) != 1 || msgs[0].Type != TypeError || msgs[0].Value != "boom" || !msgs[0].Final {
		t.Fatalf("unexpected error message: %+v", msgs)
	}
}

type failingSink struct{}

func (failingSink) Send(context.Context, Message) error { return stdErrors.New("down") }

func (failingSink) Update(context.Context, Message) error { return stdErrors.New("down") }

func (failingSink) SendError(context.Context, string) error { return stdErrors.New("down") }

func TestFanoutIgnoresMirrorFailures(t *testing.T) {
	ctx := context.Background()
	primary := NewFeed()
	mirror := NewFeed()
	fan := NewFanout(primary, failingSink{}, nil, mirror)

	msg := New(TypeGoal, "goal")
	if err := fan.Send(ctx, msg); err != nil {
		t.Fatalf("send through fanout: %v", err)
	}
	if err := fan.SendError(ctx, "bad"); err != nil {
		t.Fatalf("send error through fanout: %v", err)
	}
	if primary.Len() != 2 || mirror.Len() != 2 {
		t.Fatalf("expected both feeds to receive messages, got %d/%d", primary.Len(), mirror.Len())
	}
	if primary.Messages()[1].ID != mirror.Messages()[1].ID {
		t.Fatalf("error message ids differ between sinks")
	}

	if err := NewFanout(failingSink{}, primary).Send(ctx, New(TypeGoal, "x")); err == nil {
		t.Fatalf("expected primary failure to surface")
	}
}

func TestRedisSinkReplayAndEvents(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	client, err := NewRedisClient(ctx, RedisConfig{Address: mr.Addr()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	sink := NewRedisSink(client, "run-1", RedisConfig{Prefix: "test", TTL: time.Minute})
	sub := client.Subscribe(ctx, sink.Channel())
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	loading := ForTask(TypeAction, "task-1", "execute").WithInfo(Loading)
	if err := sink.Send(ctx, loading); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := sink.Update(ctx, loading.WithInfo("done").Finalize()); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := sink.Update(ctx, loading.WithInfo("late")); !stdErrors.Is(err, ErrFinalized) {
		t.Fatalf("expected finalized error, got %v", err)
	}
	if err := sink.Update(ctx, New(TypeSystem, "ghost")); !stdErrors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := sink.SendError(ctx, "boom"); err != nil {
		t.Fatalf("send error: %v", err)
	}

	replayed, err := sink.Replay(ctx)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(replayed) != 2 || replayed[0].Info != "done" || replayed[1].Type != TypeError {
		t.Fatalf("unexpected replay: %+v", replayed)
	}
	if ttl := mr.TTL("test:run-1:order"); ttl <= 0 {
		t.Fatalf("expected ttl on order list, got %v", ttl)
	}

	wantOps := []Op{OpSend, OpUpdate, OpSend}
	ch := sub.Channel()
	for i, want := range wantOps {
		select {
		case raw := <-ch:
			env, err := DecodeEnvelope([]byte(raw.Payload))
			if err != nil {
				t.Fatalf("decode event %d: %v", i, err)
			}
			if env.Op != want || env.RunID != "run-1" {
				t.Fatalf("event %d: got %s/%s", i, env.Op, env.RunID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestNewRedisClientValidation(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty address")
	}
}

type recordingChannel struct {
	mu        sync.Mutex
	keys      []string
	bodies    [][]byte
	exchanges []string
	err       error
}

func (c *recordingChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.exchanges = append(c.exchanges, exchange)
	c.keys = append(c.keys, key)
	c.bodies = append(c.bodies, msg.Body)
	return nil
}

func (c *recordingChannel) Close() error { return nil }

func TestRabbitMQSinkPublishesEnvelopes(t *testing.T) {
	ch := &recordingChannel{}
	publisher := newRabbitMQPublisherWithChannel(ch, "agent.messages")
	sink := publisher.ForRun("run-9")
	ctx := context.Background()

	msg := New(TypeGoal, "goal")
	if err := sink.Send(ctx, msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := sink.Update(ctx, msg.WithInfo("x")); err != nil {
		t.Fatalf("update: %v", err)
	}

	if len(ch.keys) != 2 || ch.keys[0] != "run.run-9.send" || ch.keys[1] != "run.run-9.update" {
		t.Fatalf("unexpected routing keys: %v", ch.keys)
	}
	if ch.exchanges[0] != "agent.messages" {
		t.Fatalf("unexpected exchange: %s", ch.exchanges[0])
	}
	env, err := DecodeEnvelope(ch.bodies[1])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Message.Info != "x" || env.Op != OpUpdate {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	ch.err = stdErrors.New("closed")
	if err := sink.SendError(ctx, "boom"); err == nil {
		t.Fatalf("expected publish failure")
	}
}

func TestDecodeEnvelopeRejectsIncomplete(t *testing.T) {
	if _, err := DecodeEnvelope([]byte(`{"op":"send"}`)); err == nil {
		t.Fatalf("expected error for missing ids")
	}
}
