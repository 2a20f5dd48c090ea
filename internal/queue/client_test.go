package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

func newTestClient() *Client {
	return &Client{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// fakeAcknowledger records how a delivery was settled.
type fakeAcknowledger struct {
	acks     int
	nacks    int
	requeued bool
}

func (f *fakeAcknowledger) Ack(_ uint64, _ bool) error { f.acks++; return nil }

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacks++
	f.requeued = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(_ uint64, _ bool) error { return nil }

func delivery(ack *fakeAcknowledger, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(body)}
}

func TestDial_BadURL(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := Dial("amqp://127.0.0.1:1/", []string{"worker_q"}, logger)
	if err == nil {
		t.Fatal("Dial succeeded against a closed port")
	}
	if !errors.Is(err, ErrDial) {
		t.Errorf("error = %v, want ErrDial", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()
	c := &Client{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	c.Close()
	c.Close()

	if !c.isClosed() {
		t.Error("client not marked closed")
	}
}

func TestPublish_AfterClose(t *testing.T) {
	t.Parallel()
	c := &Client{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	c.Close()

	if err := c.Publish(context.Background(), "worker_q", []byte("http://a.onion"), "text/plain"); err == nil {
		t.Error("Publish on closed client returned nil error")
	}
}

func TestDispatch_AckAcknowledges(t *testing.T) {
	t.Parallel()
	c := newTestClient()
	ack := &fakeAcknowledger{}

	c.dispatch(context.Background(), "worker_q", delivery(ack, "http://a.onion"), func(_ context.Context, _ []byte) Disposition {
		return Ack
	})

	if ack.acks != 1 || ack.nacks != 0 {
		t.Errorf("acks = %d, nacks = %d, want 1 ack", ack.acks, ack.nacks)
	}
}

func TestDispatch_RequeueNacksWithRedelivery(t *testing.T) {
	t.Parallel()
	c := newTestClient()
	ack := &fakeAcknowledger{}

	c.dispatch(context.Background(), "worker_q", delivery(ack, "http://a.onion"), func(_ context.Context, _ []byte) Disposition {
		return Requeue
	})

	if ack.nacks != 1 || ack.acks != 0 {
		t.Errorf("acks = %d, nacks = %d, want 1 nack", ack.acks, ack.nacks)
	}
	if !ack.requeued {
		t.Error("Requeue nacked without redelivery")
	}
}

func TestDispatch_DropAcknowledges(t *testing.T) {
	t.Parallel()
	c := newTestClient()
	ack := &fakeAcknowledger{}

	c.dispatch(context.Background(), "worker_q", delivery(ack, "not a url"), func(_ context.Context, _ []byte) Disposition {
		return Drop
	})

	// Drop settles like Ack: the broker must never redeliver an unusable
	// message.
	if ack.acks != 1 || ack.nacks != 0 {
		t.Errorf("acks = %d, nacks = %d, want 1 ack", ack.acks, ack.nacks)
	}
}

func TestConsumeLoop_DeliversThenSignalsReconnect(t *testing.T) {
	t.Parallel()
	c := newTestClient()
	ack := &fakeAcknowledger{}

	deliveries := make(chan amqp.Delivery, 1)
	deliveries <- delivery(ack, "http://a.onion")
	close(deliveries)

	var got []string
	done := c.consumeLoop(context.Background(), "worker_q", deliveries, func(_ context.Context, body []byte) Disposition {
		got = append(got, string(body))
		return Ack
	})

	// The broker closing the delivery channel on a live client means the
	// transport dropped: the loop must hand control back for a reconnect.
	if done {
		t.Error("consumeLoop = true, want false after broker closed the channel")
	}
	if len(got) != 1 || got[0] != "http://a.onion" {
		t.Errorf("handled bodies = %v", got)
	}
	if ack.acks != 1 {
		t.Errorf("acks = %d, want 1", ack.acks)
	}
}

func TestConsumeLoop_ClosedClientStops(t *testing.T) {
	t.Parallel()
	c := newTestClient()
	c.Close()

	deliveries := make(chan amqp.Delivery)
	close(deliveries)

	done := c.consumeLoop(context.Background(), "worker_q", deliveries, func(_ context.Context, _ []byte) Disposition {
		t.Error("handler called on closed client")
		return Ack
	})
	if !done {
		t.Error("consumeLoop = false, want true when the client is closed")
	}
}

func TestConsumeLoop_ContextCancelStops(t *testing.T) {
	t.Parallel()
	c := newTestClient()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	deliveries := make(chan amqp.Delivery) // stays open, never delivers
	done := c.consumeLoop(ctx, "worker_q", deliveries, func(_ context.Context, _ []byte) Disposition {
		t.Error("handler called after cancellation")
		return Ack
	})
	if !done {
		t.Error("consumeLoop = false, want true on cancelled context")
	}
}

func TestBeginConsume_ClosedClient(t *testing.T) {
	t.Parallel()
	c := newTestClient()
	c.Close()

	if _, err := c.beginConsume("worker_q"); err == nil {
		t.Error("beginConsume on closed client returned nil error")
	}
}

func TestConsume_ClosedClientReturns(t *testing.T) {
	t.Parallel()
	c := newTestClient()
	c.Close()

	// Must return promptly instead of entering the reconnect loop.
	if err := c.Consume(context.Background(), "worker_q", func(_ context.Context, _ []byte) Disposition {
		return Ack
	}); err != nil {
		t.Errorf("Consume on closed client = %v", err)
	}
}
