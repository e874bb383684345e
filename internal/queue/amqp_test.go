package queue

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type fakeAcknowledger struct {
	acked    bool
	nacked   bool
	requeued bool
}

func (a *fakeAcknowledger) Ack(uint64, bool) error { a.acked = true; return nil }

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked = true
	a.requeued = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	a.nacked = true
	a.requeued = requeue
	return nil
}

func TestDispatchAcksSuccess(t *testing.T) {
	q := &AMQPQueue{logger: zerolog.Nop()}
	ack := &fakeAcknowledger{}
	msg := amqp.Delivery{Acknowledger: ack, Body: []byte(`{"type":"generate","job_id":"j1"}`)}
	handlers := map[TaskType]Handler{
		TaskGenerate: func(context.Context, Task) error { return nil },
	}

	q.dispatch(context.Background(), msg, handlers)

	if !ack.acked || ack.nacked {
		t.Fatalf("acked=%v nacked=%v, want plain ack", ack.acked, ack.nacked)
	}
}

func TestDispatchRequeuesFirstFailure(t *testing.T) {
	q := &AMQPQueue{logger: zerolog.Nop()}
	ack := &fakeAcknowledger{}
	msg := amqp.Delivery{Acknowledger: ack, Body: []byte(`{"type":"generate","job_id":"j1"}`)}
	handlers := map[TaskType]Handler{
		TaskGenerate: func(context.Context, Task) error { return errors.New("transient") },
	}

	q.dispatch(context.Background(), msg, handlers)

	if !ack.nacked || !ack.requeued {
		t.Fatalf("nacked=%v requeued=%v, want nack with requeue", ack.nacked, ack.requeued)
	}
}

func TestDispatchRecordsDroppedDelivery(t *testing.T) {
	var dropped []Task
	var droppedErr error
	q := &AMQPQueue{logger: zerolog.Nop()}
	q.OnDrop = func(_ context.Context, task Task, err error) {
		dropped = append(dropped, task)
		droppedErr = err
	}
	ack := &fakeAcknowledger{}
	msg := amqp.Delivery{Acknowledger: ack, Redelivered: true, Body: []byte(`{"type":"persist","job_id":"j1"}`)}
	handlers := map[TaskType]Handler{
		TaskPersist: func(context.Context, Task) error { return errors.New("still failing") },
	}

	q.dispatch(context.Background(), msg, handlers)

	if !ack.nacked || ack.requeued {
		t.Fatalf("nacked=%v requeued=%v, want nack without requeue", ack.nacked, ack.requeued)
	}
	if len(dropped) != 1 || dropped[0].JobID != "j1" || dropped[0].Type != TaskPersist {
		t.Fatalf("OnDrop got %+v, want the decoded task", dropped)
	}
	if droppedErr == nil || droppedErr.Error() != "still failing" {
		t.Fatalf("OnDrop err = %v, want the handler error", droppedErr)
	}
}

func TestDispatchDropsUnknownTaskType(t *testing.T) {
	var dropped []Task
	q := &AMQPQueue{logger: zerolog.Nop()}
	q.OnDrop = func(_ context.Context, task Task, _ error) { dropped = append(dropped, task) }
	ack := &fakeAcknowledger{}
	msg := amqp.Delivery{Acknowledger: ack, Body: []byte(`{"type":"mystery","job_id":"j1"}`)}

	q.dispatch(context.Background(), msg, map[TaskType]Handler{})

	if !ack.nacked || ack.requeued {
		t.Fatalf("nacked=%v requeued=%v, want nack without requeue", ack.nacked, ack.requeued)
	}
	if len(dropped) != 1 || dropped[0].JobID != "j1" {
		t.Fatalf("OnDrop got %+v, want the decoded task", dropped)
	}
}
