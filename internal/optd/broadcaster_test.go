package optd

import (
	"testing"
	"time"

	"github.com/regenheat/optimization-engine/pkg/models"
)

func TestBroadcasterDeliversInOrder(t *testing.T) {
	bus := NewBroadcaster()

	first, cancelFirst := bus.Subscribe("job-1")
	second, cancelSecond := bus.Subscribe("job-1")
	defer cancelFirst()
	defer cancelSecond()

	for i := 1; i <= 3; i++ {
		bus.Publish(&models.EventMessage{
			Type:    models.EventProgress,
			JobID:   "job-1",
			Payload: map[string]any{"iteration": i},
		})
	}

	for _, ch := range []<-chan *models.EventMessage{first, second} {
		for i := 1; i <= 3; i++ {
			select {
			case event := <-ch:
				if event.Payload["iteration"] != i {
					t.Fatalf("expected iteration %d, got %v", i, event.Payload["iteration"])
				}
			case <-time.After(time.Second):
				t.Fatalf("timed out waiting for event %d", i)
			}
		}
	}
}

func TestBroadcasterIsolatesJobs(t *testing.T) {
	bus := NewBroadcaster()

	other, cancel := bus.Subscribe("job-2")
	defer cancel()

	bus.Publish(&models.EventMessage{Type: models.EventProgress, JobID: "job-1"})

	select {
	case event := <-other:
		t.Fatalf("subscriber of job-2 received event for %s", event.JobID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcasterTerminalClosesStream(t *testing.T) {
	bus := NewBroadcaster()
	ch, cancel := bus.Subscribe("job-1")
	defer cancel()

	bus.Publish(&models.EventMessage{Type: models.EventCompleted, JobID: "job-1"})

	select {
	case event, ok := <-ch:
		if !ok {
			t.Fatalf("expected terminal event before close")
		}
		if event.Type != models.EventCompleted {
			t.Fatalf("expected completed event, got %s", event.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for terminal event")
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel closed after terminal event")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for close")
	}

	if bus.SubscriberCount("job-1") != 0 {
		t.Fatalf("expected subscribers cleared after terminal event")
	}
}

func TestBroadcasterNeverBlocksPublisher(t *testing.T) {
	bus := NewBroadcaster()
	_, cancel := bus.Subscribe("job-1")
	defer cancel()

	// Nobody reads; publishing past the buffer must drop, not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Publish(&models.EventMessage{Type: models.EventProgress, JobID: "job-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publisher blocked on a slow subscriber")
	}
}

func TestBroadcasterUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBroadcaster()
	_, cancel := bus.Subscribe("job-1")
	cancel()

	if bus.SubscriberCount("job-1") != 0 {
		t.Fatalf("expected no subscribers after cancel")
	}
	// Publishing to a job without subscribers is a no-op.
	bus.Publish(&models.EventMessage{Type: models.EventProgress, JobID: "job-1"})
}
