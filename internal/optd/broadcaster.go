package optd

import (
	"sync"
	"time"

	"github.com/regenheat/optimization-engine/pkg/logger"
	"github.com/regenheat/optimization-engine/pkg/models"
)

const subscriberBuffer = 64

// Broadcaster fans job events out to per-job subscribers. Publishing never
// blocks the run loop: a subscriber that cannot keep up drops events and is
// expected to resync from the job snapshot. Per-job ordering is preserved
// for subscribers that do keep up; nothing is ordered across jobs.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan *models.EventMessage
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[string]map[int]chan *models.EventMessage),
	}
}

// Subscribe registers a listener for one job's events. The returned cancel
// func must be called when the listener goes away; it closes the channel.
func (b *Broadcaster) Subscribe(jobID string) (<-chan *models.EventMessage, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[int]chan *models.EventMessage)
	}
	id := b.nextID
	b.nextID++
	ch := make(chan *models.EventMessage, subscriberBuffer)
	b.subs[jobID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[jobID][id]; ok {
			delete(b.subs[jobID], id)
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of the job. A terminal
// event closes all of the job's channels after delivery.
func (b *Broadcaster) Publish(event *models.EventMessage) {
	if event.AtUnixMs == 0 {
		event.AtUnixMs = time.Now().UTC().UnixMilli()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[event.JobID] {
		select {
		case ch <- event:
		default:
			logger.Warn("event subscriber lagging, dropping event",
				"job_id", event.JobID, "type", string(event.Type))
		}
	}

	if event.Type.Terminal() {
		for _, ch := range b.subs[event.JobID] {
			close(ch)
		}
		delete(b.subs, event.JobID)
	}
}

// SubscriberCount reports the live subscribers for a job.
func (b *Broadcaster) SubscriberCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}
