package manager

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a TransferEvent.
type EventType int

const (
	EventQueued EventType = iota + 1
	EventStarted
	EventProgress
	EventPaused
	EventResumed
	EventCompleted
	EventFailed
	EventCancelled
)

func (e EventType) String() string {
	switch e {
	case EventQueued:
		return "QUEUED"
	case EventStarted:
		return "STARTED"
	case EventProgress:
		return "PROGRESS"
	case EventPaused:
		return "PAUSED"
	case EventResumed:
		return "RESUMED"
	case EventCompleted:
		return "COMPLETED"
	case EventFailed:
		return "FAILED"
	case EventCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// TransferEvent is one observable change in a transfer's lifecycle.
type TransferEvent struct {
	TransferID      string
	EventType       EventType
	Timestamp       time.Time
	ProgressPercent float64
	Message         string
	Metadata        map[string]string
}

// EventSubscription is an active subscriber's inbound channel.
type EventSubscription struct {
	ID              string
	TransferIDFilter string
	Channel         chan *TransferEvent
}

// EventPublisher fans TransferEvents out to subscribers, dropping
// events for slow consumers rather than blocking the caller.
type EventPublisher struct {
	mu            sync.RWMutex
	subscriptions map[string]*EventSubscription
	bufferSize    int
}

// NewEventPublisher constructs a publisher whose subscriber channels
// hold up to bufferSize pending events before events are dropped.
func NewEventPublisher(bufferSize int) *EventPublisher {
	return &EventPublisher{
		subscriptions: make(map[string]*EventSubscription),
		bufferSize:    bufferSize,
	}
}

// Subscribe opens a new subscription, optionally filtered to one
// transfer_id; an empty filter receives every event.
func (p *EventPublisher) Subscribe(transferIDFilter string) *EventSubscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub := &EventSubscription{
		ID:               uuid.NewString(),
		TransferIDFilter: transferIDFilter,
		Channel:          make(chan *TransferEvent, p.bufferSize),
	}
	p.subscriptions[sub.ID] = sub
	return sub
}

// Unsubscribe closes and removes a subscription.
func (p *EventPublisher) Unsubscribe(subscriptionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub, ok := p.subscriptions[subscriptionID]; ok {
		close(sub.Channel)
		delete(p.subscriptions, subscriptionID)
	}
}

// Publish broadcasts an event to every matching, non-full subscriber.
func (p *EventPublisher) Publish(event *TransferEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, sub := range p.subscriptions {
		if sub.TransferIDFilter != "" && sub.TransferIDFilter != event.TransferID {
			continue
		}
		select {
		case sub.Channel <- event:
		default:
		}
	}
}

// PublishQueued publishes a transfer-admitted event.
func (p *EventPublisher) PublishQueued(transferID string, priority int, queueDepth int) {
	p.Publish(&TransferEvent{
		TransferID: transferID,
		EventType:  EventQueued,
		Timestamp:  time.Now(),
		Message:    "transfer queued",
		Metadata: map[string]string{
			"priority":    fmt.Sprintf("%d", priority),
			"queue_depth": fmt.Sprintf("%d", queueDepth),
		},
	})
}

// PublishStarted publishes a transfer-admitted-into-active event.
func (p *EventPublisher) PublishStarted(transferID, fileName string, totalSize int64) {
	p.Publish(&TransferEvent{
		TransferID: transferID,
		EventType:  EventStarted,
		Timestamp:  time.Now(),
		Message:    "transfer started",
		Metadata: map[string]string{
			"file_name":  fileName,
			"total_size": fmt.Sprintf("%d", totalSize),
		},
	})
}

// PublishProgress publishes a progress update.
func (p *EventPublisher) PublishProgress(transferID string, progressPercent float64) {
	p.Publish(&TransferEvent{
		TransferID:      transferID,
		EventType:       EventProgress,
		Timestamp:       time.Now(),
		ProgressPercent: progressPercent,
	})
}

// PublishPaused publishes a pause event.
func (p *EventPublisher) PublishPaused(transferID string) {
	p.Publish(&TransferEvent{TransferID: transferID, EventType: EventPaused, Timestamp: time.Now()})
}

// PublishResumed publishes a resume event.
func (p *EventPublisher) PublishResumed(transferID string) {
	p.Publish(&TransferEvent{TransferID: transferID, EventType: EventResumed, Timestamp: time.Now()})
}

// PublishCompleted publishes a completion event.
func (p *EventPublisher) PublishCompleted(transferID string, totalTime time.Duration) {
	p.Publish(&TransferEvent{
		TransferID:      transferID,
		EventType:       EventCompleted,
		Timestamp:       time.Now(),
		ProgressPercent: 100,
		Metadata: map[string]string{
			"total_time_seconds": fmt.Sprintf("%d", int64(totalTime.Seconds())),
		},
	})
}

// PublishFailed publishes a failure event.
func (p *EventPublisher) PublishFailed(transferID, reason string, canRetry bool) {
	p.Publish(&TransferEvent{
		TransferID: transferID,
		EventType:  EventFailed,
		Timestamp:  time.Now(),
		Message:    reason,
		Metadata: map[string]string{
			"can_retry": fmt.Sprintf("%t", canRetry),
		},
	})
}

// PublishCancelled publishes a cancellation event.
func (p *EventPublisher) PublishCancelled(transferID string) {
	p.Publish(&TransferEvent{TransferID: transferID, EventType: EventCancelled, Timestamp: time.Now()})
}

// SubscriptionCount returns the number of active subscriptions.
func (p *EventPublisher) SubscriptionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscriptions)
}
