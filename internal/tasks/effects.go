package tasks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/harborlabs/taskdeck/backend/internal/notifications"
	"github.com/harborlabs/taskdeck/backend/internal/realtime"
	"go.uber.org/zap"
)

// Live event types carried on the task event stream.
const (
	EventTaskCreated       = "task_created"
	EventTaskUpdated       = "task_updated"
	EventTaskStatusUpdated = "task_status_updated"
	EventTaskAssigned      = "task_assigned"
	EventTaskDeleted       = "task_deleted"
)

const (
	notificationKindAssigned      = notifications.KindTaskAssigned
	notificationKindUpdated       = notifications.KindTaskUpdated
	notificationKindStatusUpdated = notifications.KindTaskStatusUpdated
	notificationKindDeleted       = notifications.KindTaskDeleted

	defaultEffectBuffer = 64
)

// NotificationOrder asks the effect worker to persist one notification.
type NotificationOrder struct {
	UserID  uint
	Kind    string
	Message string
}

// MutationEffect describes the side effects of one committed mutation: the
// notifications to persist and the live event to fan out. It is built from a
// post-commit snapshot, never from live transaction state.
type MutationEffect struct {
	EventType     string
	Actor         Actor
	TaskID        uint
	Task          TaskView
	Targets       []uint
	NotifyAdmins  bool
	Notifications []NotificationOrder
}

// EffectQueueConfig describes the dependencies of the effect worker.
type EffectQueueConfig struct {
	Notifications *notifications.Service
	Realtime      *realtime.Hub
	Logger        *zap.Logger
	Clock         func() time.Time
	BufferSize    int
}

// EffectQueue decouples post-commit side effects from the mutation's own
// completion. Delivery is best-effort and at-most-once: a full queue drops
// the effect, and every worker failure is logged and swallowed — a committed
// mutation is never converted into a reported failure.
type EffectQueue struct {
	notifications *notifications.Service
	hub           *realtime.Hub
	logger        *zap.Logger
	clock         func() time.Time
	queue         chan MutationEffect
	done          chan struct{}
	closeOnce     sync.Once
}

// NewEffectQueue constructs the queue and starts its worker goroutine.
func NewEffectQueue(cfg EffectQueueConfig) *EffectQueue {
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = defaultEffectBuffer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	queue := &EffectQueue{
		notifications: cfg.Notifications,
		hub:           cfg.Realtime,
		logger:        logger,
		clock:         clock,
		queue:         make(chan MutationEffect, buffer),
		done:          make(chan struct{}),
	}
	go queue.run()
	return queue
}

// Enqueue hands a committed mutation to the worker without blocking. When the
// queue is full the effect is dropped and logged.
func (q *EffectQueue) Enqueue(effect MutationEffect) {
	select {
	case q.queue <- effect:
	default:
		q.logger.Warn("effect queue full, dropping side effects",
			zap.String("event", effect.EventType),
			zap.Uint("task_id", effect.TaskID))
	}
}

// Close stops accepting effects, drains the queue, and waits for the worker.
func (q *EffectQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.queue)
	})
	<-q.done
}

func (q *EffectQueue) run() {
	defer close(q.done)
	for effect := range q.queue {
		q.apply(context.Background(), effect)
	}
}

func (q *EffectQueue) apply(ctx context.Context, effect MutationEffect) {
	now := q.clock().UTC()

	// Notification rows first: fan-out of a notification needs its persisted
	// id and content.
	for _, order := range effect.Notifications {
		q.deliverNotification(ctx, effect, order, now)
	}

	payload, err := json.Marshal(effect.Task)
	if err != nil {
		q.logger.Error("task event encode failed",
			zap.Uint("task_id", effect.TaskID),
			zap.Error(err))
		return
	}
	if q.hub != nil {
		q.hub.Publish(realtime.Event{
			Name:      realtime.EventNameTask,
			Type:      effect.EventType,
			TaskID:    effect.TaskID,
			ActorID:   effect.Actor.ID,
			ActorName: effect.Actor.Name,
			Payload:   payload,
			Timestamp: now,
		}, effect.Targets, effect.NotifyAdmins)
	}
}

func (q *EffectQueue) deliverNotification(ctx context.Context, effect MutationEffect, order NotificationOrder, now time.Time) {
	if q.notifications == nil {
		return
	}
	taskID := effect.TaskID
	notification, err := q.notifications.Create(ctx, notifications.CreateInput{
		UserID:  order.UserID,
		TaskID:  &taskID,
		Kind:    order.Kind,
		Message: order.Message,
	})
	if err != nil {
		q.logger.Warn("notification create failed",
			zap.Uint("user_id", order.UserID),
			zap.Uint("task_id", effect.TaskID),
			zap.String("type", order.Kind),
			zap.Error(err))
		return
	}
	if q.hub == nil {
		return
	}
	payload, err := json.Marshal(notification)
	if err != nil {
		q.logger.Warn("notification event encode failed", zap.Error(err))
		return
	}
	q.hub.PublishToUser(realtime.Event{
		Name:      realtime.EventNameNotification,
		Type:      order.Kind,
		TaskID:    effect.TaskID,
		ActorID:   effect.Actor.ID,
		ActorName: effect.Actor.Name,
		Payload:   payload,
		Timestamp: now,
	}, order.UserID)
}

func (s *Service) dispatch(eventType string, actor Actor, view TaskView, targets []uint, orders []NotificationOrder) {
	if s.effects == nil {
		return
	}
	s.effects.Enqueue(MutationEffect{
		EventType:     eventType,
		Actor:         actor,
		TaskID:        view.ID,
		Task:          view,
		Targets:       targets,
		NotifyAdmins:  true,
		Notifications: orders,
	})
}
