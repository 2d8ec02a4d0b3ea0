// Package queue defines the job queue contract shared by the scheduler and
// the worker pool.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned by Dequeue once the queue is shut down.
var ErrClosed = errors.New("queue closed")

// Trigger records what enqueued a run.
type Trigger string

// Known triggers.
const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// Item is one job run waiting for a worker.
type Item struct {
	RunID      uuid.UUID
	Job        string
	Trigger    Trigger
	EnqueuedAt time.Time
}

// Queue is a FIFO of job runs.
type Queue interface {
	Enqueue(ctx context.Context, item Item) error
	Dequeue(ctx context.Context) (Item, error)
}
