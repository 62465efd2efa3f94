package pipeline

import (
	"sync"

	"github.com/banshee-data/sweepsync/internal/lidar/l2frames"
)

// Queue is a FIFO of sweeps shared by producers and the drain loop. One
// mutex covers every structural operation; the sweeps themselves are
// immutable.
type Queue struct {
	mu    sync.Mutex
	items []*l2frames.Sweep
}

// Push appends s and returns the new length.
func (q *Queue) Push(s *l2frames.Sweep) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, s)
	return len(q.items)
}

// Pop removes and returns the oldest sweep.
func (q *Queue) Pop() (*l2frames.Sweep, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	s := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return s, true
}

// Front returns the oldest sweep without removing it.
func (q *Queue) Front() (*l2frames.Sweep, bool) {
	front, _, n := q.peek()
	return front, n > 0
}

// Len returns the number of queued sweeps.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// peek returns the oldest and newest sweeps and the length under one lock.
func (q *Queue) peek() (front, back *l2frames.Sweep, n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n = len(q.items)
	if n == 0 {
		return nil, nil, 0
	}
	return q.items[0], q.items[n-1], n
}
