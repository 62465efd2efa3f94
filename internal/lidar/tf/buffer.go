package tf

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// LookupStatus describes the outcome of a point lookup.
type LookupStatus int

const (
	// Available means every edge on the path could be evaluated.
	Available LookupStatus = iota
	// NotYetAvailable means the stamp is newer than the newest sample on
	// some edge. Waiting for the estimator may resolve it.
	NotYetAvailable
	// NoLongerAvailable means the stamp is older than the retained window
	// on some edge. Waiting cannot resolve it.
	NoLongerAvailable
	// UnknownFrame means a frame is missing or the frames are not connected.
	UnknownFrame
)

func (s LookupStatus) String() string {
	switch s {
	case Available:
		return "available"
	case NotYetAvailable:
		return "not yet available"
	case NoLongerAvailable:
		return "no longer available"
	case UnknownFrame:
		return "unknown frame"
	default:
		return fmt.Sprintf("LookupStatus(%d)", int(s))
	}
}

// worse returns the status that dominates when a path mixes failures.
func worse(a, b LookupStatus) LookupStatus {
	rank := func(s LookupStatus) int {
		switch s {
		case UnknownFrame:
			return 3
		case NoLongerAvailable:
			return 2
		case NotYetAvailable:
			return 1
		}
		return 0
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

var (
	ErrEmptyFrame   = errors.New("tf: empty frame id")
	ErrSelfEdge     = errors.New("tf: parent and child frames are identical")
	ErrReparent     = errors.New("tf: child frame already has a different parent")
	ErrCycle        = errors.New("tf: edge would create a cycle")
	ErrStaticEdge   = errors.New("tf: edge is static")
	ErrDynamicEdge  = errors.New("tf: edge already carries timed samples")
	ErrTooOld       = errors.New("tf: sample older than the retention window")
	ErrUnknownFrame = errors.New("tf: unknown frame")
)

// DefaultNumInterpolationIntervals is the number of evenly spaced intervals
// LookupInterpolated samples across a window.
const DefaultNumInterpolationIntervals = 100

// BufferConfig controls sample retention and interpolation density.
type BufferConfig struct {
	// Retention is how far behind the newest sample of an edge older
	// samples are kept. Zero keeps everything.
	Retention time.Duration
	// NumInterpolationIntervals defaults to DefaultNumInterpolationIntervals.
	NumInterpolationIntervals int
}

type sample struct {
	stamp int64
	tf    Transform
}

// edge holds parent_T_child, either fixed or as a time series.
type edge struct {
	parent  string
	static  bool
	fixed   Transform
	samples []sample
}

func (e *edge) at(t int64) (Transform, LookupStatus) {
	if e.static {
		return e.fixed, Available
	}
	n := len(e.samples)
	if n == 0 || t > e.samples[n-1].stamp {
		return Transform{}, NotYetAvailable
	}
	if t < e.samples[0].stamp {
		return Transform{}, NoLongerAvailable
	}
	i := sort.Search(n, func(i int) bool { return e.samples[i].stamp >= t })
	if e.samples[i].stamp == t {
		return e.samples[i].tf, Available
	}
	lo, hi := e.samples[i-1], e.samples[i]
	alpha := float64(t-lo.stamp) / float64(hi.stamp-lo.stamp)
	return Interpolate(lo.tf, hi.tf, alpha), Available
}

// Buffer is an in-memory, time-bounded transform tree. Each child frame has
// exactly one parent. It is safe for concurrent use.
type Buffer struct {
	mu        sync.RWMutex
	retention int64
	intervals int
	edges     map[string]*edge
	roots     map[string]struct{}
}

// NewBuffer returns an empty Buffer.
func NewBuffer(cfg BufferConfig) *Buffer {
	n := cfg.NumInterpolationIntervals
	if n <= 0 {
		n = DefaultNumInterpolationIntervals
	}
	return &Buffer{
		retention: int64(cfg.Retention),
		intervals: n,
		edges:     make(map[string]*edge),
		roots:     make(map[string]struct{}),
	}
}

// SetStatic registers or replaces a fixed parent_T_child edge.
func (b *Buffer) SetStatic(parent, child string, t Transform) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, err := b.edgeLocked(parent, child)
	if err != nil {
		return err
	}
	if len(e.samples) > 0 {
		return fmt.Errorf("%s->%s: %w", parent, child, ErrDynamicEdge)
	}
	e.static = true
	e.fixed = t
	diagf("static transform %s -> %s registered", parent, child)
	return nil
}

// Insert adds a parent_T_child sample at stamp (ns). A sample with an
// existing stamp replaces it. Samples that fall behind the retention window
// of the edge are rejected.
func (b *Buffer) Insert(parent, child string, stamp int64, t Transform) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, err := b.edgeLocked(parent, child)
	if err != nil {
		return err
	}
	if e.static {
		return fmt.Errorf("%s->%s: %w", parent, child, ErrStaticEdge)
	}

	n := len(e.samples)
	if n > 0 && b.retention > 0 && stamp < e.samples[n-1].stamp-b.retention {
		return fmt.Errorf("%s->%s at %d: %w", parent, child, stamp, ErrTooOld)
	}

	i := sort.Search(n, func(i int) bool { return e.samples[i].stamp >= stamp })
	switch {
	case i < n && e.samples[i].stamp == stamp:
		e.samples[i].tf = t
	case i == n:
		e.samples = append(e.samples, sample{stamp: stamp, tf: t})
	default:
		e.samples = append(e.samples, sample{})
		copy(e.samples[i+1:], e.samples[i:])
		e.samples[i] = sample{stamp: stamp, tf: t}
	}
	b.evictLocked(e)
	tracef("insert %s -> %s at %d (%d samples)", parent, child, stamp, len(e.samples))
	return nil
}

func (b *Buffer) evictLocked(e *edge) {
	if b.retention <= 0 || len(e.samples) == 0 {
		return
	}
	cutoff := e.samples[len(e.samples)-1].stamp - b.retention
	drop := sort.Search(len(e.samples), func(i int) bool { return e.samples[i].stamp >= cutoff })
	if drop > 0 {
		e.samples = append(e.samples[:0], e.samples[drop:]...)
	}
}

func (b *Buffer) edgeLocked(parent, child string) (*edge, error) {
	if parent == "" || child == "" {
		return nil, ErrEmptyFrame
	}
	if parent == child {
		return nil, fmt.Errorf("%s: %w", child, ErrSelfEdge)
	}
	if e, ok := b.edges[child]; ok {
		if e.parent != parent {
			return nil, fmt.Errorf("%s has parent %s, not %s: %w", child, e.parent, parent, ErrReparent)
		}
		return e, nil
	}
	for f := parent; ; {
		if f == child {
			return nil, fmt.Errorf("%s->%s: %w", parent, child, ErrCycle)
		}
		e, ok := b.edges[f]
		if !ok {
			break
		}
		f = e.parent
	}
	e := &edge{parent: parent}
	b.edges[child] = e
	delete(b.roots, child)
	if _, ok := b.edges[parent]; !ok {
		b.roots[parent] = struct{}{}
	}
	return e, nil
}

func (b *Buffer) knownLocked(frame string) bool {
	if _, ok := b.edges[frame]; ok {
		return true
	}
	_, ok := b.roots[frame]
	return ok
}

// ancestorsLocked returns frame followed by each of its ancestors up to the
// root of its tree.
func (b *Buffer) ancestorsLocked(frame string) []string {
	chain := []string{frame}
	for {
		e, ok := b.edges[frame]
		if !ok {
			return chain
		}
		frame = e.parent
		chain = append(chain, frame)
	}
}

// Lookup returns target_T_source at stamp: the transform that maps points
// expressed in source into target.
func (b *Buffer) Lookup(target, source string, stamp int64) (Transform, LookupStatus) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lookupLocked(target, source, stamp)
}

// LookupTransform is Lookup reduced to found or not found.
func (b *Buffer) LookupTransform(target, source string, stamp int64) (Transform, bool) {
	t, status := b.Lookup(target, source, stamp)
	return t, status == Available
}

func (b *Buffer) lookupLocked(target, source string, stamp int64) (Transform, LookupStatus) {
	if !b.knownLocked(target) || !b.knownLocked(source) {
		return Transform{}, UnknownFrame
	}
	if target == source {
		return Identity(), Available
	}

	fromSource := b.ancestorsLocked(source)
	fromTarget := b.ancestorsLocked(target)
	onTargetPath := make(map[string]struct{}, len(fromTarget))
	for _, f := range fromTarget {
		onTargetPath[f] = struct{}{}
	}
	common := ""
	for _, f := range fromSource {
		if _, ok := onTargetPath[f]; ok {
			common = f
			break
		}
	}
	if common == "" {
		return Transform{}, UnknownFrame
	}

	status := Available
	chainTo := func(frame string) Transform {
		acc := Identity()
		for f := frame; f != common; {
			e := b.edges[f]
			step, s := e.at(stamp)
			status = worse(status, s)
			acc = step.Compose(acc)
			f = e.parent
		}
		return acc
	}
	commonFromSource := chainTo(source)
	commonFromTarget := chainTo(target)
	if status != Available {
		return Transform{}, status
	}
	return commonFromTarget.Inverse().Compose(commonFromSource), Available
}
