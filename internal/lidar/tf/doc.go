// Package tf keeps a time-windowed history of rigid transforms between
// coordinate frames and answers point and interpolated lookups against it.
//
// Frames form a forest: every child frame has one parent, joined either by a
// static transform or by a series of timestamped samples. Samples older than
// the configured retention (relative to the newest sample on the same edge)
// are evicted, so a lookup before the window fails permanently while a
// lookup after the newest sample may succeed later.
//
// All stamps are nanoseconds in the single time domain shared with sweeps.
package tf
