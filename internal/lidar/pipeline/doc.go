// Package pipeline synchronises canonical sweeps with the pose history and
// hands them, in arrival order, to map consumers.
//
// Producers push sweeps from transport goroutines; a scheduler calls Drain
// periodically. Drain only ever looks at the oldest queued sweep: it is
// resolved and dispatched, left in place until the next Drain when its pose
// may still arrive, or dropped. Waiting is bounded by MaxWaitForPose,
// measured against the newest queued sweep rather than the wall clock.
//
// This package is the composition root for ingestion: it imports l2frames,
// tf and projection, and none of those import pipeline.
package pipeline
