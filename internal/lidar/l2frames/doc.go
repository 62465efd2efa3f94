// Package l2frames turns raw sensor messages into canonical sweeps.
//
// A Sweep is one complete capture cycle expressed in the sensor frame: a
// start stamp in the shared nanosecond time domain, the sensor frame id and
// the points in capture order, each with its offset from the start stamp.
// Sweeps are immutable once built. The Normalizer accepts the generic
// PointCloud2 layout and the Livox custom message and rejects input that
// cannot produce a usable sweep.
//
// ResolvedSweep is the pose-attached form handed to map consumers.
package l2frames
