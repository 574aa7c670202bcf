// Package backoff implements the aggressive reconnection schedule.
//
// Unlike a plain exponential backoff, the schedule is a fixed table of
// delays indexed by attempt number, with symmetric jitter applied to each
// entry. The phase is bounded twice over: by a maximum attempt count and by
// a wall-clock window measured from the first attempt. When either bound is
// exceeded the caller is expected to degrade to slow background retry.
package backoff
