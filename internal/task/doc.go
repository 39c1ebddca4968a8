// Package task manages background job queuing, processing, and lifecycle.
//
// Jobs live in Redis under a per-queue key prefix: a hash per job, a wait
// list, an active list, a delayed sorted set and completed/failed sets used
// for retention. Workers lease jobs with a renewable lock, and lifecycle
// events are published on a per-queue pub/sub channel so that any gateway
// instance can relay them to clients.
//
// Internal states (waiting, delayed, paused, prioritized, waiting-children,
// active, completed, failed) are exposed to clients through the smaller
// public vocabulary returned by MapState.
package task
