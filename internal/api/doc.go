// Package api handles incoming HTTP requests for the gateway: the task
// endpoints and their event streams, the manual sync triggers, the NBA
// analysis and conflict endpoints, and the health probes. Handlers decode
// and validate requests, call the queue or store behind them, and map
// internal errors to safe client responses.
package api
