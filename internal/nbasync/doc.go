// Package nbasync drives NBA data synchronisation through the nba-sync
// queue. Manual triggers go through the cooldown coordinator, the cron
// scheduler enqueues on fixed schedules, and the processor expands date
// ranges and hands leaf jobs to the external ingester.
package nbasync
