// Package broadcast fans one message out to many recipients through a
// rate-limited Transport and accounts for every delivery.
//
// Broadcast runs a single sequential pass with its own Limiter and tally.
// Jobs queues runs onto a worker pool so several independent broadcasts can
// progress at once; each job still runs strictly in list order.
package broadcast
