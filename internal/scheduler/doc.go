// Package scheduler runs named periodic jobs on robfig/cron in the
// configured timezone. Runs of the same job never overlap, and a panicking
// job is recovered and logged.
package scheduler
