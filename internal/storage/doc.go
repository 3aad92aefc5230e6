// Package storage persists users, giveaways, participants, winners,
// broadcast runs and the admin audit log in a single SQLite file.
package storage
