// Package giveaway holds the drawing rules: joining, creating a giveaway,
// closing it, drawing winners and publishing announcements and results
// through the broadcast engine.
package giveaway
