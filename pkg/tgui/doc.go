// Package tgui provides small Telegram UI helpers for HTML parse mode:
// escaped HTML fragments, inline keyboards with callback and URL buttons,
// and a card builder that yields text plus send options.
package tgui
