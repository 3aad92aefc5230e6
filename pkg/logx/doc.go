// Package logx configures giveawaybot's structured logging.
//
// Logger is a small value type on top of zerolog:
//   - Console output stays readable (short timestamp + file:line caller)
//   - File output is JSON lines
//   - An optional Telegram sink forwards warnings to the admin log chat
//     (min-level + rate limited, never blocks the caller)
package logx
