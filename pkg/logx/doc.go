// Package logx configures readingsbot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional chat sink that posts warnings to an admin channel (min-level + rate limiting)
package logx
