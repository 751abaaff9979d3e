// Package logx configures phrasebot's structured logging.
//
// logx.Logger is a small value type over zerolog:
//   - console output is human readable (short timestamp, short caller)
//   - file output is one JSON object per line
//   - an optional chat sink forwards warnings to the admin chat
//
// The zero Logger is a safe no-op.
package logx
