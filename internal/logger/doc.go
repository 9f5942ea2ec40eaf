// Package logger is a thin wrapper around zap providing:
//   - a global sugared logger with a console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing and configuration,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// Services accept a context and log through it, so a named logger set up at
// the CLI entry point flows through the whole install or launch run.
package logger
