// Package logx wraps zerolog behind a small Logger/Service pair.
//
// Service owns the sinks (console, optional file) and can re-apply a new
// configuration at runtime; Loggers handed out by the Service keep working
// across Apply() calls.
package logx
