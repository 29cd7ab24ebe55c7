// Package logging wires log/slog with the repository's console and JSON
// handlers and the shared attribute helpers.
//
// Components obtain loggers through NewFromConfig (daemon/CLI) or
// NewComponentLogger, which stamps the component field used by the console
// handler's bracketed prefix. Tests use NewNop.
package logging
