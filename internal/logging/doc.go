// Package logging configures slog for agentmem. By default records go to
// stderr; with a file path set they are also written, as JSON, to a
// size-rotated log under ~/.agentmem/logs/.
package logging
