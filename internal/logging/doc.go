// Package logging wires structured slog output to a rotating JSON log file
// under ~/.storysearch/logs/. The serve command tees log lines to stderr,
// index and search log to the file only so stdout stays pipeable, and the
// --debug flag lowers the level to debug for any command.
//
// Query text is masked before it reaches a log line; see RedactQuery.
package logging
