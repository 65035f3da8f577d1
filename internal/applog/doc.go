// Package applog builds the process logger: a log/slog handler that fans out
// to several sinks, a live feed for log streaming, and an adapter that lets
// code written against pion's LoggerFactory log through slog.
package applog
