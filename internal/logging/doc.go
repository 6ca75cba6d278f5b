// Package logging provides structured, rotating file-based logging for the
// engine, with an optional stderr mirror. Log level and sink are driven by
// the engine's logLevel/snapshotDir configuration.
package logging
