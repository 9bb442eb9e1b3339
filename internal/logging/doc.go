// Package logging builds the slog loggers used across lineup.
//
// It offers a console handler that prefixes messages with the component
// attribute and a JSON handler for machine consumption, plus typed attribute
// helpers and standardized field keys so run, stream, and channel identifiers
// appear under consistent names in every log line.
package logging
