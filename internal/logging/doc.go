// Package logging builds the zap loggers used by the settings tools.
package logging
