// Package application wires a resolved settings instance, the diagnostics
// API router and the HTTP server together, keeping the main package focused
// on CLI parsing and orchestration.
package application
