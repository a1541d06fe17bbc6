// Package server implements the HTTP server and handlers for Zip Drop. It
// wires the routes to an artifact.Store and an audit.Recorder and provides
// the lifecycle helpers used by tests and the production binary.
package server
