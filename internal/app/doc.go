// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the request lifecycle that reads a chart,
// runs the planner and writes the response, decoupled from any specific
// entrypoint like a CLI.
package app
