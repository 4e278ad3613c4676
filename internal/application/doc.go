// Package application provides application initialization and dependency wiring
// for the serve mode. It encapsulates the creation of storage, handlers, routers,
// the artifact writer, and HTTP server instances, making the main package cleaner
// and more focused on CLI parsing and orchestration.
package application
