// Package app contains the core application logic. It defines the main App
// struct, its configuration, and the run lifecycle that loads rules, resolves
// the job graph, and schedules it, decoupled from any specific entrypoint
// like a CLI.
package app
