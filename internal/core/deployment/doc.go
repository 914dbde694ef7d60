// Package deployment provides pure functions for release planning.
//
// This package turns resolved settings into the exact external commands and
// container specifications the pipeline executes. All functions are pure
// (no I/O, no side effects); the imperative shell (internal/shell/process and
// internal/shell/docker) executes what is planned here.
//
// # Functions
//
//   - Commands: BuildCommand, PackageCommand, StopCommand, RemoveCommand, RunCommand
//   - Containers: ContainerSpecFor, PortBinding.String
//
// # Usage
//
//	cmd := deployment.BuildCommand(settings.Build)
//	spec := deployment.ContainerSpecFor(settings.Docker)
//	run := deployment.RunCommand(spec)
package deployment
