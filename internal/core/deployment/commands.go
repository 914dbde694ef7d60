package deployment

import (
	"strings"

	"github.com/artpar/dahlia-deploy/internal/core/domain"
)

// =============================================================================
// Command
// =============================================================================

// Command is an external process invocation.
type Command struct {
	Program string
	Args    []string
	Dir     string // working directory, "" for the current one
}

// Argv returns the program followed by its arguments.
func (c Command) Argv() []string {
	return append([]string{c.Program}, c.Args...)
}

// String renders the command for logs. Arguments are not shell-quoted.
func (c Command) String() string {
	return strings.Join(c.Argv(), " ")
}

// =============================================================================
// Pipeline Commands
// =============================================================================

// DockerProgram is the container CLI invoked by the package and deploy stages.
const DockerProgram = "docker"

// BuildCommand compiles the application binary.
//
//	go build -o bin/dahlia ./cmd/server
func BuildCommand(b domain.BuildSettings) Command {
	return Command{
		Program: "go",
		Args:    []string{"build", "-o", b.Output, b.Package},
		Dir:     ".",
	}
}

// PackageCommand builds the container image from the current directory.
//
//	docker build -t <image> .
func PackageCommand(d domain.DockerSettings) Command {
	return Command{
		Program: DockerProgram,
		Args:    []string{"build", "-t", d.ImageName, "."},
	}
}

// StopCommand stops a container by name.
func StopCommand(name string) Command {
	return Command{Program: DockerProgram, Args: []string{"stop", name}}
}

// RemoveCommand removes a container by name.
func RemoveCommand(name string) Command {
	return Command{Program: DockerProgram, Args: []string{"rm", name}}
}

// CleanupCommands are the best-effort steps that clear a previous instance,
// in execution order.
func CleanupCommands(name string) []Command {
	return []Command{StopCommand(name), RemoveCommand(name)}
}

// RunCommand starts a detached container.
//
//	docker run -d --name <name> -p <host>:<container> <image>
func RunCommand(spec ContainerSpec) Command {
	args := []string{"run", "-d", "--name", spec.Name}
	for _, p := range spec.Ports {
		args = append(args, "-p", p.String())
	}
	args = append(args, spec.Image)
	return Command{Program: DockerProgram, Args: args}
}
