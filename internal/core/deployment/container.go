package deployment

import (
	"strconv"

	"github.com/artpar/dahlia-deploy/internal/core/domain"
)

// PortBinding maps a host port to a container port.
type PortBinding struct {
	HostPort      int
	ContainerPort int
	Protocol      string // "tcp" when empty
}

// String renders the binding in docker's host:container form.
func (p PortBinding) String() string {
	s := strconv.Itoa(p.HostPort) + ":" + strconv.Itoa(p.ContainerPort)
	if p.Protocol != "" && p.Protocol != "tcp" {
		s += "/" + p.Protocol
	}
	return s
}

// Proto returns the protocol, defaulting to tcp.
func (p PortBinding) Proto() string {
	if p.Protocol == "" {
		return "tcp"
	}
	return p.Protocol
}

// ContainerSpec describes the single container replaced by the deploy stage.
type ContainerSpec struct {
	Name  string
	Image string
	Ports []PortBinding
}

// ContainerSpecFor derives the container spec from docker settings.
func ContainerSpecFor(d domain.DockerSettings) ContainerSpec {
	return ContainerSpec{
		Name:  d.ContainerName,
		Image: d.ImageName,
		Ports: []PortBinding{{HostPort: d.HostPort, ContainerPort: d.ContainerPort}},
	}
}
