// Package containergw wraps the container orchestrator: listing networks
// by name and running docker-compose operations against a labelled
// project.
package containergw

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/naumachia-net/manager/internal/util"
)

// ContainerError wraps any failure talking to the container orchestrator.
type ContainerError struct {
	Op  string
	Err error
}

func (e *ContainerError) Error() string {
	return fmt.Sprintf("container %s: %v", e.Op, e.Err)
}

func (e *ContainerError) Unwrap() error { return e.Err }

// Network is a container network as reported by the orchestrator.
type Network struct {
	ID   string
	Name string
}

// Gateway is the capability surface the Challenge/User state machine
// depends on. Production code uses a composeGateway shelling out to
// docker-compose; tests substitute a fake.
type Gateway interface {
	FindNetwork(name string) (*Network, error)
	ComposeUp(projectID string, composeFiles []string) error
	ComposeDown(projectID string, composeFiles []string, timeoutSeconds int) error
	ComposeIsRunning(projectID string, composeFiles []string) (bool, error)
	Close() error
}

type composeGateway struct {
	composeCmd     string
	challengesRoot string
}

// New returns a Gateway that shells out to composeCmd (usually
// "docker-compose") for compose operations and to the docker CLI for
// network lookups. composeFiles passed to Compose* are resolved relative to
// challengesRoot.
func New(composeCmd, challengesRoot string) Gateway {
	return &composeGateway{composeCmd: composeCmd, challengesRoot: challengesRoot}
}

func (g *composeGateway) resolve(files []string) []string {
	resolved := make([]string, len(files))
	for i, f := range files {
		if filepath.IsAbs(f) {
			resolved[i] = f
		} else {
			resolved[i] = filepath.Join(g.challengesRoot, f)
		}
	}
	return resolved
}

func (g *composeGateway) composeArgs(projectID string, composeFiles []string, rest ...string) []string {
	args := []string{g.composeCmd, "--project-name", projectID}
	for _, f := range g.resolve(composeFiles) {
		args = append(args, "--file", f)
	}
	return append(args, rest...)
}

func (g *composeGateway) ComposeUp(projectID string, composeFiles []string) error {
	args := g.composeArgs(projectID, composeFiles, "up", "-d")
	if err := util.Run(args...); err != nil {
		return &ContainerError{Op: "compose_up " + projectID, Err: err}
	}
	return nil
}

func (g *composeGateway) ComposeDown(projectID string, composeFiles []string, timeoutSeconds int) error {
	args := g.composeArgs(projectID, composeFiles, "down", "--timeout", fmt.Sprintf("%d", timeoutSeconds))
	if err := util.Run(args...); err != nil {
		return &ContainerError{Op: "compose_down " + projectID, Err: err}
	}
	return nil
}

func (g *composeGateway) ComposeIsRunning(projectID string, composeFiles []string) (bool, error) {
	args := g.composeArgs(projectID, composeFiles, "top")
	out, err := util.RunWithOutput(args...)
	if err != nil {
		return false, &ContainerError{Op: "compose_top " + projectID, Err: err}
	}
	return strings.TrimSpace(out) != "", nil
}

// FindNetwork looks up a container network by exact name via the
// orchestrator's network-listing command. Networks the project hasn't
// created yet simply aren't found.
func (g *composeGateway) FindNetwork(name string) (*Network, error) {
	out, err := util.RunWithOutput("docker", "network", "ls", "--filter", "name=^"+name+"$", "--format", "{{.ID}}")
	if err != nil {
		return nil, &ContainerError{Op: "find_network " + name, Err: err}
	}

	id := strings.TrimSpace(out)
	if id == "" {
		logrus.WithField("network", name).Debug("network not found")
		return nil, nil
	}

	return &Network{ID: id, Name: name}, nil
}

// Close releases any resources held by the gateway. composeGateway shells
// out per call and holds nothing between them, so this is a no-op; it
// exists so Manager.Stop has a single handle-release call site regardless
// of which Gateway implementation it holds.
func (g *composeGateway) Close() error {
	return nil
}
