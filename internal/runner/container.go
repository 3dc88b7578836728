package runner

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/ConnorShore/conveyor/internal/common"
	"github.com/ConnorShore/conveyor/internal/pipeline"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"go.uber.org/zap"
)

const (
	DefaultWorkspace  string = "/workspace"
	ContainerNameBase string = "conveyor-agent"

	containerInitTimeout = 30 * time.Second
)

// Options for creating the docker container a run's steps execute in
type DockerContainerOptions struct {
	Image      string
	WorkingDir string
	Env        common.VariableMap
}

// The docker container hosting a single run
type DockerContainer struct {
	ID         string
	Name       string
	WorkingDir string
	ctx        context.Context
	client     *client.Client
}

func NewDockerContainer(ctx context.Context, cli *client.Client, opts DockerContainerOptions) (*DockerContainer, error) {
	if err := pullImage(ctx, cli, opts); err != nil {
		return nil, err
	}

	return createContainer(ctx, cli, opts)
}

func (c *DockerContainer) Start() error {
	if err := c.client.ContainerStart(c.ctx, c.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start docker container: %v", err)
	}

	return c.waitForInitialization()
}

func (c *DockerContainer) Stop() error {
	if err := c.client.ContainerStop(c.ctx, c.ID, container.StopOptions{}); err != nil {
		return fmt.Errorf("failed to stop docker container: %w", err)
	}
	return nil
}

func (c *DockerContainer) Remove() error {
	if err := c.client.ContainerRemove(c.ctx, c.ID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove docker container: %w", err)
	}
	return nil
}

func (c *DockerContainer) waitForInitialization() error {
	deadlineCtx, cancel := context.WithTimeout(c.ctx, containerInitTimeout)
	defer cancel()

	for {
		resp, err := c.client.ContainerInspect(deadlineCtx, c.ID)
		if err != nil {
			return fmt.Errorf("error waiting for container initialization: %v", err)
		}

		if resp.State.Running {
			return nil
		}

		select {
		case <-time.After(1 * time.Second):
			continue
		case <-deadlineCtx.Done():
			return deadlineCtx.Err()
		}
	}
}

// Prepares the execution environment for a run. For shell agents there is
// nothing to do; for docker agents a container is created and started, and
// its id is handed to the executor. The returned cleanup always tears the
// environment back down.
func (e *Engine) setupAgent(ctx context.Context, run *Run) (string, func(), error) {
	// The docker client only exists when the engine built the executor
	// itself; a caller-supplied executor brings its own environment
	if e.def.Agent.Type != pipeline.AgentDocker || e.dockerClient == nil {
		return "", func() {}, nil
	}

	c, err := NewDockerContainer(ctx, e.dockerClient, DockerContainerOptions{
		Image:      e.def.Agent.Image,
		WorkingDir: e.workDir,
		Env:        run.Env(),
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to create docker container: %v", err)
	}

	if err := c.Start(); err != nil {
		e.stopAndRemoveDockerContainer(c)
		return "", nil, fmt.Errorf("failed to start docker container: %v", err)
	}

	e.logger.Info("started agent container", zap.Int64("run", run.ID), zap.String("container", c.ID))
	return c.ID, func() { e.stopAndRemoveDockerContainer(c) }, nil
}

func (e *Engine) stopAndRemoveDockerContainer(c *DockerContainer) {
	// Log cleanup errors but don't surface them; the result from the steps
	// is what matters
	if err := c.Stop(); err != nil {
		e.logger.Warn("error stopping container on cleanup", zap.Error(err))
	}

	if err := c.Remove(); err != nil {
		e.logger.Warn("error removing container on cleanup", zap.Error(err))
	}
}

func pullImage(ctx context.Context, cli *client.Client, opts DockerContainerOptions) error {
	// Check if image exists locally
	args := filters.NewArgs()
	args.Add("reference", opts.Image)
	images, err := cli.ImageList(ctx, image.ListOptions{Filters: args})
	if err != nil {
		return fmt.Errorf("failed to list local images: %w", err)
	}

	// If image doesn't exist locally, pull it in
	if len(images) == 0 {
		out, err := cli.ImagePull(ctx, opts.Image, image.PullOptions{})
		if err != nil {
			return fmt.Errorf("failed to pull docker image [%v]: %v", opts.Image, err)
		}
		defer out.Close()
		io.Copy(io.Discard, out)
	}

	return nil
}

func createContainer(ctx context.Context, cli *client.Client, opts DockerContainerOptions) (*DockerContainer, error) {
	containerName := createContainerName()
	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image: opts.Image,
		// Keep STDIN open and run a command that never exits
		OpenStdin:  true,
		Cmd:        []string{"tail", "-f", "/dev/null"},
		Tty:        false,
		WorkingDir: DefaultWorkspace,
		Env:        common.VariablesMapToSlice(opts.Env),
	}, &container.HostConfig{
		Binds: []string{fmt.Sprintf("%s:%s", opts.WorkingDir, DefaultWorkspace)},
	}, nil, nil, containerName)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker container: %v", err)
	}

	return &DockerContainer{
		ID:         resp.ID,
		Name:       containerName,
		WorkingDir: DefaultWorkspace,
		// Lifecycle operations must still work once the run's deadline has
		// fired, otherwise a timed-out run leaks its container
		ctx:    context.WithoutCancel(ctx),
		client: cli,
	}, nil
}

func createContainerName() string {
	return ContainerNameBase + "-" + fmt.Sprint(rand.Intn(90000)+10000)
}
