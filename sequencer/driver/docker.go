package driver

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/matgreaves/run/onexit"

	"github.com/averill/convoy/spec"
)

// Docker runs services as Docker containers with host-mapped ports.
type Docker struct{}

// dockerHandle tracks one running container.
type dockerHandle struct {
	containerID string
	name        string
	logDone     chan struct{}
	cancelExit  func() error
}

func (h *dockerHandle) ID() string { return h.containerID }

// containerName returns the Docker container name for a service instance.
func containerName(serviceName string) string {
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("convoy-%s-%x", serviceName, b)
}

// Start pulls the image if it is not present locally, then creates and
// starts a container for the service. Container logs are streamed to the
// spec's stdout/stderr writers until the container exits.
func (Docker) Start(ctx context.Context, ss StartSpec) (Handle, error) {
	cli, err := dockerClient()
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	// Verify Docker is reachable before doing anything else.
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("cannot connect to Docker daemon (is Docker running?): %w", err)
	}

	if err := ensureImage(ctx, cli, ss.Image); err != nil {
		return nil, err
	}

	portBindings, exposedPorts := buildPortBindings(ss.Ports)

	config := &container.Config{
		Image:        ss.Image,
		Env:          envMapToSlice(ss.Env),
		ExposedPorts: exposedPorts,
	}
	if len(ss.Command) > 0 {
		config.Cmd = ss.Command
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
	}

	name := containerName(ss.Name)
	resp, err := cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	containerID := resp.ID

	// Register backup cleanup with onexit so the container is removed
	// even if the sequencer is killed (SIGKILL, OOM, CI timeout, etc.).
	cancelExit, _ := onexit.OnExitF("docker rm -f %s", containerID)

	if err := cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		removeContainer(cli, containerID, cancelExit)
		return nil, fmt.Errorf("start container: %w", err)
	}

	h := &dockerHandle{
		containerID: containerID,
		name:        name,
		logDone:     make(chan struct{}),
		cancelExit:  cancelExit,
	}

	// Stream container logs to the service's output writers.
	logReader, err := cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		removeContainer(cli, containerID, cancelExit)
		return nil, fmt.Errorf("attach logs: %w", err)
	}

	go func() {
		defer close(h.logDone)
		stdcopy.StdCopy(ss.Stdout, ss.Stderr, logReader)
		logReader.Close()
	}()

	return h, nil
}

// Wait blocks until the container exits and returns its exit code.
func (Docker) Wait(ctx context.Context, handle Handle) (int, error) {
	h, ok := handle.(*dockerHandle)
	if !ok {
		return 0, fmt.Errorf("docker: foreign handle %T", handle)
	}

	cli, err := dockerClient()
	if err != nil {
		return 0, fmt.Errorf("docker client: %w", err)
	}

	waitCh, errCh := cli.ContainerWait(ctx, h.containerID, container.WaitConditionNotRunning)

	select {
	case result := <-waitCh:
		<-h.logDone // drain remaining logs
		return int(result.StatusCode), nil
	case err := <-errCh:
		if ctx.Err() != nil {
			// Context cancelled — teardown path. Not an error.
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("container wait: %w", err)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Stop gracefully stops and removes the container. Safe to call after
// the container has already exited.
func (Docker) Stop(_ context.Context, handle Handle) error {
	h, ok := handle.(*dockerHandle)
	if !ok {
		return fmt.Errorf("docker: foreign handle %T", handle)
	}

	cli, err := dockerClient()
	if err != nil {
		return fmt.Errorf("docker client: %w", err)
	}

	// Use a background context for cleanup — the caller's context is
	// usually already cancelled during teardown.
	cleanCtx := context.Background()
	timeout := 10 // seconds
	cli.ContainerStop(cleanCtx, h.containerID, container.StopOptions{Timeout: &timeout})
	if err := cli.ContainerRemove(cleanCtx, h.containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	// Graceful cleanup succeeded — cancel the onexit backup.
	if h.cancelExit != nil {
		h.cancelExit()
	}
	return nil
}

// Exec runs a health check command inside the running container via
// docker exec. Returns an error if the command exits non-zero or does
// not finish within timeout.
func (Docker) Exec(ctx context.Context, handle Handle, argv []string, timeout time.Duration) error {
	h, ok := handle.(*dockerHandle)
	if !ok {
		return fmt.Errorf("docker: foreign handle %T", handle)
	}

	cli, err := dockerClient()
	if err != nil {
		return fmt.Errorf("docker client: %w", err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	exec, err := cli.ContainerExecCreate(ctx, h.containerID, container.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return fmt.Errorf("exec create: %w", err)
	}

	resp, err := cli.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return fmt.Errorf("exec attach: %w", err)
	}

	_, err = stdcopy.StdCopy(io.Discard, io.Discard, resp.Reader)
	resp.Close()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("exec %v: %w", argv, ctx.Err())
		}
		return fmt.Errorf("exec read output: %w", err)
	}

	inspect, err := cli.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return fmt.Errorf("exec inspect: %w", err)
	}
	if inspect.ExitCode != 0 {
		return fmt.Errorf("exec %v: exit code %d", argv, inspect.ExitCode)
	}
	return nil
}

// ensureImage pulls the image when it is not already present locally.
func ensureImage(ctx context.Context, cli *client.Client, ref string) error {
	if _, _, err := cli.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}

	rc, err := cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("docker pull %s: %w", ref, err)
	}
	// Drain the pull output to completion — the pull isn't done until
	// the response body is fully read.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		rc.Close()
		return fmt.Errorf("docker pull %s: read response: %w", ref, err)
	}
	return rc.Close()
}

// removeContainer force-removes a container created during a failed Start.
func removeContainer(cli *client.Client, containerID string, cancelExit func() error) {
	cli.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
	if cancelExit != nil {
		cancelExit()
	}
}

// buildPortBindings creates Docker port bindings from the declared
// host:container pairs.
func buildPortBindings(ports []spec.PortMapping) (nat.PortMap, nat.PortSet) {
	portBindings := make(nat.PortMap)
	exposedPorts := make(nat.PortSet)

	for _, p := range ports {
		containerPort := nat.Port(fmt.Sprintf("%d/tcp", p.Container))
		exposedPorts[containerPort] = struct{}{}
		portBindings[containerPort] = append(portBindings[containerPort], nat.PortBinding{
			HostIP:   "127.0.0.1",
			HostPort: strconv.Itoa(p.Host),
		})
	}

	return portBindings, exposedPorts
}

// envMapToSlice converts a map of env vars to a slice of "KEY=VALUE" strings.
func envMapToSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
