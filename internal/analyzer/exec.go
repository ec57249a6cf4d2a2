package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// dockerMount is where the workspace is mounted inside analyzer containers.
const dockerMount = "/scan"

// Toolchain locates analyzer binaries and falls back to docker when a
// binary is missing.
type Toolchain struct {
	// BinDir is searched before PATH.
	BinDir string
	// PreferDocker forces docker execution even if the local binary is present.
	PreferDocker bool
}

// invocation describes one tool execution.
type invocation struct {
	binary string
	image  string
	// args are used for local execution; dockerArgs when running in a container.
	args       []string
	dockerArgs []string
	dir        string
	// okCodes lists non-zero exit codes that still carry valid output.
	okCodes []int
}

// output runs inv and returns stdout. Exit codes listed in okCodes are not
// treated as failures.
func (t Toolchain) output(ctx context.Context, inv invocation) ([]byte, error) {
	cmd, err := t.command(ctx, inv)
	if err != nil {
		return nil, err
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	for _, code := range inv.okCodes {
		if isExitCode(err, code) {
			return out, nil
		}
	}
	var exitErr *exec.ExitError
	if isExitError(err, &exitErr) {
		return nil, fmt.Errorf("%s failed with code %d: %s",
			inv.binary, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
	}
	return nil, fmt.Errorf("executing %s: %w", inv.binary, err)
}

func (t Toolchain) command(ctx context.Context, inv invocation) (*exec.Cmd, error) {
	useDocker := t.PreferDocker && inv.image != ""
	if !useDocker && !isBinaryAvailable(ctx, inv.binary, t.BinDir) {
		if inv.image == "" || !isDockerAvailable(ctx) {
			return nil, fmt.Errorf("%s binary not found; install it or make docker available", inv.binary)
		}
		useDocker = true
	}

	if useDocker {
		mount := inv.dir
		if mount == "" {
			return nil, fmt.Errorf("%s: docker execution needs a workspace", inv.binary)
		}
		return dockerRun(ctx, inv.image, mount, inv.dockerArgs), nil
	}

	bin := resolveBinary(inv.binary, t.BinDir)
	// nosemgrep: go.lang.security.audit.dangerous-exec-command.dangerous-exec-command
	cmd := exec.CommandContext(ctx, bin, inv.args...)
	cmd.Dir = inv.dir
	return cmd, nil
}

// Available reports local and docker availability for binary.
func (t Toolchain) Available(ctx context.Context, binary string) (local, docker bool) {
	return isBinaryAvailable(ctx, binary, t.BinDir), isDockerAvailable(ctx)
}

// version runs "<binary> --version" and returns its first output line.
func (t Toolchain) version(ctx context.Context, binary string) string {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	// nosemgrep: go.lang.security.audit.dangerous-exec-command.dangerous-exec-command
	out, err := exec.CommandContext(ctx, resolveBinary(binary, t.BinDir), "--version").Output()
	if err != nil {
		return "unknown"
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	if _, rest, ok := strings.Cut(line, binary); ok {
		line = rest
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "unknown"
	}
	return line
}

// isDockerAvailable returns true if the Docker daemon is reachable.
func isDockerAvailable(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "docker", "info", "--format", "{{.ServerVersion}}")
	return cmd.Run() == nil
}

// dockerRun builds an exec.Cmd that runs an analyzer inside a Docker container.
// workspace is mounted read-only at /scan inside the container.
func dockerRun(ctx context.Context, image, workspace string, args []string) *exec.Cmd {
	dockerArgs := []string{
		"run", "--rm",
		"--network", "host",
		"-v", workspace + ":" + dockerMount + ":ro",
		"-w", dockerMount,
	}
	dockerArgs = append(dockerArgs, image)
	dockerArgs = append(dockerArgs, args...)
	return exec.CommandContext(ctx, "docker", dockerArgs...)
}

// isBinaryAvailable checks if name is executable in PATH or binDir.
func isBinaryAvailable(ctx context.Context, name, binDir string) bool {
	if binDir != "" {
		candidate := filepath.Join(binDir, name)
		if exec.CommandContext(ctx, candidate, "--version").Run() == nil {
			return true
		}
	}
	if _, err := exec.LookPath(name); err != nil {
		return false
	}
	return exec.CommandContext(ctx, name, "--version").Run() == nil
}

// resolveBinary returns the full path of name from binDir or PATH.
func resolveBinary(name, binDir string) string {
	if binDir != "" {
		candidate := filepath.Join(binDir, name)
		if p, err := exec.LookPath(candidate); err == nil {
			return p
		}
	}
	if p, err := exec.LookPath(name); err == nil {
		return p
	}
	// Let the OS fail with a clean error.
	return name
}

// isExitError checks if err is an *exec.ExitError and assigns it.
func isExitError(err error, target **exec.ExitError) bool {
	return errors.As(err, target)
}

// isExitCode checks if err is an ExitError with the given code.
func isExitCode(err error, code int) bool {
	var e *exec.ExitError
	if errors.As(err, &e) {
		return e.ExitCode() == code
	}
	return false
}

// dockerPath maps a workspace-relative path to its location inside the container.
func dockerPath(workspace, p string) string {
	rel, err := filepath.Rel(workspace, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return p
	}
	return dockerMount + "/" + filepath.ToSlash(rel)
}
