package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config controls how the amass binary is invoked.
type Config struct {
	Binary        string   // Executable name or path
	OutputDir     string   // Directory for per-task artifacts
	ExtraArgs     []string // Appended after the generated flags
	KeepArtifacts bool     // Leave artifact files on disk after reading
}

// Amass runs `amass enum` for each request.
type Amass struct {
	cfg    Config
	procs  *ProcessManager
	logger logrus.FieldLogger
}

var _ Runner = (*Amass)(nil)

// NewAmass creates the output directory and returns a runner.
// procs may be nil when nothing needs to kill stuck processes.
func NewAmass(cfg Config, procs *ProcessManager, logger logrus.FieldLogger) (*Amass, error) {
	if cfg.Binary == "" {
		cfg.Binary = "amass"
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Amass{cfg: cfg, procs: procs, logger: logger}, nil
}

// BuildArgs returns the argument vector, without the binary, for a request.
func (a *Amass) BuildArgs(req Request) []string {
	args := []string{
		"enum",
		"-d", req.Domain,
		"-min-for-recursive", strconv.Itoa(req.Options.MinForRecursive),
		"-o", a.ArtifactPath(req),
	}
	if req.Options.Brute {
		args = append(args, "-brute")
	}
	return append(args, a.cfg.ExtraArgs...)
}

// ArtifactPath is unique per task so concurrent runs for one domain never
// share a file.
func (a *Amass) ArtifactPath(req Request) string {
	name := fmt.Sprintf("amass_%s_%s.txt", sanitize(req.Domain), sanitize(req.TaskID))
	return filepath.Join(a.cfg.OutputDir, name)
}

// Run executes amass and reads the artifact it wrote.
func (a *Amass) Run(ctx context.Context, req Request) ([]string, error) {
	args := a.BuildArgs(req)
	artifact := a.ArtifactPath(req)
	argv := append([]string{a.cfg.Binary}, args...)

	log := a.logger.WithFields(logrus.Fields{
		"task_id": req.TaskID,
		"domain":  req.Domain,
	})
	log.WithField("command", strings.Join(argv, " ")).Debug("starting amass")

	cmd := newCommand(ctx, a.cfg.Binary, args...)
	_, stderr, err := executeCommand(ctx, cmd, a.procs)
	if !a.cfg.KeepArtifacts {
		defer os.Remove(artifact)
	}
	if err != nil {
		cmdErr := &CommandError{
			Command:  argv,
			ExitCode: -1,
			Stderr:   strings.TrimSpace(string(stderr)),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cmdErr.ExitCode = exitErr.ExitCode()
		}
		return nil, cmdErr
	}

	lines, err := readArtifact(artifact)
	if err != nil {
		return nil, err
	}
	log.WithField("count", len(lines)).Debug("amass finished")
	return lines, nil
}

// LookPath resolves the configured binary on PATH.
func (a *Amass) LookPath() (string, error) {
	return LookPath(a.cfg.Binary)
}

// LookPath resolves binary, defaulting to "amass", without creating a runner.
func LookPath(binary string) (string, error) {
	if binary == "" {
		binary = "amass"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("amass binary %q: %w", binary, err)
	}
	return path, nil
}

// sanitize keeps a value safe for use as a file name component.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
