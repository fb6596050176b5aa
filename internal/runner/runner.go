// Package runner executes the external enumeration tool and collects the
// hostnames it discovers.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aristath/amassd/internal/task"
)

// Request describes one tool invocation.
type Request struct {
	TaskID  string
	Domain  string
	Options task.Options
}

// Runner executes a request to completion and returns the discovered
// hostnames in the order the tool emitted them.
type Runner interface {
	Run(ctx context.Context, req Request) ([]string, error)
}

// CommandError is returned when the tool exits unsuccessfully.
type CommandError struct {
	Command  []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	detail := e.Stderr
	if detail == "" && e.Err != nil {
		detail = e.Err.Error()
	}
	return fmt.Sprintf("command '%s' failed: %s", strings.Join(e.Command, " "), detail)
}

func (e *CommandError) Unwrap() error { return e.Err }

// readArtifact returns the non-blank, trimmed lines of path.
// A missing file yields an empty result.
func readArtifact(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	lines := []string{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return lines, nil
}
