package repository

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xperimental/release-matrix/internal/config"
	"github.com/xperimental/release-matrix/internal/data"
)

const (
	fieldSeparator = "\x1f"
	logFormat      = "--format=%H%x1f%P%x1f%an%x1f%ae%x1f%aI%x1f%s"
)

// CLI reads commit history by running the git executable.
type CLI struct {
	log     config.Logger
	cfg     config.Repository
	gitPath string
}

func NewCLI(log config.Logger, cfg config.Repository) (*CLI, error) {
	if cfg.Path == "" {
		return nil, errors.New("path can not be empty")
	}

	gitPath, err := exec.LookPath(cfg.GitPath)
	if err != nil {
		return nil, fmt.Errorf("can not find git executable %q: %w", cfg.GitPath, err)
	}
	log.Debugf("Using git at %s", gitPath)

	return &CLI{
		log:     log,
		cfg:     cfg,
		gitPath: gitPath,
	}, nil
}

// CommitsSince returns the commits reachable from head but not from base, newest first.
// An empty base selects the whole history of head.
func (c *CLI) CommitsSince(ctx context.Context, base, head string) ([]data.Commit, error) {
	headHash, err := c.revParse(ctx, head)
	if err != nil {
		return nil, fmt.Errorf("head %q can not be resolved: %w", head, err)
	}

	revRange := headHash
	if base != "" {
		baseHash, err := c.revParse(ctx, base)
		switch {
		case isMissingRevision(ctx, err):
			return nil, fmt.Errorf("base %q: %w: %s", base, ErrBaseNotFound, err)
		case err != nil:
			return nil, fmt.Errorf("base %q can not be resolved: %w", base, err)
		}

		if baseHash == headHash {
			return []data.Commit{}, nil
		}
		revRange = baseHash + ".." + headHash
	}

	args := []string{"log", logFormat}
	if c.cfg.MaxCommits > 0 {
		args = append(args, fmt.Sprintf("--max-count=%d", c.cfg.MaxCommits+1))
	}
	args = append(args, revRange, "--")

	out, err := c.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("can not list commits: %w", err)
	}

	commits, err := parseLog(out)
	if err != nil {
		return nil, err
	}

	return limit(c.log, commits, c.cfg.MaxCommits), nil
}

func (c *CLI) revParse(ctx context.Context, rev string) (string, error) {
	out, err := c.run(ctx, "rev-parse", "--verify", "--quiet", rev+"^{commit}")
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(out)), nil
}

// isMissingRevision reports whether rev-parse --verify --quiet failed because
// the revision does not exist. It exits with status 1 only in that case.
func isMissingRevision(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}

	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == 1
}

func (c *CLI) run(ctx context.Context, args ...string) ([]byte, error) {
	stdout := &bytes.Buffer{}
	stderr := c.log.WriterLevel(logrus.ErrorLevel)
	defer stderr.Close()

	cmd := exec.CommandContext(ctx, c.gitPath, args...)
	cmd.Dir = c.cfg.Path
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	c.log.Debugf("Running command: %s %v", c.gitPath, args)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("error during execution of git %s: %w", args[0], err)
	}

	return stdout.Bytes(), nil
}

func parseLog(out []byte) ([]data.Commit, error) {
	result := []data.Commit{}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		fields := strings.SplitN(line, fieldSeparator, 6)
		if len(fields) != 6 {
			return nil, fmt.Errorf("unexpected log line: %q", line)
		}

		date, err := time.Parse(time.RFC3339, fields[4])
		if err != nil {
			return nil, fmt.Errorf("can not parse date of %s: %w", fields[0], err)
		}

		result = append(result, data.Commit{
			Hash:    fields[0],
			Subject: strings.TrimRight(fields[5], " \t\r"),
			Parents: strings.Fields(fields[1]),
			Author: data.User{
				Name:  fields[2],
				Email: fields[3],
				Date:  date,
			},
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("can not read log output: %w", err)
	}

	return result, nil
}
