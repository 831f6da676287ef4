package matrix

import (
	"context"
	"errors"
	"fmt"

	"github.com/xperimental/release-matrix/internal/config"
	"github.com/xperimental/release-matrix/internal/data"
)

const shortHashLength = 7

type RunSource interface {
	LastSuccessfulRun(ctx context.Context) (*data.WorkflowRun, error)
}

// HistorySource lists the commits reachable from head but not from base, newest first.
type HistorySource interface {
	CommitsSince(ctx context.Context, base, head string) ([]data.Commit, error)
}

// Generator computes the build matrix of commits since the last release.
type Generator struct {
	log         config.Logger
	runs        RunSource
	history     HistorySource
	base        string
	head        string
	newestFirst bool
	short       bool
}

// New creates a Generator. runs may be nil when a base revision is configured.
func New(log config.Logger, cfg config.Config, runs RunSource, history HistorySource) (*Generator, error) {
	if history == nil {
		return nil, errors.New("history source can not be nil")
	}

	if runs == nil && cfg.Repository.Base == "" {
		return nil, errors.New("run source can not be nil without a base revision")
	}

	if cfg.Repository.Head == "" {
		return nil, errors.New("head can not be empty")
	}

	return &Generator{
		log:         log,
		runs:        runs,
		history:     history,
		base:        cfg.Repository.Base,
		head:        cfg.Repository.Head,
		newestFirst: cfg.Repository.NewestFirst,
		short:       cfg.Output.Short,
	}, nil
}

func (g *Generator) Generate(ctx context.Context) (*data.Matrix, error) {
	base, err := g.findBase(ctx)
	if err != nil {
		return nil, err
	}

	commits, err := g.history.CommitsSince(ctx, base, g.head)
	if err != nil {
		return nil, fmt.Errorf("can not list commits since %q: %w", base, err)
	}
	g.log.Infof("Found %d commits since %q", len(commits), base)

	if !g.newestFirst {
		commits = reverse(commits)
	}

	return Build(commits, g.short), nil
}

func (g *Generator) findBase(ctx context.Context) (string, error) {
	if g.base != "" {
		g.log.Debugf("Using configured base %q", g.base)
		return g.base, nil
	}

	run, err := g.runs.LastSuccessfulRun(ctx)
	if err != nil {
		return "", fmt.Errorf("can not look up last successful run: %w", err)
	}

	if run == nil {
		g.log.Warn("No previous successful run, using the whole history")
		return "", nil
	}

	return run.HeadSHA, nil
}

func reverse(commits []data.Commit) []data.Commit {
	result := make([]data.Commit, len(commits))
	for i, c := range commits {
		result[len(commits)-1-i] = c
	}
	return result
}

// Build converts commits into matrix entries, keeping their order.
// Abbreviated hashes are only added when short is set.
func Build(commits []data.Commit, short bool) *data.Matrix {
	m := &data.Matrix{
		Commit: make([]data.MatrixEntry, 0, len(commits)),
	}

	for _, c := range commits {
		entry := data.MatrixEntry{
			SHA:     c.Hash,
			Message: c.Subject,
		}

		if short {
			entry.Short = c.Hash
			if len(entry.Short) > shortHashLength {
				entry.Short = entry.Short[:shortHashLength]
			}
		}

		m.Commit = append(m.Commit, entry)
	}

	return m
}
