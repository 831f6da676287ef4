package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/emirpasic/gods/trees/binaryheap"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/xperimental/release-matrix/internal/config"
	"github.com/xperimental/release-matrix/internal/data"
)

var (
	hashRegex = regexp.MustCompile("^[0-9a-f]{4,40}$")

	// ErrBaseNotFound is returned when the base of a range is not part of the local history.
	ErrBaseNotFound = errors.New("base commit not found (is the clone shallow?)")

	errRevisionNotFound = errors.New("revision not found")
)

// Repository reads commit history using go-git.
type Repository struct {
	log  config.Logger
	cfg  config.Repository
	repo *git.Repository
}

func Open(log config.Logger, cfg config.Repository) (*Repository, error) {
	if cfg.Path == "" {
		return nil, errors.New("path can not be empty")
	}

	repo, err := git.PlainOpenWithOptions(cfg.Path, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		return nil, fmt.Errorf("can not open repository at %q: %w", cfg.Path, err)
	}
	log.Debugf("Opened repository at %s", cfg.Path)

	return &Repository{
		log:  log,
		cfg:  cfg,
		repo: repo,
	}, nil
}

// CommitsSince returns the commits reachable from head but not from base, newest first.
// An empty base selects the whole history of head.
func (r *Repository) CommitsSince(ctx context.Context, base, head string) ([]data.Commit, error) {
	headHash, err := r.resolveRef(head)
	if err != nil {
		return nil, fmt.Errorf("head %q can not be resolved: %w", head, err)
	}
	r.log.Debugf("Head %q resolved to %s", head, headHash)

	shallow, err := r.shallowCommits()
	if err != nil {
		return nil, err
	}

	exclude := map[plumbing.Hash]bool{}
	if base != "" {
		baseHash, err := r.resolveRef(base)
		switch {
		case errors.Is(err, errRevisionNotFound):
			return nil, fmt.Errorf("base %q: %w: %s", base, ErrBaseNotFound, err)
		case err != nil:
			return nil, fmt.Errorf("base %q can not be resolved: %w", base, err)
		}
		r.log.Debugf("Base %q resolved to %s", base, baseHash)

		if baseHash == headHash {
			return []data.Commit{}, nil
		}

		if err := r.walk(ctx, baseHash, shallow, nil, func(c *object.Commit) error {
			exclude[c.Hash] = true
			return nil
		}); err != nil {
			return nil, fmt.Errorf("error reading history of base: %w", err)
		}
	}

	result := []data.Commit{}
	if err := r.walk(ctx, headHash, shallow, exclude, func(c *object.Commit) error {
		result = append(result, convertCommit(c))
		if r.cfg.MaxCommits > 0 && len(result) > r.cfg.MaxCommits {
			return storer.ErrStop
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("error reading history of head: %w", err)
	}

	return limit(r.log, result, r.cfg.MaxCommits), nil
}

func (r *Repository) shallowCommits() (map[plumbing.Hash]bool, error) {
	hashes, err := r.repo.Storer.Shallow()
	if err != nil {
		return nil, fmt.Errorf("can not read shallow commits: %w", err)
	}

	shallow := make(map[plumbing.Hash]bool, len(hashes))
	for _, h := range hashes {
		shallow[h] = true
	}
	if len(shallow) > 0 {
		r.log.Debugf("Repository is shallow with %d boundary commits", len(shallow))
	}

	return shallow, nil
}

// walk visits the history of from in committer-time order, newest first.
// Parents of shallow commits are not followed. Commits in stop and their
// ancestors are skipped.
func (r *Repository) walk(ctx context.Context, from plumbing.Hash, shallow, stop map[plumbing.Hash]bool, fn func(*object.Commit) error) error {
	if stop[from] {
		return nil
	}

	start, err := r.repo.CommitObject(from)
	if err != nil {
		return err
	}

	queue := binaryheap.NewWith(func(a, b interface{}) int {
		ca, cb := a.(*object.Commit), b.(*object.Commit)
		switch {
		case ca.Committer.When.After(cb.Committer.When):
			return -1
		case ca.Committer.When.Before(cb.Committer.When):
			return 1
		default:
			return 0
		}
	})
	queue.Push(start)
	seen := map[plumbing.Hash]bool{from: true}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		next, ok := queue.Pop()
		if !ok {
			return nil
		}
		c := next.(*object.Commit)

		if err := fn(c); err == storer.ErrStop {
			return nil
		} else if err != nil {
			return err
		}

		if shallow[c.Hash] {
			continue
		}

		for _, p := range c.ParentHashes {
			if seen[p] || stop[p] {
				continue
			}
			seen[p] = true

			parent, err := r.repo.CommitObject(p)
			if err != nil {
				return fmt.Errorf("can not read parent %s of %s: %w", p, c.Hash, err)
			}
			queue.Push(parent)
		}
	}
}

func (r *Repository) resolveRef(refName string) (plumbing.Hash, error) {
	resolved, err := r.repo.ResolveRevision(plumbing.Revision(refName))
	switch {
	case err == nil:
		if _, err := r.repo.CommitObject(*resolved); err != nil {
			if errors.Is(err, plumbing.ErrObjectNotFound) {
				return plumbing.ZeroHash, fmt.Errorf("%w: %s", errRevisionNotFound, resolved)
			}
			return plumbing.ZeroHash, fmt.Errorf("commit %s: %w", resolved, err)
		}

		return *resolved, nil
	case !isNotFound(err):
		return plumbing.ZeroHash, err
	case hashRegex.MatchString(refName):
		return r.findCommit(refName)
	default:
		return plumbing.ZeroHash, fmt.Errorf("%w: %s", errRevisionNotFound, refName)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, plumbing.ErrReferenceNotFound) || errors.Is(err, plumbing.ErrObjectNotFound)
}

// findCommit resolves an abbreviated hash to a unique commit.
func (r *Repository) findCommit(prefix string) (plumbing.Hash, error) {
	if len(prefix) == 40 {
		c, err := r.repo.CommitObject(plumbing.NewHash(prefix))
		switch {
		case errors.Is(err, plumbing.ErrObjectNotFound):
			return plumbing.ZeroHash, fmt.Errorf("%w: %s", errRevisionNotFound, prefix)
		case err != nil:
			return plumbing.ZeroHash, err
		}

		return c.Hash, nil
	}

	iter, err := r.repo.CommitObjects()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	defer iter.Close()

	var matches []plumbing.Hash
	if err := iter.ForEach(func(c *object.Commit) error {
		if !strings.HasPrefix(c.Hash.String(), prefix) {
			return nil
		}

		matches = append(matches, c.Hash)
		if len(matches) > 1 {
			return storer.ErrStop
		}
		return nil
	}); err != nil {
		return plumbing.ZeroHash, err
	}

	switch len(matches) {
	case 0:
		return plumbing.ZeroHash, fmt.Errorf("%w: %s", errRevisionNotFound, prefix)
	case 1:
		return matches[0], nil
	default:
		return plumbing.ZeroHash, fmt.Errorf("abbreviated hash %q is ambiguous", prefix)
	}
}

func convertCommit(c *object.Commit) data.Commit {
	parents := make([]string, len(c.ParentHashes))
	for i, p := range c.ParentHashes {
		parents[i] = p.String()
	}

	return data.Commit{
		Hash:    c.Hash.String(),
		Subject: Subject(c.Message),
		Parents: parents,
		Author: data.User{
			Name:  c.Author.Name,
			Email: c.Author.Email,
			Date:  c.Author.When,
		},
	}
}

// Subject returns the first paragraph of a commit message folded into one line, like git's %s.
func Subject(message string) string {
	var lines []string
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			if len(lines) == 0 {
				continue
			}
			break
		}

		lines = append(lines, line)
	}

	return strings.Join(lines, " ")
}

func limit(log config.Logger, commits []data.Commit, max int) []data.Commit {
	if max <= 0 || len(commits) <= max {
		return commits
	}

	log.Warnf("Range contains more than %d commits, only using the newest %d", max, max)
	return commits[:max]
}
