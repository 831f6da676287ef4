package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/go-github/v62/github"
	"github.com/xperimental/release-matrix/internal/config"
	"github.com/xperimental/release-matrix/internal/data"
)

const statusSuccess = "success"

// ErrNoWorkflow is returned when no workflow is configured.
var ErrNoWorkflow = errors.New("workflow can not be empty")

// Client looks up runs of the release workflow.
type Client struct {
	log config.Logger
	cfg config.Workflow
	gh  *github.Client
}

func New(log config.Logger, cfg config.Workflow) (*Client, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.New("owner and repository can not be empty")
	}

	if cfg.Name == "" {
		return nil, ErrNoWorkflow
	}

	gh := github.NewClient(&http.Client{
		Timeout: cfg.Timeout,
	})
	if cfg.Token != "" {
		gh = gh.WithAuthToken(cfg.Token)
	}

	if cfg.APIURL != "" {
		baseURL, err := url.Parse(cfg.APIURL)
		if err != nil {
			return nil, fmt.Errorf("can not parse API URL: %w", err)
		}

		if !strings.HasSuffix(baseURL.Path, "/") {
			baseURL.Path += "/"
		}
		gh.BaseURL = baseURL
	}
	log.Debugf("Workflow API: %s", gh.BaseURL)

	return &Client{
		log: log,
		cfg: cfg,
		gh:  gh,
	}, nil
}

// LastSuccessfulRun returns the newest successful run of the workflow or nil if there is none.
func (c *Client) LastSuccessfulRun(ctx context.Context) (*data.WorkflowRun, error) {
	opts := &github.ListWorkflowRunsOptions{
		Branch: c.cfg.Branch,
		Event:  c.cfg.Event,
		Status: statusSuccess,
		ListOptions: github.ListOptions{
			PerPage: 1,
		},
	}

	var (
		runs *github.WorkflowRuns
		err  error
	)
	if id, parseErr := strconv.ParseInt(c.cfg.Name, 10, 64); parseErr == nil {
		runs, _, err = c.gh.Actions.ListWorkflowRunsByID(ctx, c.cfg.Owner, c.cfg.Repo, id, opts)
	} else {
		runs, _, err = c.gh.Actions.ListWorkflowRunsByFileName(ctx, c.cfg.Owner, c.cfg.Repo, c.cfg.Name, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("can not list runs of workflow %q: %w", c.cfg.Name, err)
	}

	if len(runs.WorkflowRuns) == 0 {
		c.log.Infof("No successful run of %q in %s/%s", c.cfg.Name, c.cfg.Owner, c.cfg.Repo)
		return nil, nil
	}

	run := convertRun(runs.WorkflowRuns[0])
	if run.HeadSHA == "" {
		return nil, fmt.Errorf("run %d has no head commit", run.ID)
	}
	c.log.Infof("Last successful run #%d at %s (%s)", run.Number, run.HeadSHA, humanize.Time(run.CreatedAt))

	return run, nil
}

func convertRun(r *github.WorkflowRun) *data.WorkflowRun {
	return &data.WorkflowRun{
		ID:         r.GetID(),
		Number:     r.GetRunNumber(),
		HeadSHA:    r.GetHeadSHA(),
		HeadBranch: r.GetHeadBranch(),
		Event:      r.GetEvent(),
		CreatedAt:  r.GetCreatedAt().Time,
		URL:        r.GetHTMLURL(),
	}
}
