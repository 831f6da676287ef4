package matrix

import (
	"context"
	"errors"
	"io/ioutil"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xperimental/release-matrix/internal/config"
	"github.com/xperimental/release-matrix/internal/data"
)

func testLogger() config.Logger {
	log := logrus.New()
	log.Out = ioutil.Discard
	return log
}

type fakeRuns struct {
	run    *data.WorkflowRun
	err    error
	called bool
}

func (f *fakeRuns) LastSuccessfulRun(ctx context.Context) (*data.WorkflowRun, error) {
	f.called = true
	return f.run, f.err
}

type fakeHistory struct {
	commits []data.Commit
	err     error
	base    string
	head    string
}

func (f *fakeHistory) CommitsSince(ctx context.Context, base, head string) ([]data.Commit, error) {
	f.base = base
	f.head = head
	return f.commits, f.err
}

func repoConfig(repo config.Repository) config.Config {
	return config.Config{Repository: repo}
}

var testCommits = []data.Commit{
	{Hash: "9fceb02d0ae598e95dc970b74767f19372d61af8", Subject: "Add exporter"},
	{Hash: "e83c5163316f89bfbde7d9ab23ca2e25604af290", Subject: "Fix typo"},
}

func TestGenerate_FromLastRun(t *testing.T) {
	runs := &fakeRuns{run: &data.WorkflowRun{ID: 1, HeadSHA: "3f786850e387550fdab836ed7e6dc881de23001b"}}
	history := &fakeHistory{commits: testCommits}

	g, err := New(testLogger(), repoConfig(config.Repository{Head: "HEAD"}), runs, history)
	require.NoError(t, err)

	m, err := g.Generate(context.Background())
	require.NoError(t, err)

	assert.True(t, runs.called)
	assert.Equal(t, "3f786850e387550fdab836ed7e6dc881de23001b", history.base)
	assert.Equal(t, "HEAD", history.head)
	assert.Equal(t, []data.MatrixEntry{
		{SHA: "e83c5163316f89bfbde7d9ab23ca2e25604af290", Message: "Fix typo"},
		{SHA: "9fceb02d0ae598e95dc970b74767f19372d61af8", Message: "Add exporter"},
	}, m.Commit)
}

func TestGenerate_NewestFirstWithShortHashes(t *testing.T) {
	runs := &fakeRuns{run: &data.WorkflowRun{ID: 1, HeadSHA: "3f786850e387550fdab836ed7e6dc881de23001b"}}
	history := &fakeHistory{commits: testCommits}

	cfg := repoConfig(config.Repository{Head: "HEAD", NewestFirst: true})
	cfg.Output.Short = true

	g, err := New(testLogger(), cfg, runs, history)
	require.NoError(t, err)

	m, err := g.Generate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []data.MatrixEntry{
		{SHA: "9fceb02d0ae598e95dc970b74767f19372d61af8", Message: "Add exporter", Short: "9fceb02"},
		{SHA: "e83c5163316f89bfbde7d9ab23ca2e25604af290", Message: "Fix typo", Short: "e83c516"},
	}, m.Commit)
}

func TestGenerate_ConfiguredBase(t *testing.T) {
	runs := &fakeRuns{err: errors.New("should not be called")}
	history := &fakeHistory{commits: testCommits}

	g, err := New(testLogger(), repoConfig(config.Repository{Head: "main", Base: "v1.2.0"}), runs, history)
	require.NoError(t, err)

	_, err = g.Generate(context.Background())
	require.NoError(t, err)

	assert.False(t, runs.called)
	assert.Equal(t, "v1.2.0", history.base)
	assert.Equal(t, "main", history.head)
}

func TestGenerate_NoPreviousRun(t *testing.T) {
	history := &fakeHistory{commits: testCommits}

	g, err := New(testLogger(), repoConfig(config.Repository{Head: "HEAD"}), &fakeRuns{}, history)
	require.NoError(t, err)

	m, err := g.Generate(context.Background())
	require.NoError(t, err)

	assert.Empty(t, history.base)
	assert.Len(t, m.Commit, 2)
}

func TestGenerate_Errors(t *testing.T) {
	runErr := errors.New("api unavailable")
	g, err := New(testLogger(), repoConfig(config.Repository{Head: "HEAD"}), &fakeRuns{err: runErr}, &fakeHistory{})
	require.NoError(t, err)

	_, err = g.Generate(context.Background())
	assert.True(t, errors.Is(err, runErr))

	historyErr := errors.New("bad object")
	g, err = New(testLogger(), repoConfig(config.Repository{Head: "HEAD", Base: "v1"}), nil, &fakeHistory{err: historyErr})
	require.NoError(t, err)

	_, err = g.Generate(context.Background())
	assert.True(t, errors.Is(err, historyErr))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(testLogger(), repoConfig(config.Repository{Head: "HEAD"}), &fakeRuns{}, nil)
	assert.Error(t, err)

	_, err = New(testLogger(), repoConfig(config.Repository{Head: "HEAD"}), nil, &fakeHistory{})
	assert.Error(t, err)

	_, err = New(testLogger(), repoConfig(config.Repository{}), &fakeRuns{}, &fakeHistory{})
	assert.Error(t, err)
}

func TestBuild_Empty(t *testing.T) {
	m := Build(nil, false)

	require.NotNil(t, m.Commit)
	assert.Empty(t, m.Commit)
}

func TestBuild_ShortHash(t *testing.T) {
	m := Build([]data.Commit{{Hash: "abc", Subject: "tiny"}}, true)

	assert.Equal(t, "abc", m.Commit[0].Short)
}
