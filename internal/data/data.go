package data

import "time"

// User identifies the author of a commit.
type User struct {
	Name  string
	Email string
	Date  time.Time
}

// Commit is a single commit of the release range.
type Commit struct {
	Hash    string
	Subject string
	Parents []string
	Author  User
}

// WorkflowRun is a completed run of the release workflow.
type WorkflowRun struct {
	ID         int64
	Number     int
	HeadSHA    string
	HeadBranch string
	Event      string
	CreatedAt  time.Time
	URL        string
}

// MatrixEntry is one job of the build matrix.
type MatrixEntry struct {
	SHA     string `json:"sha" yaml:"sha"`
	Message string `json:"message" yaml:"message"`
	Short   string `json:"short,omitempty" yaml:"short,omitempty"`
}

type Matrix struct {
	Commit []MatrixEntry `json:"commit" yaml:"commit"`
}
