package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/xperimental/release-matrix/internal/config"
	"github.com/xperimental/release-matrix/internal/matrix"
	"github.com/xperimental/release-matrix/internal/repository"
	"github.com/xperimental/release-matrix/internal/workflow"
)

var (
	log = &logrus.Logger{
		Out: os.Stderr,
		Formatter: &logrus.TextFormatter{
			DisableTimestamp: true,
		},
		Hooks: logrus.LevelHooks{},
		Level: logrus.InfoLevel,
	}
)

func main() {
	cfg, err := config.GetConfig(os.Args)
	if err != nil {
		log.Fatalf("Error in configuration: %s", err)
	}
	log.SetLevel(cfg.LogLevel)

	history, err := newHistorySource(cfg.Repository)
	if err != nil {
		log.Fatalf("Error opening repository: %s", err)
	}

	var runs matrix.RunSource
	if cfg.Repository.Base == "" {
		client, err := workflow.New(log.WithField("component", "workflow"), cfg.Workflow)
		if err != nil {
			log.Fatalf("Error creating workflow client: %s", err)
		}
		runs = client
	}

	gen, err := matrix.New(log.WithField("component", "matrix"), cfg, runs, history)
	if err != nil {
		log.Fatalf("Error creating generator: %s", err)
	}

	if err := runMain(gen, cfg.Output); err != nil {
		log.Fatalln(err)
	}
}

func newHistorySource(cfg config.Repository) (matrix.HistorySource, error) {
	repoLog := log.WithField("component", "repository")

	switch cfg.Backend {
	case config.BackendGit:
		return repository.NewCLI(repoLog, cfg)
	default:
		return repository.Open(repoLog, cfg)
	}
}

func runMain(gen *matrix.Generator, cfg config.Output) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	m, err := gen.Generate(ctx)
	if err != nil {
		return fmt.Errorf("error generating matrix: %w", err)
	}

	if err := matrix.Publish(cfg, m, os.Stdout); err != nil {
		return fmt.Errorf("error publishing matrix: %w", err)
	}

	log.Infof("Published matrix with %d commits.", len(m.Commit))
	return nil
}
