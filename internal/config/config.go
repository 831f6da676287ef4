package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
)

const (
	BackendGoGit = "go-git"
	BackendGit   = "git"

	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Logger is the logger handed to every component.
type Logger interface {
	logrus.FieldLogger
	WriterLevel(level logrus.Level) *io.PipeWriter
}

// Config contains the application configuration.
type Config struct {
	LogLevel   logrus.Level `yaml:"logLevel"`
	Repository Repository   `yaml:"repository"`
	Workflow   Workflow     `yaml:"workflow"`
	Output     Output       `yaml:"output"`
}

// Repository contains configuration about the local Git repository.
type Repository struct {
	Path        string `yaml:"path"`
	Head        string `yaml:"head"`
	Base        string `yaml:"base"`
	Backend     string `yaml:"backend"`
	GitPath     string `yaml:"gitPath"`
	MaxCommits  int    `yaml:"maxCommits"`
	NewestFirst bool   `yaml:"newestFirst"`
}

// Workflow contains configuration for looking up workflow runs.
type Workflow struct {
	APIURL  string        `yaml:"apiUrl"`
	Token   string        `yaml:"token"`
	Owner   string        `yaml:"owner"`
	Repo    string        `yaml:"repo"`
	Name    string        `yaml:"name"`
	Branch  string        `yaml:"branch"`
	Event   string        `yaml:"event"`
	Timeout time.Duration `yaml:"timeout"`
}

// Output contains configuration for writing the matrix.
type Output struct {
	Path   string `yaml:"path"`
	Name   string `yaml:"name"`
	Format string `yaml:"format"`
	Pretty bool   `yaml:"pretty"`
	Short  bool   `yaml:"short"`
}

// GetConfig parses the command-line parameters and environment and creates the configuration.
func GetConfig(args []string) (Config, error) {
	return getConfig(args, os.Getenv)
}

func getConfig(args []string, getenv func(string) string) (Config, error) {
	var (
		configFile string
		logLevel   string
		repository string
		flagCfg    Config
	)

	flags := pflag.NewFlagSet(args[0], pflag.ContinueOnError)
	flags.StringVarP(&configFile, "config-file", "c", "", "Path to optional configuration file.")
	flags.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error).")
	flags.StringVarP(&flagCfg.Repository.Path, "path", "C", "", "Path to the local Git repository.")
	flags.StringVar(&flagCfg.Repository.Head, "head", "", "Revision to compute the range up to.")
	flags.StringVar(&flagCfg.Repository.Base, "base", "", "Revision to start from instead of the last successful run.")
	flags.StringVar(&flagCfg.Repository.Backend, "backend", "", "History backend: go-git or git.")
	flags.StringVar(&flagCfg.Repository.GitPath, "git-path", "", "Path to the git executable.")
	flags.IntVar(&flagCfg.Repository.MaxCommits, "max-commits", 0, "Maximum number of commits in the matrix (0 = unlimited).")
	flags.BoolVar(&flagCfg.Repository.NewestFirst, "newest-first", false, "List the newest commit first.")
	flags.StringVarP(&repository, "repository", "r", "", "Repository on the workflow host as owner/name.")
	flags.StringVarP(&flagCfg.Workflow.Name, "workflow", "w", "", "Release workflow file name or numeric ID.")
	flags.StringVar(&flagCfg.Workflow.Branch, "branch", "", "Only consider runs on this branch.")
	flags.StringVar(&flagCfg.Workflow.Event, "event", "", "Only consider runs triggered by this event.")
	flags.StringVar(&flagCfg.Workflow.APIURL, "api-url", "", "Base URL of the workflow-run API.")
	flags.DurationVar(&flagCfg.Workflow.Timeout, "timeout", 0, "Timeout for API requests.")
	flags.StringVarP(&flagCfg.Output.Path, "output", "o", "", "File to append step outputs to.")
	flags.StringVar(&flagCfg.Output.Name, "output-name", "", "Name of the matrix output.")
	flags.StringVar(&flagCfg.Output.Format, "format", "", "Format of the matrix on stdout: json or yaml.")
	flags.BoolVar(&flagCfg.Output.Pretty, "pretty", false, "Indent JSON written to stdout.")
	flags.BoolVar(&flagCfg.Output.Short, "short-sha", false, "Add abbreviated commit hashes to the matrix.")

	err := flags.Parse(args[1:])
	if err != nil {
		return Config{}, fmt.Errorf("can not parse command-line parameters: %w", err)
	}

	var cfg Config
	if configFile != "" {
		if err := loadFile(configFile, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnvironment(&cfg, getenv); err != nil {
		return Config{}, err
	}

	if flags.Changed("log-level") {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return Config{}, fmt.Errorf("can not parse log level: %w", err)
		}
		cfg.LogLevel = level
	}

	if flags.Changed("repository") {
		if err := setOwnerRepo(&cfg.Workflow, repository); err != nil {
			return Config{}, err
		}
	}

	applyFlags(flags, &cfg, flagCfg)
	setDefaults(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadFile(configFile string, cfg *Config) error {
	file, err := os.Open(configFile)
	if err != nil {
		return fmt.Errorf("can not open configuration file %q: %w", configFile, err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("can not parse configuration file: %w", err)
	}

	return nil
}

func applyEnvironment(cfg *Config, getenv func(string) string) error {
	if token := getenv("GITHUB_TOKEN"); token != "" {
		cfg.Workflow.Token = token
	} else if token := getenv("GH_TOKEN"); token != "" {
		cfg.Workflow.Token = token
	}

	if repository := getenv("GITHUB_REPOSITORY"); repository != "" {
		if err := setOwnerRepo(&cfg.Workflow, repository); err != nil {
			return fmt.Errorf("invalid GITHUB_REPOSITORY: %w", err)
		}
	}

	if apiURL := getenv("GITHUB_API_URL"); apiURL != "" {
		cfg.Workflow.APIURL = apiURL
	}

	if output := getenv("GITHUB_OUTPUT"); output != "" {
		cfg.Output.Path = output
	}

	if cfg.Workflow.Branch == "" {
		cfg.Workflow.Branch = getenv("GITHUB_REF_NAME")
	}

	if cfg.Repository.Head == "" {
		cfg.Repository.Head = getenv("GITHUB_SHA")
	}

	return nil
}

func applyFlags(flags *pflag.FlagSet, cfg *Config, flagCfg Config) {
	set := func(name string, dst *string, value string) {
		if flags.Changed(name) {
			*dst = value
		}
	}

	set("path", &cfg.Repository.Path, flagCfg.Repository.Path)
	set("head", &cfg.Repository.Head, flagCfg.Repository.Head)
	set("base", &cfg.Repository.Base, flagCfg.Repository.Base)
	set("backend", &cfg.Repository.Backend, flagCfg.Repository.Backend)
	set("git-path", &cfg.Repository.GitPath, flagCfg.Repository.GitPath)
	set("workflow", &cfg.Workflow.Name, flagCfg.Workflow.Name)
	set("branch", &cfg.Workflow.Branch, flagCfg.Workflow.Branch)
	set("event", &cfg.Workflow.Event, flagCfg.Workflow.Event)
	set("api-url", &cfg.Workflow.APIURL, flagCfg.Workflow.APIURL)
	set("output", &cfg.Output.Path, flagCfg.Output.Path)
	set("output-name", &cfg.Output.Name, flagCfg.Output.Name)
	set("format", &cfg.Output.Format, flagCfg.Output.Format)

	if flags.Changed("max-commits") {
		cfg.Repository.MaxCommits = flagCfg.Repository.MaxCommits
	}

	if flags.Changed("timeout") {
		cfg.Workflow.Timeout = flagCfg.Workflow.Timeout
	}

	if flags.Changed("pretty") {
		cfg.Output.Pretty = flagCfg.Output.Pretty
	}

	if flags.Changed("short-sha") {
		cfg.Output.Short = flagCfg.Output.Short
	}

	if flags.Changed("newest-first") {
		cfg.Repository.NewestFirst = flagCfg.Repository.NewestFirst
	}
}

func setOwnerRepo(cfg *Workflow, repository string) error {
	parts := strings.Split(repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("repository %q is not in the form owner/name", repository)
	}

	cfg.Owner = parts[0]
	cfg.Repo = parts[1]
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.LogLevel == 0 {
		cfg.LogLevel = logrus.InfoLevel
	}

	if cfg.Repository.Path == "" {
		cfg.Repository.Path = "."
	}

	if cfg.Repository.Head == "" {
		cfg.Repository.Head = "HEAD"
	}

	if cfg.Repository.Backend == "" {
		cfg.Repository.Backend = BackendGoGit
	}

	if cfg.Repository.GitPath == "" {
		cfg.Repository.GitPath = "git"
	}

	if cfg.Workflow.Name == "" {
		cfg.Workflow.Name = "release.yml"
	}

	if cfg.Workflow.Timeout == 0 {
		cfg.Workflow.Timeout = 30 * time.Second
	}

	if cfg.Workflow.APIURL != "" && !strings.HasSuffix(cfg.Workflow.APIURL, "/") {
		cfg.Workflow.APIURL = cfg.Workflow.APIURL + "/"
	}

	if cfg.Output.Name == "" {
		cfg.Output.Name = "commit-matrix"
	}

	if cfg.Output.Format == "" {
		cfg.Output.Format = FormatJSON
	}
}

func validate(cfg Config) error {
	switch cfg.Repository.Backend {
	case BackendGoGit, BackendGit:
	default:
		return fmt.Errorf("unknown backend: %s", cfg.Repository.Backend)
	}

	switch cfg.Output.Format {
	case FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("unknown output format: %s", cfg.Output.Format)
	}

	if cfg.Repository.MaxCommits < 0 {
		return errors.New("max-commits can not be negative")
	}

	if cfg.Repository.Base == "" && (cfg.Workflow.Owner == "" || cfg.Workflow.Repo == "") {
		return errors.New("repository can not be empty when no base is given")
	}

	return nil
}
