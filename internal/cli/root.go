// Package cli implements the gitdiagram command line client. Every
// command drives one orchestrator session against the configured remote
// service and cache.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gitdiagram/internal/config"
	"gitdiagram/internal/logging"
	"gitdiagram/internal/orchestrator"
	"gitdiagram/internal/types"
	"gitdiagram/internal/wiring"
)

const version = "0.1.0"

const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitUsageError  = 2
	ExitNeedsAPIKey = 3
	ExitRateLimited = 4
)

type options struct {
	apiURL    string
	githubPAT string
	apiKey    string
	backend   string
	cacheDir  string
	logLevel  string
	timeout   time.Duration
}

type cli struct {
	opts   options
	out    io.Writer
	errOut io.Writer
	ui     *styles
}

// NewRootCmd builds the command tree writing to out and errOut.
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut, ui: newStyles(out)}
	root := &cobra.Command{
		Use:           "gitdiagram",
		Short:         "Architecture diagrams for GitHub repositories",
		Long:          "gitdiagram asks the generation service for an architecture diagram of a repository, caches it locally and lets you modify, question and export it.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&c.opts.apiURL, "api-url", "", "generation service URL (env GITDIAGRAM_API_URL)")
	pf.StringVar(&c.opts.githubPAT, "github-pat", "", "GitHub token for private repositories (env GITHUB_PAT)")
	pf.StringVar(&c.opts.apiKey, "api-key", "", "your own model API key (env GITDIAGRAM_API_KEY)")
	pf.StringVar(&c.opts.backend, "cache", "", "cache backend: memory, disk, badger, postgres, s3 (env CACHE_BACKEND)")
	pf.StringVar(&c.opts.cacheDir, "cache-dir", "", "cache directory for disk and badger (env CACHE_DIR)")
	pf.StringVar(&c.opts.logLevel, "log-level", "", "debug, info, warn or error (env LOG_LEVEL)")
	pf.DurationVar(&c.opts.timeout, "timeout", 0, "remote call timeout (env GITDIAGRAM_TIMEOUT)")

	root.AddCommand(
		c.generateCmd(),
		c.modifyCmd(),
		c.costCmd(),
		c.askCmd(),
		c.scenariosCmd(),
		c.exportCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print gitdiagram version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "gitdiagram version %s\n", version)
			},
		},
	)
	return root
}

// Run executes the CLI with os.Args and returns the process exit code.
func Run(ctx context.Context) int {
	return Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func Execute(ctx context.Context, args []string, out, errOut io.Writer) int {
	root := NewRootCmd(out, errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}
	code := exitCode(err)
	if code == ExitUsageError {
		fmt.Fprintf(errOut, "Error: %v\n", err)
	}
	return code
}

// reportedError marks an error already printed by a command.
type reportedError struct{ err error }

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var reported reportedError
	if !errors.As(err, &reported) {
		return ExitUsageError
	}
	switch {
	case errors.Is(err, orchestrator.ErrAPIKeyRequired):
		return ExitNeedsAPIKey
	case errors.Is(err, orchestrator.ErrRateLimited):
		return ExitRateLimited
	case errors.Is(err, orchestrator.ErrInvalidIdentity),
		errors.Is(err, orchestrator.ErrInvalidInstructions),
		errors.Is(err, config.ErrInvalidConfig):
		return ExitUsageError
	default:
		return ExitFailure
	}
}

// session loads config, applies flag overrides and returns an orchestrator
// bound to repo. The caller must call the returned release func.
func (c *cli) session(ctx context.Context, repo string) (*orchestrator.Orchestrator, *wiring.Deps, func(), error) {
	id, err := types.ParseIdentity(repo)
	if err != nil {
		return nil, nil, nil, c.fail(orchestrator.MessageInvalidIdentity, err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, c.fail("Invalid configuration.", err)
	}
	c.applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, c.fail("Invalid configuration.", err)
	}
	logger := logging.New(firstNonEmpty(cfg.LogLevel, "warn"), c.errOut)

	deps, err := wiring.Build(ctx, cfg, logger, nil)
	if err != nil {
		return nil, nil, nil, c.fail("Could not open the diagram cache.", err)
	}
	o := deps.NewOrchestrator()
	release := func() {
		o.Close()
		if cerr := deps.Close(); cerr != nil {
			logging.Error(ctx, logger, "closing diagram store failed", cerr)
		}
	}
	if err := o.SetIdentity(id); err != nil {
		release()
		return nil, nil, nil, c.fail(orchestrator.MessageInvalidIdentity, err)
	}
	return o, deps, release, nil
}

func (c *cli) applyOverrides(cfg *config.Config) {
	if c.opts.apiURL != "" {
		cfg.Remote.BaseURL = c.opts.apiURL
	}
	if c.opts.githubPAT != "" {
		cfg.Remote.GitHubPAT = c.opts.githubPAT
	}
	if c.opts.apiKey != "" {
		cfg.Remote.APIKey = c.opts.apiKey
	}
	if c.opts.backend != "" {
		cfg.Cache.Backend = strings.ToLower(c.opts.backend)
	}
	if c.opts.cacheDir != "" {
		cfg.Cache.Dir = c.opts.cacheDir
	}
	if c.opts.logLevel != "" {
		cfg.LogLevel = c.opts.logLevel
	}
	if c.opts.timeout > 0 {
		cfg.Remote.Timeout = c.opts.timeout
	}
}

// fail prints msg as the user-facing error and returns err marked as
// reported so Execute does not print it again.
func (c *cli) fail(msg string, err error) error {
	fmt.Fprintln(c.errOut, c.ui.failure(msg))
	return reportedError{err: err}
}

// await waits for act and reports a failure with the snapshot's message.
func (c *cli) await(ctx context.Context, act *orchestrator.Action) (orchestrator.Snapshot, error) {
	snap, err := act.Wait(ctx)
	if err == nil {
		return snap, nil
	}
	msg := snap.Error
	if msg == "" {
		msg = err.Error()
	}
	if errors.Is(err, orchestrator.ErrAPIKeyRequired) {
		fmt.Fprintln(c.errOut, c.ui.warning(msg))
		fmt.Fprintln(c.errOut, c.ui.hint("Pass --api-key or set GITDIAGRAM_API_KEY and run the command again."))
		return snap, reportedError{err: err}
	}
	return snap, c.fail(msg, err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
