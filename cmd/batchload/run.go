package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-batchtx/pkg/batchtx"
	"github.com/dd0wney/cluso-batchtx/pkg/changelog"
	"github.com/dd0wney/cluso-batchtx/pkg/logging"
	"github.com/dd0wney/cluso-batchtx/pkg/metrics"
	"github.com/dd0wney/cluso-batchtx/pkg/observers"
	"github.com/dd0wney/cluso-batchtx/pkg/storage"
	"github.com/dd0wney/cluso-batchtx/pkg/txinput"
)

var runCmd = &cobra.Command{
	Use:   "run <script.yaml>",
	Short: "Apply a mutation script",
	Long: `Apply a YAML mutation script to an empty in-memory graph.

Example script:

  constraints:
    - label: Person
      property: name
      types: [string]
      required: true
    - label: Person
      property: email
      unique: true
  steps:
    - op: create_node
      ref: alice
      labels: [Person]
      properties: {name: Alice, email: alice@example.com}
    - op: create_node
      ref: bob
      labels: [Person]
      properties: {name: Bob}
    - op: create_edge
      ref: knows
      from: alice
      to: bob
      type: KNOWS
    - op: set_property
      node: alice
      key: age
      value: 31
    - op: add_label
      node: bob
      label: Employee
    - op: commit

Examples:
  # Apply a script with a commit every 500 mutations
  batchload run --config batch.yaml load.yaml

  # Keep a changelog and forward commits to a listener
  batchload run --changelog ./log --forward tcp://127.0.0.1:9400 load.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	changelogDir    string
	forwardAddr     string
	forwardTimeout  time.Duration
	forwardRequired bool
	failOnViolation bool
	watchCommits    bool
	metricsOut      string
)

func init() {
	runCmd.Flags().StringVar(&changelogDir, "changelog", "", "Directory of the commit changelog")
	runCmd.Flags().StringVar(&forwardAddr, "forward", "", "Forward commits to this address (e.g. tcp://127.0.0.1:9400)")
	runCmd.Flags().DurationVar(&forwardTimeout, "forward-timeout", observers.DefaultSendTimeout, "Send timeout for forwarded commits")
	runCmd.Flags().BoolVar(&forwardRequired, "forward-required", false, "Fail the commit when forwarding fails")
	runCmd.Flags().BoolVar(&failOnViolation, "fail-on-violation", false, "Fail the commit on constraint errors")
	runCmd.Flags().BoolVarP(&watchCommits, "watch", "w", false, "Print every commit as it happens")
	runCmd.Flags().StringVar(&metricsOut, "metrics-out", "", "Write Prometheus metrics to this file when done")
	rootCmd.AddCommand(runCmd)
}

// runSummary is printed when a script finishes
type runSummary struct {
	Script     string         `json:"script"`
	Steps      int            `json:"steps"`
	Nodes      uint64         `json:"nodes"`
	Edges      uint64         `json:"edges"`
	Commits    uint64         `json:"commits"`
	Labels     map[string]int `json:"labels"`
	Violations []string       `json:"violations,omitempty"`
	Changelog  *logSummary    `json:"changelog,omitempty"`
}

type logSummary struct {
	Path             string  `json:"path"`
	LSN              uint64  `json:"lsn"`
	CompressionRatio float64 `json:"compression_ratio"`
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	summary, err := runScript(ctx, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
	if summary == nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		if perr := printJSON(out, summary); perr != nil && err == nil {
			err = perr
		}
		return err
	}
	printSummary(out, summary)
	return err
}

// runScript applies the script and returns what was loaded. The summary is
// returned even when a step or the final commit failed.
func runScript(ctx context.Context, path string, out, logOut io.Writer) (*runSummary, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	script, err := LoadScript(path)
	if err != nil {
		return nil, err
	}
	cs, err := script.BuildConstraints()
	if err != nil {
		return nil, err
	}

	logger := newLogger(logOut, cfg)
	reg := metrics.NewRegistry()

	gs := storage.NewGraphStorage(storage.WithMetrics(reg))
	defer gs.Close()

	ins, err := batchtx.NewBatchInserter(gs, cfg, batchtx.WithLogger(logger), batchtx.WithMetrics(reg))
	if err != nil {
		return nil, err
	}

	index := observers.NewLabelIndex()
	if _, err := index.Seed(ctx, gs, txinput.WithLogger(logger), txinput.WithMetrics(reg)); err != nil {
		return nil, err
	}
	ins.RegisterObserver(index)

	var checker *observers.ConstraintChecker
	if len(cs) > 0 {
		checker = observers.NewConstraintChecker(gs, logger, cs...)
		checker.FailOnViolation = failOnViolation
		ins.RegisterObserver(checker)
	}

	var log *changelog.Log
	if changelogDir != "" {
		log, err = changelog.Open(changelogDir, logger)
		if err != nil {
			return nil, err
		}
		defer log.Close()
		ins.RegisterObserver(changelog.NewWriter(log))
	}

	if forwardAddr != "" {
		fwd, err := observers.NewForwarder(forwardAddr, forwardTimeout, logger)
		if err != nil {
			return nil, err
		}
		defer fwd.Close()
		fwd.Required = forwardRequired
		ins.RegisterObserver(fwd)
	}

	var watching sync.WaitGroup
	if watchCommits {
		feed := observers.NewFeed(64)
		sub, err := feed.Subscribe(ctx, observers.TopicAll)
		if err != nil {
			return nil, err
		}
		watching.Add(1)
		go func() {
			defer watching.Done()
			for ev := range sub.Events() {
				printInfo(out, "commit %s: %d mutations, %d nodes created, %d edges created\n",
					ev.CommitID, ev.Mutations, len(ev.CreatedNodes), len(ev.CreatedEdges))
			}
		}()
		defer watching.Wait()
		defer feed.Close()
		ins.RegisterObserver(feed)
	}

	runErr := newApplier(ins).Run(script.Steps)
	if err := ins.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}

	stats := gs.GetStatistics()
	summary := &runSummary{
		Script:  path,
		Steps:   len(script.Steps),
		Nodes:   stats.NodeCount,
		Edges:   stats.EdgeCount,
		Commits: ins.Accumulator().Commits(),
		Labels:  make(map[string]int),
	}
	for _, label := range index.Labels() {
		summary.Labels[label] = index.Count(label)
	}
	if checker != nil {
		for _, v := range checker.Violations() {
			summary.Violations = append(summary.Violations, v.String())
		}
	}
	if log != nil {
		summary.Changelog = &logSummary{
			Path:             log.Path(),
			LSN:              log.LSN(),
			CompressionRatio: log.Stats().CompressionRatio,
		}
	}

	if metricsOut != "" {
		if err := prometheus.WriteToTextfile(metricsOut, reg.GetPrometheusRegistry()); err != nil && runErr == nil {
			runErr = fmt.Errorf("failed to write metrics: %w", err)
		}
	}

	if runErr != nil {
		logger.Error("batch load failed", logging.Path(path), logging.Error(runErr))
	}
	return summary, runErr
}

func printSummary(w io.Writer, s *runSummary) {
	printInfo(w, "Loaded %s (%d steps)\n", s.Script, s.Steps)
	printInfo(w, "  nodes:   %d\n", s.Nodes)
	printInfo(w, "  edges:   %d\n", s.Edges)
	printInfo(w, "  commits: %d\n", s.Commits)
	if len(s.Labels) > 0 {
		parts := make([]string, 0, len(s.Labels))
		for _, label := range sortedKeys(s.Labels) {
			parts = append(parts, fmt.Sprintf("%s=%d", label, s.Labels[label]))
		}
		printInfo(w, "  labels:  %s\n", strings.Join(parts, " "))
	}
	if len(s.Violations) > 0 {
		printInfo(w, "  violations: %d\n", len(s.Violations))
		for _, v := range s.Violations {
			printInfo(w, "    %s\n", v)
		}
	}
	if s.Changelog != nil {
		printInfo(w, "  changelog: %s (lsn %d, %.0f%% compression)\n",
			s.Changelog.Path, s.Changelog.LSN, s.Changelog.CompressionRatio*100)
	}
}
