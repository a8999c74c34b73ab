// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/montanaflynn/stats"
	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/orgstat/orgstat/internal/cloc"
	"github.com/orgstat/orgstat/internal/domain"
	"github.com/orgstat/orgstat/internal/gateway"
	"github.com/orgstat/orgstat/internal/gitmirror"
	"github.com/orgstat/orgstat/internal/report"
	"github.com/orgstat/orgstat/internal/usecase"
)

// envConfig holds the environment overrides. Flags win where both exist.
type envConfig struct {
	// MaxConcurrency bounds the number of repository pipelines in flight.
	MaxConcurrency int `envconfig:"MAX_CONCURRENCY" default:"10"`
	// MirrorDir is the base directory for local clones.
	MirrorDir string `envconfig:"MIRROR_DIR" default:"mirrors"`
	// APIURL overrides the GitHub API base address (GitHub Enterprise).
	APIURL string `envconfig:"GITHUB_API_URL" default:""`
	// Token is the fallback credential when --token is not given.
	Token string `envconfig:"GITHUB_TOKEN" default:""`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Collect statistics for one organization and year",
	Long: `Run the statistics collection for a GitHub organization.

Examples:
  orgstat run -t <token> -o myorg                  # current year, myorg_<year>_stats.json
  orgstat run -t <token> -o myorg -y 2024          # analyze 2024
  orgstat run -t <token> -o myorg -e legacy,sandbox
  orgstat run -t <token> -o myorg -f custom.json -w 5

Re-running merges into the existing report file rather than replacing it;
repositories whose latest commit for the year is unchanged are carried over
without re-cloning.`,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	if verbose, _ := cmd.InheritedFlags().GetBool("verbose"); verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	var conf envConfig
	if err := envconfig.Process("", &conf); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = conf.Token
	}
	if token == "" {
		return fmt.Errorf("a GitHub token is required (--token or GITHUB_TOKEN)")
	}
	org, _ := cmd.Flags().GetString("org")
	year, _ := cmd.Flags().GetInt("year")
	if year == 0 {
		year = time.Now().UTC().Year()
	}
	if year < 1970 || year > time.Now().UTC().Year()+1 {
		return fmt.Errorf("implausible year %d", year)
	}
	outputFile, _ := cmd.Flags().GetString("file")
	if outputFile == "" {
		outputFile = fmt.Sprintf("%s_%d_stats.json", org, year)
	}
	exclude, _ := cmd.Flags().GetStringSlice("exclude")
	workers, _ := cmd.Flags().GetInt("max-workers")
	if workers <= 0 {
		workers = conf.MaxConcurrency
	}
	mirrorDir, _ := cmd.Flags().GetString("mirror-dir")
	if mirrorDir == "" {
		mirrorDir = conf.MirrorDir
	}

	// External tool checks are setup failures, so they abort before any
	// network traffic.
	if err := gitmirror.CheckAvailable(); err != nil {
		return err
	}
	if err := cloc.CheckAvailable(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher, err := gateway.NewGitHubGateway(token, conf.APIURL, logger.WithField("component", "gateway"))
	if err != nil {
		return fmt.Errorf("create GitHub gateway: %w", err)
	}
	user, err := fetcher.AuthenticatedUser(ctx)
	if err != nil {
		return err
	}
	logger.Infof("authenticated as %s", user)

	prior := report.Load(outputFile, logger.WithField("component", "report"))

	mirror := gitmirror.NewManager(mirrorDir, user, token, logger.WithField("component", "gitmirror"))
	counter := cloc.NewTool(logger.WithField("component", "cloc"))
	aggregator := usecase.NewAggregator(fetcher, mirror, counter, logger.WithField("component", "aggregator"))

	// pterm's progress bar is not safe for concurrent use, so every touch
	// goes through barMu.
	var (
		barMu sync.Mutex
		bar   *pterm.ProgressbarPrinter
	)
	params := usecase.Params{
		Org:        org,
		Year:       year,
		Exclude:    exclude,
		MaxWorkers: workers,
		Prior:      prior,
		OnReposListed: func(count int) {
			barMu.Lock()
			defer barMu.Unlock()
			bar, _ = pterm.DefaultProgressbar.
				WithTotal(count).
				WithTitle(fmt.Sprintf("Processing %d repositories", count)).
				Start()
		},
		OnRepoDone: func(fullName string, outcome usecase.Outcome) {
			barMu.Lock()
			defer barMu.Unlock()
			if bar != nil {
				bar.Increment()
			}
		},
	}

	newRep, summary, err := aggregator.Run(ctx, params)
	barMu.Lock()
	if bar != nil {
		bar.Stop()
		bar = nil
	}
	barMu.Unlock()
	if err != nil {
		return fmt.Errorf("aggregate statistics for %s: %w", org, err)
	}

	merged := report.Merge(prior, newRep)
	report.Prune(merged, exclude)
	if err := report.Write(merged, outputFile); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	logger.Infof("report written to %s", outputFile)

	printSummary(org, year, merged, summary)
	return nil
}

// printSummary renders the per-run outcome counts plus the commit-count
// distribution across the repositories recorded for the target year.
func printSummary(org string, year int, merged domain.Report, summary domain.RunSummary) {
	pterm.Success.Printf("%s %d: %d succeeded, %d skipped, %d failed\n",
		org, year, summary.Succeeded, summary.Skipped, summary.Failed)

	yearKey := strconv.Itoa(year)
	var counts []float64
	for _, repoSummary := range merged {
		if ys, ok := repoSummary.Yearly[yearKey]; ok {
			counts = append(counts, float64(ys.CommitCount))
		}
	}
	if len(counts) == 0 {
		return
	}
	mean, _ := stats.Mean(counts)
	median, _ := stats.Median(counts)
	p90, _ := stats.Percentile(counts, 90)
	pterm.Info.Printf("commits per repository: mean %.1f, median %.1f, p90 %.1f\n", mean, median, p90)
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("token", "t", "", "GitHub API token (falls back to GITHUB_TOKEN)")
	runCmd.Flags().StringP("org", "o", "", "Target GitHub organization name (required)")
	runCmd.Flags().IntP("year", "y", 0, "Year to analyze (default: current year)")
	runCmd.Flags().StringP("file", "f", "", "Output report path (default: <org>_<year>_stats.json)")
	runCmd.Flags().StringSliceP("exclude", "e", nil, "Comma-separated repository names to skip entirely")
	runCmd.Flags().IntP("max-workers", "w", 0, "Maximum concurrent repository pipelines (default: MAX_CONCURRENCY or 10)")
	runCmd.Flags().String("mirror-dir", "", "Base directory for local clones (default: MIRROR_DIR or ./mirrors)")
	runCmd.MarkFlagRequired("org")
}
