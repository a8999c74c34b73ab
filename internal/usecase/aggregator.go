// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/orgstat/orgstat/internal/cloc"
	"github.com/orgstat/orgstat/internal/domain"
	"github.com/orgstat/orgstat/internal/gateway"
	"github.com/orgstat/orgstat/internal/gitmirror"
	"github.com/orgstat/orgstat/internal/testscan"
)

// Outcome describes how a single repository fared in a run.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	// OutcomeSkipped covers excluded repositories and repositories whose
	// year entry was unchanged since the previous run.
	OutcomeSkipped
	OutcomeFailed
)

// Params carries the per-run inputs for the aggregation.
type Params struct {
	Org        string
	Year       int
	Exclude    []string
	MaxWorkers int
	// Prior is the previously persisted report, used for the
	// unchanged-skip check. May be nil.
	Prior domain.Report
	// OnReposListed, if set, is invoked once with the total repository
	// count before the fan-out starts, so callers can size a progress bar.
	OnReposListed func(count int)
	// OnRepoDone, if set, is invoked once per repository as its pipeline
	// finishes. It may be called from multiple goroutines.
	OnRepoDone func(fullName string, outcome Outcome)
}

// Aggregator is the use case for aggregating per-repository contribution
// statistics. It orchestrates fetching, mirroring, counting and ranking.
type Aggregator struct {
	fetcher gateway.Fetcher
	mirror  gitmirror.Mirror
	counter cloc.Counter
	// scanTests is swappable in tests; defaults to testscan.HasTests.
	scanTests func(path string) bool
	logger    logrus.FieldLogger
}

// NewAggregator creates a new Aggregator instance.
func NewAggregator(fetcher gateway.Fetcher, mirror gitmirror.Mirror, counter cloc.Counter, logger logrus.FieldLogger) *Aggregator {
	return &Aggregator{
		fetcher:   fetcher,
		mirror:    mirror,
		counter:   counter,
		scanTests: testscan.HasTests,
		logger:    logger,
	}
}

// repoResult is the in-memory outcome of one repository pipeline. Commits
// are retained only for freshly analyzed repositories so the compliance
// phase can classify top contributors without touching the clone again.
type repoResult struct {
	repo    domain.Repo
	summary *domain.RepoSummary
	commits []domain.CommitRecord
	fresh   bool
}

// Run executes the whole aggregation for one organization and year and
// returns the new report fragment plus per-repository outcome counts.
// Failures local to one repository are logged and counted, never fatal;
// only the initial repository listing can fail the run.
func (a *Aggregator) Run(ctx context.Context, p Params) (domain.Report, domain.RunSummary, error) {
	repos, err := a.fetcher.ListOrgRepos(ctx, p.Org)
	if err != nil {
		return nil, domain.RunSummary{}, err
	}
	a.logger.Infof("organization %s has %d repositories", p.Org, len(repos))
	if p.OnReposListed != nil {
		p.OnReposListed(len(repos))
	}

	excluded := excludeSet(p.Exclude)
	yearKey := strconv.Itoa(p.Year)

	var (
		mu      sync.Mutex
		results []*repoResult
		summary domain.RunSummary
	)
	done := func(fullName string, outcome Outcome) {
		mu.Lock()
		switch outcome {
		case OutcomeSucceeded:
			summary.Succeeded++
		case OutcomeSkipped:
			summary.Skipped++
		case OutcomeFailed:
			summary.Failed++
		}
		mu.Unlock()
		if p.OnRepoDone != nil {
			p.OnRepoDone(fullName, outcome)
		}
	}

	workers := p.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	for _, repo := range repos {
		if excluded[repo.Name] || excluded[repo.FullName] {
			a.logger.Infof("repository %s is excluded, skipping", repo.FullName)
			done(repo.FullName, OutcomeSkipped)
			continue
		}
		repo := repo
		eg.Go(func() error {
			res, outcome := a.processRepo(egCtx, repo, p, yearKey)
			if res != nil {
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
			done(repo.FullName, outcome)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, summary, err
	}

	a.rankHotRepos(results, yearKey)
	a.classifyTopContributors(ctx, results, p, yearKey)

	rep := domain.Report{}
	for _, res := range results {
		rep[res.repo.FullName] = res.summary
	}
	return rep, summary, nil
}

// processRepo runs the per-repository pipeline: latest SHA, unchanged-skip,
// mirror, commit log, line count, test scan. A nil result means the
// repository contributes nothing this run.
func (a *Aggregator) processRepo(ctx context.Context, repo domain.Repo, p Params, yearKey string) (*repoResult, Outcome) {
	log := a.logger.WithField("repo", repo.FullName)

	sha, err := a.fetcher.LatestCommitSHA(ctx, p.Org, repo.Name, p.Year)
	if err != nil {
		log.Warnf("could not determine latest commit: %v", err)
		return nil, OutcomeFailed
	}
	if sha == "" {
		log.Debugf("no commits at or before end of %s, skipping", yearKey)
		return nil, OutcomeSkipped
	}

	if prior := priorYear(p.Prior, repo.FullName, yearKey); prior != nil && prior.LatestCommitSHA == sha {
		log.Debugf("unchanged since previous run, carrying entry over")
		priorSummary := p.Prior[repo.FullName]
		return &repoResult{
			repo: repo,
			summary: &domain.RepoSummary{
				DefaultBranch: priorSummary.DefaultBranch,
				HasTests:      priorSummary.HasTests,
				Yearly:        map[string]*domain.YearStats{yearKey: prior},
			},
		}, OutcomeSkipped
	}

	path, err := a.mirror.Ensure(ctx, repo)
	if err != nil {
		log.Warnf("could not update local mirror: %v", err)
		return nil, OutcomeFailed
	}
	commits, err := a.mirror.Commits(ctx, path, p.Year)
	if err != nil {
		log.Warnf("could not read commit log: %v", err)
		return nil, OutcomeFailed
	}

	year := &domain.YearStats{
		LatestCommitSHA:    sha,
		CommitCount:        len(commits),
		ContributorCommits: map[string]int{},
	}
	for _, c := range commits {
		if c.Author != "" {
			year.ContributorCommits[c.Author]++
		}
	}

	lines, err := a.counter.Count(ctx, path)
	if err != nil {
		log.Warnf("line count failed, recording zero: %v", err)
	} else {
		year.LinesOfCode = lines.Total
		year.Languages = lines.Languages
		year.LineCountOK = true
	}

	return &repoResult{
		repo: repo,
		summary: &domain.RepoSummary{
			DefaultBranch: repo.DefaultBranch,
			HasTests:      a.scanTests(path),
			Yearly:        map[string]*domain.YearStats{yearKey: year},
		},
		commits: commits,
		fresh:   true,
	}, OutcomeSucceeded
}

// rankHotRepos marks the top ceil(20%) of this run's repositories by commit
// count as hot and fills in their top-contributor rankings. Carried-over
// entries compete with the freshly analyzed ones using their stored counts:
// one that stays hot keeps its stored contributor list, one that becomes hot
// gets the list recomputed from its stored per-author counts (without the
// compliance block, which needs the commit log), and one that cools down has
// its flag and list cleared. When nothing changed since the previous run the
// ranking reproduces the stored flags, so the output stays byte-identical.
func (a *Aggregator) rankHotRepos(results []*repoResult, yearKey string) {
	if len(results) == 0 {
		return
	}
	ranked := make([]*repoResult, len(results))
	copy(ranked, results)
	sort.SliceStable(ranked, func(i, j int) bool {
		ci := ranked[i].summary.Yearly[yearKey].CommitCount
		cj := ranked[j].summary.Yearly[yearKey].CommitCount
		if ci != cj {
			return ci > cj
		}
		return ranked[i].repo.FullName < ranked[j].repo.FullName
	})

	hotCount := int(math.Ceil(float64(len(ranked)) * 0.2))
	for i, res := range ranked {
		year := res.summary.Yearly[yearKey]
		if i >= hotCount {
			if year.Hot {
				a.logger.Debugf("repository %s is no longer hot", res.repo.FullName)
			}
			year.Hot = false
			year.TopContributors = nil
			continue
		}
		if !res.fresh && year.Hot {
			continue
		}
		year.Hot = true
		year.TopContributors = topContributors(year.ContributorCommits, 5)
		a.logger.Debugf("hot repository: %s (%d commits)", res.repo.FullName, year.CommitCount)
	}
}

// topContributors ranks contributors by commit count descending, ties broken
// by identity ascending, and returns at most limit entries.
func topContributors(counts map[string]int, limit int) []domain.Contributor {
	if len(counts) == 0 {
		return nil
	}
	out := make([]domain.Contributor, 0, len(counts))
	for identity, n := range counts {
		out = append(out, domain.Contributor{Identity: identity, Commits: n})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Commits != out[j].Commits {
			return out[i].Commits > out[j].Commits
		}
		return out[i].Identity < out[j].Identity
	})
	if len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// classifyTopContributors annotates each hot repository's top contributors
// with conventional-commit and review-coverage counts. Review lookups go
// through the API and are bounded by the same worker limit as the main
// fan-out; a failed lookup counts the commit as direct.
func (a *Aggregator) classifyTopContributors(ctx context.Context, results []*repoResult, p Params, yearKey string) {
	workers := p.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	for _, res := range results {
		year := res.summary.Yearly[yearKey]
		if !res.fresh || !year.Hot {
			continue
		}
		res := res
		for i := range year.TopContributors {
			contributor := &year.TopContributors[i]
			eg.Go(func() error {
				contributor.Compliance = a.classifyContributor(egCtx, res, contributor.Identity, p)
				return nil
			})
		}
	}
	_ = eg.Wait()
}

func (a *Aggregator) classifyContributor(ctx context.Context, res *repoResult, identity string, p Params) *domain.Compliance {
	log := a.logger.WithField("repo", res.repo.FullName).WithField("contributor", identity)
	comp := &domain.Compliance{}
	for _, c := range res.commits {
		if c.Author != identity {
			continue
		}
		comp.TotalCount++
		if domain.IsConventionalCommit(c.Subject) {
			comp.CompliantCount++
		}
		reviewed, err := a.fetcher.CommitReviewStatus(ctx, p.Org, res.repo.Name, c.SHA)
		if err != nil {
			log.Debugf("review lookup failed for %s, counting as direct: %v", c.SHA, err)
			reviewed = false
		}
		if reviewed {
			comp.ReviewedCount++
		} else {
			comp.DirectCount++
		}
	}
	return comp
}

func excludeSet(exclude []string) map[string]bool {
	set := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		if e != "" {
			set[e] = true
		}
	}
	return set
}

func priorYear(prior domain.Report, fullName, yearKey string) *domain.YearStats {
	if prior == nil {
		return nil
	}
	summary, ok := prior[fullName]
	if !ok || summary == nil {
		return nil
	}
	return summary.Yearly[yearKey]
}
