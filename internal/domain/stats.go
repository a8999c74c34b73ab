// Package domain contains the core data structures and domain logic for the application.
package domain

import "time"

// Repo describes a repository as discovered through the GitHub API.
// It is the unit of work for the aggregation pipeline and is not persisted
// directly; persisted data lives in RepoSummary.
type Repo struct {
	Name          string
	FullName      string
	DefaultBranch string
	CloneURL      string
}

// CommitRecord is a single commit read from a local clone. It is transient:
// records are consumed by the aggregation and classification steps and never
// written to the report.
type CommitRecord struct {
	SHA         string
	Author      string
	AuthorEmail string
	AuthoredAt  time.Time
	Subject     string
}

// Compliance holds commit-message and review-coverage counts for one
// top contributor.
type Compliance struct {
	CompliantCount int `json:"compliant_count"`
	TotalCount     int `json:"total_count"`
	ReviewedCount  int `json:"reviewed_count"`
	DirectCount    int `json:"direct_count"`
}

// Contributor is one ranked author within a repository for the analyzed year.
type Contributor struct {
	Identity   string      `json:"identity"`
	Commits    int         `json:"commits"`
	Rank       int         `json:"rank"`
	Compliance *Compliance `json:"compliance,omitempty"`
}

// LineStats is the parsed output of the line-counting tool for one checkout.
type LineStats struct {
	Total     int
	Languages map[string]int
}

// YearStats holds everything recorded for one repository in one year.
// LatestCommitSHA is the newest commit at or before the end of the year and
// drives the unchanged-skip on subsequent runs.
type YearStats struct {
	LatestCommitSHA    string         `json:"latest_commit_sha"`
	CommitCount        int            `json:"commit_count"`
	LinesOfCode        int            `json:"lines_of_code"`
	Languages          map[string]int `json:"languages,omitempty"`
	LineCountOK        bool           `json:"line_count_ok"`
	ContributorCommits map[string]int `json:"contributor_commits,omitempty"`
	Hot                bool           `json:"hot"`
	TopContributors    []Contributor  `json:"top_contributors,omitempty"`
}

// RepoSummary is the persisted per-repository entry. Yearly is keyed by the
// four-digit year so one report file can carry several years of data.
type RepoSummary struct {
	DefaultBranch string                `json:"default_branch,omitempty"`
	HasTests      bool                  `json:"has_tests"`
	Yearly        map[string]*YearStats `json:"yearly"`
}

// Report is the persisted output: repository full name -> summary.
// Full names are unique keys; merge semantics live in the report package.
type Report map[string]*RepoSummary

// RunSummary counts per-repository outcomes of a single run. Skipped covers
// both excluded repositories and repositories whose year entry was unchanged.
type RunSummary struct {
	Succeeded int
	Skipped   int
	Failed    int
}
