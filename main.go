// orgstat aggregates per-repository contribution statistics across all
// repositories of a GitHub organization for a given year: commit counts,
// lines of code, top contributors, commit-message hygiene, review coverage
// and a test-presence heuristic. Results are written to a JSON report that
// is merged incrementally across runs.
//
// Usage:
//
//	orgstat run --token <token> --org <org>
//	orgstat run -t <token> -o myorg -y 2025 -e legacy-repo,sandbox
package main

import (
	"github.com/orgstat/orgstat/cmd"
)

func main() {
	cmd.Execute()
}
