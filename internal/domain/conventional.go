package domain

import "regexp"

// conventionalSubjectRE matches the first line of a conventional commit:
// <type>[(scope)][!]: <description>. The type vocabulary is fixed; scope and
// description must be non-empty when present.
var conventionalSubjectRE = regexp.MustCompile(
	`^(feat|fix|docs|style|refactor|perf|test|build|ci|chore|revert)(\([^)]+\))?!?:\s+\S.*$`,
)

// IsConventionalCommit reports whether the first line of msg conforms to the
// conventional-commit grammar. Malformed messages are simply non-conforming;
// classification never fails.
func IsConventionalCommit(msg string) bool {
	for i := 0; i < len(msg); i++ {
		if msg[i] == '\n' {
			msg = msg[:i]
			break
		}
	}
	return conventionalSubjectRE.MatchString(msg)
}
