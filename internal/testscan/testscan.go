// Package testscan implements the test-presence heuristic: a pure filesystem
// scan for conventional test file and directory names.
package testscan

import (
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"
)

// maxDepth bounds the walk so pathological trees can't stall a run.
const maxDepth = 12

var testDirNames = map[string]bool{
	"test":  true,
	"tests": true,
}

var skipDirNames = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
}

var testFilePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^test_.*\.py$`),
	regexp.MustCompile(`.*_test\.go$`),
	regexp.MustCompile(`.*\.test\.jsx?$`),
	regexp.MustCompile(`.*\.spec\.tsx?$`),
	regexp.MustCompile(`.*Test\.java$`),
	regexp.MustCompile(`.*Test\.kt$`),
	regexp.MustCompile(`.*_(test|spec)\.rb$`),
	regexp.MustCompile(`.*Tests?\.cs$`),
}

// HasTests walks the tree under root looking for a test directory or a file
// matching a conventional test name. The first hit wins.
func HasTests(root string) bool {
	found := false
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if skipDirNames[name] {
				return filepath.SkipDir
			}
			if depth(rel) >= maxDepth {
				return filepath.SkipDir
			}
			if testDirNames[strings.ToLower(name)] {
				found = true
				return filepath.SkipAll
			}
			return nil
		}
		for _, re := range testFilePatterns {
			if re.MatchString(name) {
				found = true
				return filepath.SkipAll
			}
		}
		return nil
	})
	return found
}

func depth(rel string) int {
	if rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}
