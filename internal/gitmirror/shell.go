package gitmirror

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// CommandContext can be swapped out in tests.
var CommandContext = exec.CommandContext

// credentialRE matches the userinfo part of an https remote so tokens never
// reach logs or error messages.
var credentialRE = regexp.MustCompile(`//[^/@\s]+@`)

func scrub(s string) string {
	return credentialRE.ReplaceAllString(s, "//")
}

func (m *Manager) call(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	eb := &bytes.Buffer{}
	ob := &bytes.Buffer{}
	cmd.Stderr = eb
	cmd.Stdout = ob

	m.logger.Debugf("+ git %s", scrub(argsString(args)))
	if err := cmd.Run(); err != nil {
		return ob.Bytes(), fmt.Errorf("exec: git %s failed: %s (%w)", scrub(argsString(args)), scrub(strings.TrimSpace(eb.String())), err)
	}
	return ob.Bytes(), nil
}

// argsString returns a string suitable for copy/paste into the terminal.
func argsString(args []string) string {
	b := &strings.Builder{}
	for i, arg := range args {
		if strings.Contains(arg, " ") {
			b.WriteString(`"`)
			b.WriteString(arg)
			b.WriteString(`"`)
		} else {
			b.WriteString(arg)
		}
		if i < len(args)-1 {
			b.WriteString(" ")
		}
	}
	return b.String()
}
