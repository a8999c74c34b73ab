// Package gitmirror maintains local clones of the analyzed repositories and
// reads commit history from them using the git commandline tool.
package gitmirror

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/orgstat/orgstat/internal/domain"
)

// Mirror is the behavior the aggregation pipeline needs from the local clone
// layer.
type Mirror interface {
	// Ensure makes sure a local clone of repo exists and is up to date on
	// its default branch, returning the local path.
	Ensure(ctx context.Context, repo domain.Repo) (string, error)
	// Commits reads the commit history of the clone at path for the given
	// calendar year.
	Commits(ctx context.Context, path string, year int) ([]domain.CommitRecord, error)
}

// Manager implements Mirror on a base directory, one clone per repository
// full name.
type Manager struct {
	baseDir string
	user    string
	token   string
	logger  logrus.FieldLogger
}

func NewManager(baseDir, user, token string, logger logrus.FieldLogger) *Manager {
	return &Manager{
		baseDir: baseDir,
		user:    user,
		token:   token,
		logger:  logger,
	}
}

// CheckAvailable verifies the git executable can be found. Called once at
// startup; a missing binary is fatal for the run.
func CheckAvailable() error {
	if _, err := exec.LookPath("git"); err != nil {
		return &domain.ToolUnavailableError{Tool: "git", Err: err}
	}
	return nil
}

func (m *Manager) Ensure(ctx context.Context, repo domain.Repo) (string, error) {
	path := filepath.Join(m.baseDir, filepath.FromSlash(repo.FullName))

	if fi, err := os.Stat(filepath.Join(path, ".git")); err == nil && fi.IsDir() {
		if err := m.update(ctx, path, repo); err != nil {
			return "", &domain.NetworkError{Op: fmt.Sprintf("update mirror %s", repo.FullName), Err: err}
		}
		return path, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create mirror dir: %w", err)
	}
	cloneURL, err := m.authURL(repo.CloneURL)
	if err != nil {
		return "", err
	}
	if _, err := m.call(ctx, "", "clone", cloneURL, path); err != nil {
		return "", &domain.NetworkError{Op: fmt.Sprintf("clone %s", repo.FullName), Err: err}
	}
	m.logger.Debugf("cloned %s", repo.FullName)
	return path, nil
}

func (m *Manager) update(ctx context.Context, path string, repo domain.Repo) error {
	if _, err := m.call(ctx, path, "fetch", "origin"); err != nil {
		return err
	}
	branch := repo.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	if _, err := m.call(ctx, path, "checkout", branch); err != nil {
		return err
	}
	if _, err := m.call(ctx, path, "reset", "--hard", "origin/"+branch); err != nil {
		return err
	}
	return nil
}

// authURL embeds the user and token into an https clone URL so private
// repositories can be fetched non-interactively.
func (m *Manager) authURL(cloneURL string) (string, error) {
	u, err := url.Parse(cloneURL)
	if err != nil {
		return "", fmt.Errorf("parse clone url: %w", err)
	}
	if m.token != "" {
		u.User = url.UserPassword(m.user, m.token)
	}
	return u.String(), nil
}

const logFormat = "%H%x00%an%x00%ae%x00%aI%x00%s"

const logFieldCount = 5

func (m *Manager) Commits(ctx context.Context, path string, year int) ([]domain.CommitRecord, error) {
	out, err := m.call(ctx, path,
		"log",
		fmt.Sprintf("--since=%d-01-01", year),
		fmt.Sprintf("--until=%d-01-01", year+1),
		"--pretty=format:"+logFormat,
	)
	if err != nil {
		// A freshly initialized repository has no HEAD to log from.
		if strings.Contains(err.Error(), "does not have any commits yet") {
			return nil, nil
		}
		return nil, err
	}
	return parseLog(out)
}

// parseLog decodes the NUL-separated git log output, one commit per line.
func parseLog(out []byte) ([]domain.CommitRecord, error) {
	var commits []domain.CommitRecord
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\x00", logFieldCount)
		if len(parts) != logFieldCount {
			return nil, fmt.Errorf("gitmirror: expected %d fields from git log, got %d in %q", logFieldCount, len(parts), line)
		}
		authoredAt, err := time.Parse(time.RFC3339, parts[3])
		if err != nil {
			return nil, fmt.Errorf("gitmirror: bad author date %q: %w", parts[3], err)
		}
		commits = append(commits, domain.CommitRecord{
			SHA:         parts[0],
			Author:      parts[1],
			AuthorEmail: parts[2],
			AuthoredAt:  authoredAt,
			Subject:     parts[4],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("gitmirror: scan log output: %w", err)
	}
	return commits, nil
}
