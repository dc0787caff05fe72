// Package owners infers a best-effort owner for a test file using CODEOWNERS
// patterns and, failing that, git blame. All lookups degrade gracefully: any
// error yields no owner rather than failing the caller's scan.
package owners

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dougbtv/vllm-ci-mcp/go/config"
)

// Confidence levels for the two inference strategies.
const (
	CodeownersConfidence = 0.9
	BlameConfidence      = 0.6
)

// codeownersLocations are the conventional CODEOWNERS file locations,
// relative to the repo root.
var codeownersLocations = []string{
	"CODEOWNERS",
	filepath.Join(".github", "CODEOWNERS"),
	filepath.Join("docs", "CODEOWNERS"),
}

type ownerRule struct {
	pattern string
	owner   string
}

// ParseCodeowners reads every CODEOWNERS file under the repo root and
// returns the pattern/owner rules in file order. The first owner listed on a
// line wins; a leading @ is stripped.
func ParseCodeowners(repoPath string) []ownerRule {
	var rules []ownerRule
	for _, rel := range codeownersLocations {
		f, err := os.Open(filepath.Join(repoPath, rel))
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.Fields(line)
			if len(parts) < 2 {
				continue
			}
			rules = append(rules, ownerRule{
				pattern: parts[0],
				owner:   strings.TrimPrefix(parts[1], "@"),
			})
		}
		_ = f.Close()
	}
	return rules
}

// gitBlameOwner returns the author-mail of the first blame record for the
// file, or "" on any failure.
func gitBlameOwner(ctx context.Context, repoPath, filePath string) string {
	ctx, cancel := context.WithTimeout(ctx, config.GitBlameTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "-C", repoPath, "blame", "--porcelain", filePath)
	out, err := cmd.Output()
	if err != nil {
		logrus.Debugf("git blame failed for %s: %s", filePath, err)
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "author-mail") {
			start := strings.IndexByte(line, '<')
			end := strings.IndexByte(line, '>')
			if start >= 0 && end > start {
				return line[start+1 : end]
			}
		}
	}
	return ""
}

// InferOwner resolves an owner for a test file path. CODEOWNERS matches win
// at 0.9 confidence, blame authorship at 0.6; anything else returns
// ("", 0.0). Matching is intentionally simple: direct containment, prefix,
// and *-wildcard prefixes.
func InferOwner(ctx context.Context, testFilePath, repoPath string) (string, float64) {
	if repoPath == "" {
		return "", 0.0
	}
	if _, err := os.Stat(repoPath); err != nil {
		return "", 0.0
	}

	for _, rule := range ParseCodeowners(repoPath) {
		pattern := strings.TrimPrefix(rule.pattern, "/")
		if pattern == "" {
			continue
		}
		if strings.Contains(testFilePath, pattern) || strings.HasPrefix(testFilePath, pattern) {
			return rule.owner, CodeownersConfidence
		}
		if strings.Contains(pattern, "*") {
			prefix := strings.ReplaceAll(pattern, "*", "")
			if strings.HasPrefix(testFilePath, prefix) {
				return rule.owner, CodeownersConfidence
			}
		}
	}

	if owner := gitBlameOwner(ctx, repoPath, testFilePath); owner != "" {
		return owner, BlameConfidence
	}
	return "", 0.0
}

// ResolverForRepo returns an owner-resolver bound to the repo path, or nil
// when no path is configured. The path comes from the VLLM_REPO_PATH
// environment variable when repoPath is empty.
func ResolverForRepo(repoPath string) func(ctx context.Context, testFile string) (string, float64) {
	if repoPath == "" {
		repoPath = os.Getenv(config.EnvRepoPath)
	}
	if repoPath == "" {
		return nil
	}
	return func(ctx context.Context, testFile string) (string, float64) {
		return InferOwner(ctx, testFile, repoPath)
	}
}
