package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/mixtape-indexer/internal/chain"
	"github.com/JakeFAU/mixtape-indexer/internal/nft"
)

// Runner executes a command in dir and returns its combined output.
type Runner interface {
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// GitConfig locates the repository and where to push. Ignore lists extra
// .gitignore patterns on top of DefaultIgnore.
type GitConfig struct {
	Dir    string
	Remote string
	Branch string
	Ignore []string
}

// DefaultIgnore keeps SQLite sidecar files out of published commits.
var DefaultIgnore = []string{"*.db-wal", "*.db-shm", "*.db-journal"}

// Git commits the storage root and pushes it.
type Git struct {
	cfg    GitConfig
	runner Runner
	logger *zap.Logger
}

// NewGit builds a git publisher. runner may be nil to use ExecRunner.
func NewGit(cfg GitConfig, runner Runner, logger *zap.Logger) (*Git, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("git publish directory is required")
	}
	if cfg.Branch != "" && cfg.Remote == "" {
		return nil, fmt.Errorf("git branch %q set without a remote", cfg.Branch)
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Git{cfg: cfg, runner: runner, logger: logger.Named("git")}, nil
}

// CommitMessage is the message used for a chain's publish commit.
func CommitMessage(ch chain.Chain) string {
	return "Added mixtape for " + ch.Name
}

// Publish stages everything not ignored, commits, and pushes. A clean tree
// is not an error and skips the push.
func (g *Git) Publish(ctx context.Context, ch chain.Chain) error {
	if err := g.ensureIgnore(); err != nil {
		return fmt.Errorf("%w: write .gitignore: %w", nft.ErrPublish, err)
	}
	if out, err := g.git(ctx, "add", "-A"); err != nil {
		return g.fail("add", out, err)
	}
	out, err := g.git(ctx, "commit", "-m", CommitMessage(ch))
	if err != nil {
		if nothingToCommit(out) {
			g.logger.Info("nothing to publish", zap.String("chain", ch.Name))
			return nil
		}
		return g.fail("commit", out, err)
	}

	push := []string{"push"}
	if g.cfg.Remote != "" {
		push = append(push, g.cfg.Remote)
		if g.cfg.Branch != "" {
			push = append(push, g.cfg.Branch)
		}
	}
	if out, err := g.git(ctx, push...); err != nil {
		return g.fail("push", out, err)
	}
	g.logger.Info("published", zap.String("chain", ch.Name), zap.String("remote", g.cfg.Remote))
	return nil
}

// ensureIgnore appends any missing patterns to the .gitignore at the
// repository root, leaving lines already there untouched.
func (g *Git) ensureIgnore() error {
	path := filepath.Join(g.cfg.Dir, ".gitignore")
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	have := make(map[string]bool)
	for _, line := range strings.Split(string(existing), "\n") {
		have[strings.TrimSpace(line)] = true
	}
	var missing []string
	for _, p := range append(append([]string(nil), DefaultIgnore...), g.cfg.Ignore...) {
		if p = strings.TrimSpace(p); p != "" && !have[p] {
			have[p] = true
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	out := string(existing)
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	out += strings.Join(missing, "\n") + "\n"
	return os.WriteFile(path, []byte(out), 0o644)
}

func (g *Git) git(ctx context.Context, args ...string) ([]byte, error) {
	return g.runner.Run(ctx, g.cfg.Dir, "git", args...)
}

func (g *Git) fail(step string, out []byte, err error) error {
	return fmt.Errorf("%w: git %s: %w: %s", nft.ErrPublish, step, err, strings.TrimSpace(string(out)))
}

func nothingToCommit(out []byte) bool {
	s := string(out)
	return strings.Contains(s, "nothing to commit") || strings.Contains(s, "nothing added to commit")
}
