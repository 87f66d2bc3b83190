package build

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event classifies what triggered the build.
type Event string

const (
	EventPush        Event = "push"
	EventPullRequest Event = "pull_request"
	EventAPI         Event = "api"
)

// Context describes the triggering commit a pipeline runs against. Deploy
// conditions are evaluated against it, and commit statuses are posted to it.
type Context struct {
	// RepoSlug is OWNER/REPO of the repository being built.
	RepoSlug string

	// Branch is the branch name for branch builds.
	Branch string

	// Tag is the tag name when the build was triggered by a tag push.
	Tag string

	// Commit is the full SHA being built.
	Commit string

	// Event is what triggered the build.
	Event Event

	// IsFork is true when the build runs against a fork of the upstream
	// repository.
	IsFork bool

	// BuildID uniquely identifies this run.
	BuildID string

	// Number is the sequence number assigned by the hosting CI, when known.
	Number string
}

// IsTagPush reports whether the build was triggered by pushing a tag.
func (c Context) IsTagPush() bool { return c.Tag != "" }

// Slug returns RepoSlug, or a placeholder for display.
func (c Context) Slug() string {
	if c.RepoSlug == "" {
		return "(unknown repo)"
	}
	return c.RepoSlug
}

// Environment variables consulted by Resolve, lowest precedence after
// explicit overrides.
const (
	EnvRepoSlug = "PLUMERUN_REPO_SLUG"
	EnvBranch   = "PLUMERUN_BRANCH"
	EnvTag      = "PLUMERUN_TAG"
	EnvCommit   = "PLUMERUN_COMMIT"
	EnvEvent    = "PLUMERUN_EVENT"
	EnvFork     = "PLUMERUN_FORK"
	EnvNumber   = "PLUMERUN_BUILD_NUMBER"
)

// Resolve fills a Context.
//
// Precedence per field:
//  1. the explicit override (CLI flags)
//  2. PLUMERUN_* environment variables
//  3. git interrogation of dir (bounded, best effort)
//
// A missing git binary or a non-repository dir is not an error; the
// corresponding fields just stay empty and conditions relying on them will
// not admit the build.
func Resolve(ctx context.Context, dir string, override Context) (Context, error) {
	if ctx == nil {
		return Context{}, fmt.Errorf("build: ctx is nil")
	}

	out := override
	if out.BuildID == "" {
		out.BuildID = uuid.NewString()
	}

	fillFromEnv(&out)
	fillFromGit(ctx, dir, &out)

	if out.Event == "" {
		if out.IsTagPush() {
			out.Event = EventPush
		} else {
			out.Event = EventAPI
		}
	}
	return out, nil
}

func fillFromEnv(c *Context) {
	// PLUMERUN_* wins; the CI_* names cover generic CI hosts.
	envStr := func(dst *string, keys ...string) {
		for _, key := range keys {
			if *dst != "" {
				return
			}
			*dst = strings.TrimSpace(os.Getenv(key))
		}
	}
	envStr(&c.RepoSlug, EnvRepoSlug, "CI_REPO_SLUG")
	envStr(&c.Branch, EnvBranch, "CI_BRANCH")
	envStr(&c.Tag, EnvTag, "CI_TAG")
	envStr(&c.Commit, EnvCommit, "CI_COMMIT")
	envStr(&c.Number, EnvNumber, "CI_BUILD_NUMBER")
	if c.Event == "" {
		c.Event = Event(strings.TrimSpace(os.Getenv(EnvEvent)))
	}
	if !c.IsFork {
		v := strings.ToLower(strings.TrimSpace(os.Getenv(EnvFork)))
		c.IsFork = v == "1" || v == "true" || v == "yes"
	}
}

func fillFromGit(ctx context.Context, dir string, c *Context) {
	if c.Commit != "" && c.Branch != "" && c.Tag != "" {
		return
	}
	if _, err := exec.LookPath("git"); err != nil {
		return
	}

	if c.Commit == "" {
		if sha, ok := gitOutput(ctx, dir, "rev-parse", "HEAD"); ok {
			c.Commit = sha
		}
	}
	if c.Branch == "" {
		if branch, ok := gitOutput(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD"); ok && branch != "HEAD" {
			c.Branch = branch
		}
	}
	if c.Tag == "" {
		if tag, ok := gitOutput(ctx, dir, "describe", "--tags", "--exact-match"); ok {
			c.Tag = tag
		}
	}
}

// gitOutput runs one git query with a bounded timeout so a hung credential
// helper or a huge repo never stalls pipeline startup.
func gitOutput(ctx context.Context, dir string, args ...string) (string, bool) {
	cmdCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(cmdCtx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	s := strings.TrimSpace(string(out))
	return s, s != ""
}
