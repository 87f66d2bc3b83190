package deploy

import (
	"fmt"
	"strings"

	"plumerun/internal/build"
	"plumerun/internal/manifest"
)

// Admits decides whether a deploy condition allows publishing for this build
// context. The returned reason explains a refusal; a skipped deploy is a
// normal outcome, not an error.
//
// The guarantees here are the deployment gate of the whole pipeline: ordinary
// branch pushes, pull requests, and forks never publish, and a configured
// repo slug pins publication to the named upstream repository.
func Admits(cond manifest.Condition, bc build.Context) (bool, string) {
	if bc.Event == build.EventPullRequest {
		return false, "pull request builds never deploy"
	}

	if bc.IsFork && !cond.AllowForks {
		return false, "fork builds do not deploy"
	}

	if cond.Repo != "" {
		if bc.RepoSlug == "" {
			return false, fmt.Sprintf("repository unknown; deploy is pinned to %s", cond.Repo)
		}
		if !strings.EqualFold(cond.Repo, bc.RepoSlug) {
			return false, fmt.Sprintf("repository %s is not %s", bc.RepoSlug, cond.Repo)
		}
	}

	if cond.Tags && !bc.IsTagPush() {
		return false, "not a tag push"
	}

	if cond.Branch != "" && !bc.IsTagPush() && bc.Branch != cond.Branch {
		return false, fmt.Sprintf("branch %s is not %s", bc.Branch, cond.Branch)
	}

	return true, ""
}
