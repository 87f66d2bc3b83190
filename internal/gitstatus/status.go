package gitstatus

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v81/github"
)

// State is a commit status state as GitHub understands it.
type State string

const (
	StatePending State = "pending"
	StateSuccess State = "success"
	StateFailure State = "failure"
	StateError   State = "error"
)

// Reporter posts commit statuses for the commit a pipeline runs against.
// Post failures are reported to the caller but are expected to be treated as
// partial results, not pipeline failures.
type Reporter struct {
	client *Client

	// Context is the status context string shown next to the commit.
	Context string
}

func NewReporter(client *Client, statusContext string) (*Reporter, error) {
	if client == nil {
		return nil, fmt.Errorf("gitstatus: client is nil")
	}
	if statusContext == "" {
		statusContext = "plumerun"
	}
	return &Reporter{client: client, Context: statusContext}, nil
}

// Post sets the commit status on slug@commit.
func (r *Reporter) Post(ctx context.Context, slug, commit string, state State, description string) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("gitstatus: reporter is not initialized")
	}
	owner, repo, err := splitSlug(slug)
	if err != nil {
		return err
	}
	if commit == "" {
		return fmt.Errorf("gitstatus: commit SHA is empty")
	}

	// GitHub caps status descriptions at 140 characters.
	if len(description) > 140 {
		description = description[:137] + "..."
	}

	status := github.RepoStatus{
		State:       github.Ptr(string(state)),
		Context:     github.Ptr(r.Context),
		Description: github.Ptr(description),
	}
	_, _, err = r.client.Client.Repositories.CreateStatus(ctx, owner, repo, commit, status)
	if err != nil {
		return fmt.Errorf("post %s status for %s@%.8s: %w", state, slug, commit, err)
	}
	return nil
}

func splitSlug(slug string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(slug, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("gitstatus: invalid repository slug %q (want OWNER/REPO)", slug)
	}
	return owner, repo, nil
}
