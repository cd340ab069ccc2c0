// Package gitcatalog implements the git driver (spec section 4.3): a
// single-branch shallow clone of an FBC catalog repository, commit/push or
// merge-request based mutation, and the revert-on-failure path used by
// build compensation. It shells out to the git CLI the way the CI tooling
// this project is descended from does (pkg/git), with exponential backoff
// around network operations.
package gitcatalog

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/release-engineering/iib-sub001/pkg/iiberrors"
)

// CredentialMap resolves a registry/namespace/repo pullspec to a git URL,
// and a git URL to a (token name, token) credential pair (spec section
// 4.3, preconditions). Lookup failures are ConfigErrors: the mapping is
// an operator-provided precondition, not something a request can fix.
type CredentialMap interface {
	GitURLFor(imageRepo string) (gitURL string, ok bool)
	TokenFor(gitURL string) (tokenName, token string, ok bool)
}

// MRDetails is returned by CreateMR and consumed by CloseMR.
type MRDetails struct {
	MRURL        string
	MRIID        int
	SourceBranch string
}

// Driver is the C3 git driver.
type Driver struct {
	creds  CredentialMap
	gitlab *GitLabClient
	logger *logrus.Entry
}

// New constructs a Driver. gitlab may be nil if MR operations are never
// exercised (direct-commit-only deployments).
func New(creds CredentialMap, gitlab *GitLabClient) *Driver {
	return &Driver{creds: creds, gitlab: gitlab, logger: logrus.WithField("component", "gitcatalog")}
}

func (d *Driver) resolve(imageRepo string) (gitURL, tokenName, token string, err error) {
	gitURL, ok := d.creds.GitURLFor(imageRepo)
	if !ok {
		return "", "", "", iiberrors.Configf("no git URL is configured for %q", imageRepo)
	}
	tokenName, token, ok = d.creds.TokenFor(gitURL)
	if !ok {
		return "", "", "", iiberrors.Configf("no GitLab token is configured for %q", gitURL)
	}
	return gitURL, tokenName, token, nil
}

func embedCredentials(gitURL, tokenName, token string) (string, error) {
	if !strings.HasPrefix(gitURL, "https://") {
		return "", fmt.Errorf("git URL %q must use https for inline credentials", gitURL)
	}
	return strings.Replace(gitURL, "https://", fmt.Sprintf("https://%s:%s@", tokenName, token), 1), nil
}

func runGit(logger *logrus.Entry, dir string, args ...string) ([]byte, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	logger.WithField("args", args).WithField("dir", dir).Debug("running git")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("git %s failed: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return out, nil
}

// retryGit retries a network-facing git invocation with exponential
// backoff, mirroring the retryCmd helper this package is descended from.
func retryGit(logger *logrus.Entry, dir string, attempts int, args ...string) ([]byte, error) {
	var out []byte
	var err error
	sleep := time.Second
	for i := 0; i < attempts; i++ {
		out, err = runGit(logger, dir, args...)
		if err == nil {
			return out, nil
		}
		logger.WithError(err).WithField("attempt", i+1).Debug("retrying git command")
		time.Sleep(sleep)
		sleep *= 2
	}
	return out, err
}

// branchExists runs git ls-remote --heads and fails fast if the branch is
// absent remotely (spec section 4.3).
func branchExists(logger *logrus.Entry, remote, branch string) (bool, error) {
	out, err := runGit(logger, "", "ls-remote", "--heads", remote, branch)
	if err != nil {
		return false, err
	}
	return len(strings.TrimSpace(string(out))) > 0, nil
}

// Clone implements C3 clone: single-branch, depth-1 clone with inline
// embedded credentials, logging the most recent commit.
func (d *Driver) Clone(imageRepo, branch, dest string) error {
	gitURL, tokenName, token, err := d.resolve(imageRepo)
	if err != nil {
		return err
	}

	ok, err := branchExists(d.logger, gitURL, branch)
	if err != nil {
		return iiberrors.Build(iiberrors.PhaseResolveGit, "failed to check remote branch", err)
	}
	if !ok {
		return iiberrors.Build(iiberrors.PhaseResolveGit, fmt.Sprintf("branch %q does not exist on %q", branch, gitURL), nil)
	}

	authedURL, err := embedCredentials(gitURL, tokenName, token)
	if err != nil {
		return iiberrors.Build(iiberrors.PhaseResolveGit, "failed to construct authenticated remote URL", err)
	}

	if _, err := retryGit(d.logger, "", 3, "clone", "--single-branch", "--branch", branch, "--depth", "1", authedURL, dest); err != nil {
		return iiberrors.Build(iiberrors.PhaseResolveGit, fmt.Sprintf("failed to clone %s", gitURL), err)
	}

	if _, err := os.Stat(filepath.Join(dest, "configs")); err != nil {
		return iiberrors.Build(iiberrors.PhaseResolveGit, "the configs subdirectory does not exist in the checked-out catalog", err)
	}

	sha, err := d.GetLastCommitSHA(dest)
	if err != nil {
		return iiberrors.Build(iiberrors.PhaseResolveGit, "failed to read HEAD commit after clone", err)
	}
	d.logger.WithField("commit", sha).Info("cloned catalog repository")
	return nil
}

// ConfigureUser implements C3 configure_user: sets the local git identity
// used for subsequent commits.
func (d *Driver) ConfigureUser(dest, name, email string) error {
	if _, err := runGit(d.logger, dest, "config", "user.name", name); err != nil {
		return iiberrors.Build(iiberrors.PhaseCommitAndTrigger, "failed to configure git user.name", err)
	}
	if _, err := runGit(d.logger, dest, "config", "user.email", email); err != nil {
		return iiberrors.Build(iiberrors.PhaseCommitAndTrigger, "failed to configure git user.email", err)
	}
	return nil
}

// CommitAndPush implements C3 commit_and_push: stage-all, commit, push to
// origin/branch directly (the overwrite_from_index path).
func (d *Driver) CommitAndPush(requestID int64, dest, imageRepo, branch, msg string) error {
	if msg == "" {
		msg = fmt.Sprintf("IIB: Update for request id %d (overwrite_from_index)", requestID)
	}
	if _, err := runGit(d.logger, dest, "add", "-A"); err != nil {
		return iiberrors.Build(iiberrors.PhaseCommitAndTrigger, "failed to stage changes", err)
	}
	if _, err := runGit(d.logger, dest, "commit", "-m", msg); err != nil {
		return iiberrors.Build(iiberrors.PhaseCommitAndTrigger, "failed to commit changes", err)
	}
	if _, err := retryGit(d.logger, dest, 3, "push", "origin", branch); err != nil {
		return iiberrors.Build(iiberrors.PhaseCommitAndTrigger, "failed to push to branch", err)
	}
	return nil
}

// CreateMR implements C3 create_mr: commits on a unique feature branch and
// opens a merge request against branch (the throw-away build path).
func (d *Driver) CreateMR(requestID int64, dest, imageRepo, branch, msg string) (*MRDetails, error) {
	if d.gitlab == nil {
		return nil, iiberrors.Configf("no GitLab client is configured; cannot open a merge request")
	}
	featureBranch := fmt.Sprintf("iib-%d-%s", requestID, uuid.NewString()[:8])
	if msg == "" {
		msg = fmt.Sprintf("IIB: Update for request id %d", requestID)
	}

	if _, err := runGit(d.logger, dest, "checkout", "-b", featureBranch); err != nil {
		return nil, iiberrors.Build(iiberrors.PhaseCommitAndTrigger, "failed to create feature branch", err)
	}
	if _, err := runGit(d.logger, dest, "add", "-A"); err != nil {
		return nil, iiberrors.Build(iiberrors.PhaseCommitAndTrigger, "failed to stage changes", err)
	}
	if _, err := runGit(d.logger, dest, "commit", "-m", msg); err != nil {
		return nil, iiberrors.Build(iiberrors.PhaseCommitAndTrigger, "failed to commit changes", err)
	}
	if _, err := retryGit(d.logger, dest, 3, "push", "origin", featureBranch); err != nil {
		return nil, iiberrors.Build(iiberrors.PhaseCommitAndTrigger, "failed to push feature branch", err)
	}

	mr, err := d.gitlab.OpenMergeRequest(imageRepo, featureBranch, branch, msg)
	if err != nil {
		return nil, iiberrors.Build(iiberrors.PhaseCommitAndTrigger, "failed to open merge request", err)
	}
	return &MRDetails{MRURL: mr.WebURL, MRIID: mr.IID, SourceBranch: featureBranch}, nil
}

// CloseMR implements C3 close_mr: closes the merge request without
// merging it. Best effort: callers log failures rather than propagate.
func (d *Driver) CloseMR(details *MRDetails, imageRepo string) error {
	if d.gitlab == nil || details == nil {
		return nil
	}
	return d.gitlab.CloseMergeRequest(imageRepo, details.MRIID)
}

// RevertLastCommit implements C3 revert_last_commit: clone fresh,
// reset --hard HEAD~1, force-push.
func (d *Driver) RevertLastCommit(requestID int64, imageRepo, branch string) error {
	dest, err := os.MkdirTemp("", fmt.Sprintf("iib-revert-%d-", requestID))
	if err != nil {
		return fmt.Errorf("creating revert workspace: %w", err)
	}
	defer os.RemoveAll(dest)

	if err := d.Clone(imageRepo, branch, dest); err != nil {
		return fmt.Errorf("cloning for revert: %w", err)
	}
	if _, err := runGit(d.logger, dest, "reset", "--hard", "HEAD~1"); err != nil {
		return fmt.Errorf("reset --hard HEAD~1: %w", err)
	}
	if _, err := retryGit(d.logger, dest, 3, "push", "--force", "origin", branch); err != nil {
		return fmt.Errorf("force-pushing revert: %w", err)
	}
	return nil
}

// GetLastCommitSHA implements C3 get_last_commit_sha.
func (d *Driver) GetLastCommitSHA(dest string) (string, error) {
	out, err := runGit(d.logger, dest, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
