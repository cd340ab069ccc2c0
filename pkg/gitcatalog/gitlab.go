package gitcatalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// MergeRequest is the subset of the GitLab merge request resource the
// driver needs back from an open call.
type MergeRequest struct {
	IID    int    `json:"iid"`
	WebURL string `json:"web_url"`
}

// GitLabClient is a minimal GitLab REST API v4 client covering only merge
// request open/close, the two operations C3 needs beyond plain git. It
// uses the same retrying HTTP client idiom as the rest of this project's
// external service calls.
type GitLabClient struct {
	baseURL    string
	token      string
	httpClient *retryablehttp.Client
	logger     *logrus.Entry
}

// NewGitLabClient builds a client against a GitLab instance's API root
// (e.g. "https://gitlab.example.com"), authenticating with a personal or
// project access token.
func NewGitLabClient(baseURL, token string) *GitLabClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	return &GitLabClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: rc,
		logger:     logrus.WithField("component", "gitlab"),
	}
}

func projectPath(imageRepo string) string {
	return url.PathEscape(imageRepo)
}

func (c *GitLabClient) do(method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gitlab API %s %s returned %d: %s", method, path, resp.StatusCode, string(b))
	}
	return resp, nil
}

// OpenMergeRequest opens a merge request from sourceBranch onto
// targetBranch in the project identified by imageRepo (the repo's
// namespace/name, URL-escaped as its GitLab project path).
func (c *GitLabClient) OpenMergeRequest(imageRepo, sourceBranch, targetBranch, title string) (*MergeRequest, error) {
	path := fmt.Sprintf("/api/v4/projects/%s/merge_requests", projectPath(imageRepo))
	payload := map[string]string{
		"source_branch": sourceBranch,
		"target_branch": targetBranch,
		"title":         title,
	}

	resp, err := c.do(http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var mr MergeRequest
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("decoding merge request response: %w", err)
	}
	c.logger.WithField("mr_iid", mr.IID).Info("opened merge request")
	return &mr, nil
}

// CloseMergeRequest transitions a merge request to closed without merging
// it, used by build compensation when a throw-away build fails after the
// MR has already been opened.
func (c *GitLabClient) CloseMergeRequest(imageRepo string, iid int) error {
	path := fmt.Sprintf("/api/v4/projects/%s/merge_requests/%d", projectPath(imageRepo), iid)
	resp, err := c.do(http.MethodPut, path, map[string]string{"state_event": "close"})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.logger.WithField("mr_iid", iid).Info("closed merge request")
	return nil
}
