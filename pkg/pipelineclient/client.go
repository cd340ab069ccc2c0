// Package pipelineclient implements the remote build pipeline client
// (spec section 4.4, C4): finding, polling, and extracting results from
// Tekton PipelineRuns keyed by the commit SHA that triggered them.
package pipelineclient

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/rest"

	pipelinev1 "github.com/tektoncd/pipeline/pkg/apis/pipeline/v1"
	pipelineclientset "github.com/tektoncd/pipeline/pkg/client/clientset/versioned"

	"github.com/release-engineering/iib-sub001/pkg/iiberrors"
)

// commitShaLabel is the label a PipelineRun is expected to carry so it can
// be looked up by the commit it was triggered from.
const commitShaLabel = "iib.release-engineering/commit-sha"

// Client talks to the cluster's Tekton API. A single Client is meant to be
// constructed once per process and shared (spec section 4.4: "a single
// client is cached per process").
type Client struct {
	typed     pipelineclientset.Interface
	namespace string
}

// Config carries what's needed to build a rest.Config: a cluster URL, a
// bearer token, and a CA certificate supplied either as a filesystem path
// or as inline PEM (written to a temp file on first use, per spec section
// 4.4).
type Config struct {
	ClusterURL string
	Token      string
	CACert     string
	Namespace  string
}

// New builds a Client from Config, resolving the CA certificate source.
func New(cfg Config) (*Client, error) {
	caFile, err := resolveCACertFile(cfg.CACert)
	if err != nil {
		return nil, iiberrors.Configf("failed to resolve Konflux CA certificate: %v", err)
	}

	restConfig := &rest.Config{
		Host:        cfg.ClusterURL,
		BearerToken: cfg.Token,
		TLSClientConfig: rest.TLSClientConfig{
			CAFile: caFile,
		},
	}

	typed, err := pipelineclientset.NewForConfig(restConfig)
	if err != nil {
		return nil, iiberrors.Configf("failed to build pipeline client: %v", err)
	}

	return &Client{typed: typed, namespace: cfg.Namespace}, nil
}

// resolveCACertFile returns a path to a PEM file for value, which may
// already be a path on disk, or inline PEM content that needs writing to
// a temp file.
func resolveCACertFile(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if strings.HasPrefix(strings.TrimSpace(value), "-----BEGIN") {
		f, err := os.CreateTemp("", "iib-konflux-ca-*.pem")
		if err != nil {
			return "", err
		}
		defer f.Close()
		if _, err := f.WriteString(value); err != nil {
			return "", err
		}
		return f.Name(), nil
	}
	if _, err := os.Stat(value); err != nil {
		return "", fmt.Errorf("CA certificate path %q is not readable: %w", value, err)
	}
	return value, nil
}

// RetryConfig controls find_pipelinerun's backoff when the result list is
// empty (pipeline creation is asynchronous with respect to git push).
type RetryConfig struct {
	TotalAttempts int
	BaseDelay     time.Duration
	Multiplier    float64
}

// FindPipelineRun implements C4 find_pipelinerun: list runs labelled with
// commitSHA, retrying with exponential backoff solely because the list
// came back empty.
func (c *Client) FindPipelineRun(ctx context.Context, commitSHA string, retry RetryConfig) (*pipelinev1.PipelineRun, error) {
	selector := fmt.Sprintf("%s=%s", commitShaLabel, commitSHA)
	delay := retry.BaseDelay
	if delay <= 0 {
		delay = time.Second
	}
	mult := retry.Multiplier
	if mult <= 0 {
		mult = 1
	}
	attempts := retry.TotalAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		list, err := c.typed.TektonV1().PipelineRuns(c.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
		if err != nil {
			return nil, iiberrors.Build(iiberrors.PhaseWaitForPipeline, fmt.Sprintf("failed to list pipeline runs for commit %s", commitSHA), err)
		}
		if len(list.Items) > 0 {
			run := list.Items[0]
			return &run, nil
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * mult)
		}
	}
	return nil, iiberrors.Build(iiberrors.PhaseWaitForPipeline, fmt.Sprintf("no pipeline run found for commit %s after %d attempts", commitSHA, attempts), nil)
}

// WaitForPipelineCompletion implements C4 wait_for_pipeline_completion:
// poll every 30 seconds until Classify reports a terminal outcome or the
// timeout elapses.
func (c *Client) WaitForPipelineCompletion(ctx context.Context, name string, timeout time.Duration) (*pipelinev1.PipelineRun, error) {
	deadline := time.Now().Add(timeout)
	const pollInterval = 30 * time.Second

	for {
		run, err := c.typed.TektonV1().PipelineRuns(c.namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return nil, iiberrors.Build(iiberrors.PhaseWaitForPipeline, fmt.Sprintf("failed to fetch pipeline run %s", name), err)
		}

		outcome := Classify(run)
		switch outcome.Status {
		case StatusSucceeded:
			return run, nil
		case StatusCancelled, StatusFailed:
			return nil, iiberrors.Build(iiberrors.PhaseWaitForPipeline, outcome.Message, nil)
		}

		if time.Now().After(deadline) {
			return nil, iiberrors.Build(iiberrors.PhaseWaitForPipeline, fmt.Sprintf("pipeline run %s did not complete within %s", name, timeout), nil)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// GetPipelineRunImageURL implements C4 get_pipelinerun_image_url: read
// status.results[] (preferred) or status.pipelineResults[] (fallback),
// and find the IMAGE_URL entry.
func GetPipelineRunImageURL(run *pipelinev1.PipelineRun) (string, error) {
	for _, r := range run.Status.Results {
		if r.Name == "IMAGE_URL" {
			return strings.TrimSpace(r.Value.StringVal), nil
		}
	}
	//nolint:staticcheck // pipelineResults is the documented fallback field for older Tekton versions
	for _, r := range run.Status.PipelineResults {
		if r.Name == "IMAGE_URL" {
			return strings.TrimSpace(r.Value.StringVal), nil
		}
	}
	return "", iiberrors.Build(iiberrors.PhaseWaitForPipeline, fmt.Sprintf("pipeline run %s has no IMAGE_URL result", run.Name), nil)
}
