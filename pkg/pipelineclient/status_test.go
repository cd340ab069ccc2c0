package pipelineclient

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"knative.dev/pkg/apis"
	duckv1 "knative.dev/pkg/apis/duck/v1"

	pipelinev1 "github.com/tektoncd/pipeline/pkg/apis/pipeline/v1"
)

func runWith(reason string, status corev1.ConditionStatus, message string) *pipelinev1.PipelineRun {
	return &pipelinev1.PipelineRun{
		ObjectMeta: metav1.ObjectMeta{Name: "test-run"},
		Status: pipelinev1.PipelineRunStatus{
			Status: duckv1.Status{
				Conditions: duckv1.Conditions{
					{
						Type:    apis.ConditionSucceeded,
						Status:  status,
						Reason:  reason,
						Message: message,
					},
				},
			},
		},
	}
}

func TestClassifySucceeded(t *testing.T) {
	out := Classify(runWith("Succeeded", corev1.ConditionTrue, ""))
	assert.Equal(t, StatusSucceeded, out.Status)
}

func TestClassifyCompleted(t *testing.T) {
	out := Classify(runWith("Completed", corev1.ConditionTrue, ""))
	assert.Equal(t, StatusSucceeded, out.Status)
}

func TestClassifyCancelled(t *testing.T) {
	out := Classify(runWith("Cancelled", corev1.ConditionFalse, ""))
	assert.Equal(t, StatusCancelled, out.Status)
	assert.Contains(t, out.Message, "cancelled")
}

func TestClassifyExplicitFailure(t *testing.T) {
	out := Classify(runWith("PipelineRunTimeout", corev1.ConditionFalse, "ran too long"))
	assert.Equal(t, StatusFailed, out.Status)
	assert.Contains(t, out.Message, "ran too long")
}

func TestClassifyImplicitFailure(t *testing.T) {
	out := Classify(runWith("SomeUnlistedReason", corev1.ConditionFalse, "unexpected failure"))
	assert.Equal(t, StatusFailed, out.Status)
	assert.Contains(t, out.Message, "unexpected failure")
}

func TestClassifyStillRunning(t *testing.T) {
	out := Classify(runWith("Running", corev1.ConditionUnknown, ""))
	assert.Equal(t, StatusRunning, out.Status)
}

func TestClassifyNoConditionsStillRunning(t *testing.T) {
	run := &pipelinev1.PipelineRun{ObjectMeta: metav1.ObjectMeta{Name: "fresh"}}
	out := Classify(run)
	assert.Equal(t, StatusRunning, out.Status)
}

func TestResolveCACertFileFromPath(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "ca-*.pem")
	require.NoError(t, err)
	_, err = f.WriteString("-----BEGIN CERTIFICATE-----\nfake\n-----END CERTIFICATE-----\n")
	require.NoError(t, err)
	f.Close()

	path, err := resolveCACertFile(f.Name())
	require.NoError(t, err)
	assert.Equal(t, f.Name(), path)
}

func TestResolveCACertFileFromInlinePEM(t *testing.T) {
	pem := "-----BEGIN CERTIFICATE-----\nfake\n-----END CERTIFICATE-----\n"
	path, err := resolveCACertFile(pem)
	require.NoError(t, err)
	defer os.Remove(path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, pem, string(content))
}

func TestResolveCACertFileEmpty(t *testing.T) {
	path, err := resolveCACertFile("")
	require.NoError(t, err)
	assert.Equal(t, "", path)
}

func TestGetPipelineRunImageURLFromResults(t *testing.T) {
	run := &pipelinev1.PipelineRun{
		Status: pipelinev1.PipelineRunStatus{
			PipelineRunStatusFields: pipelinev1.PipelineRunStatusFields{
				Results: []pipelinev1.PipelineRunResult{
					{Name: "IMAGE_URL", Value: pipelinev1.ParamValue{Type: pipelinev1.ParamTypeString, StringVal: " quay.io/acme/index@sha256:abc "}},
				},
			},
		},
	}
	url, err := GetPipelineRunImageURL(run)
	require.NoError(t, err)
	assert.Equal(t, "quay.io/acme/index@sha256:abc", url)
}

func TestGetPipelineRunImageURLMissing(t *testing.T) {
	run := &pipelinev1.PipelineRun{ObjectMeta: metav1.ObjectMeta{Name: "no-results"}}
	_, err := GetPipelineRunImageURL(run)
	require.Error(t, err)
}
