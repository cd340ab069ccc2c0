package pipelineclient

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
	pipelinev1 "github.com/tektoncd/pipeline/pkg/apis/pipeline/v1"
	"knative.dev/pkg/apis"
)

// Status is the coarse outcome of a PipelineRun, per the taxonomy in spec
// section 4.4.
type Status int

const (
	StatusRunning Status = iota
	StatusSucceeded
	StatusCancelled
	StatusFailed
)

// Outcome pairs a Status with a human-readable message for the failure
// cases.
type Outcome struct {
	Status  Status
	Message string
}

var explicitFailureReasons = map[string]bool{
	"Failed":              true,
	"PipelineRunTimeout":  true,
	"CreateRunFailed":     true,
}

var successReasons = map[string]bool{
	"Succeeded": true,
	"Completed": true,
}

// Classify implements the pipeline status taxonomy from spec section 4.4:
// the first condition's reason and status drive the decision, falling
// through to "still running" for anything not explicitly matched.
func Classify(run *pipelinev1.PipelineRun) Outcome {
	cond := run.Status.GetCondition(apis.ConditionSucceeded)
	if cond == nil {
		return Outcome{Status: StatusRunning}
	}

	switch {
	case successReasons[cond.Reason]:
		return Outcome{Status: StatusSucceeded}
	case cond.Reason == "Cancelled":
		return Outcome{Status: StatusCancelled, Message: fmt.Sprintf("pipeline run %s was cancelled", run.Name)}
	case explicitFailureReasons[cond.Reason]:
		return Outcome{Status: StatusFailed, Message: fmt.Sprintf("pipeline run %s failed (%s): %s", run.Name, cond.Reason, cond.Message)}
	case cond.Status == corev1.ConditionFalse:
		return Outcome{Status: StatusFailed, Message: fmt.Sprintf("pipeline run %s failed: %s", run.Name, cond.Message)}
	default:
		return Outcome{Status: StatusRunning}
	}
}
