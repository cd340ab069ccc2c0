// Package iiberrors defines the typed error taxonomy used across the
// request lifecycle: validation failures the API rejects locally,
// authorization failures, not-found/gone responses, configuration
// failures that abort startup, scheduling failures, and build failures
// tagged with the driver phase in which they occurred.
package iiberrors

import "fmt"

// ValidationError indicates a client-supplied payload was rejected before
// any request row was persisted. Handlers translate it to HTTP 400.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// AuthorizationError indicates the caller lacks the privilege required for
// an option it requested (e.g. overwrite_from_index without a token).
// Handlers translate it to HTTP 403.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string { return e.Message }

func Authorizationf(format string, args ...interface{}) error {
	return &AuthorizationError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError indicates the requested resource does not exist.
// Handlers translate it to HTTP 404.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

func NotFoundf(format string, args ...interface{}) error {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// GoneError indicates the resource existed but has expired (e.g. request
// logs past their TTL). Handlers translate it to HTTP 410.
type GoneError struct {
	Message string
}

func (e *GoneError) Error() string { return e.Message }

func Gonef(format string, args ...interface{}) error {
	return &GoneError{Message: fmt.Sprintf(format, args...)}
}

// ConfigError indicates a boot-time configuration problem. The process
// must abort startup rather than serve traffic with an invalid configuration.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

func Configf(format string, args ...interface{}) error {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// SchedulingError indicates the worker queue backend was unreachable at
// dispatch time. The API handler that called Dispatch transitions every
// affected request to failed and responds 500.
type SchedulingError struct {
	Message string
	Cause   error
}

func (e *SchedulingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SchedulingError) Unwrap() error { return e.Cause }

func Scheduling(message string, cause error) error {
	return &SchedulingError{Message: message, Cause: cause}
}

// BuildPhase names the phase of the build driver (C8) in which a BuildError
// originated, so the compensation block can decide what to undo.
type BuildPhase string

const (
	PhasePrepareWorkspace BuildPhase = "prepare_workspace"
	PhaseResolveGit       BuildPhase = "resolve_git"
	PhaseFetchIndexDB     BuildPhase = "fetch_index_db"
	PhaseApplyMutation    BuildPhase = "apply_mutation"
	PhaseValidateBundles  BuildPhase = "validate_bundles"
	PhasePushIndexDB      BuildPhase = "push_index_db"
	PhaseWriteMetadata    BuildPhase = "write_metadata"
	PhaseCommitAndTrigger BuildPhase = "commit_and_trigger"
	PhaseWaitForPipeline  BuildPhase = "wait_for_pipeline"
	PhaseReplicateImage   BuildPhase = "replicate_image"
	PhaseFinalize         BuildPhase = "finalize"
)

// BuildError is raised by a build driver phase and caught at the phase
// boundary to drive compensation (spec section 4.8).
type BuildError struct {
	Phase   BuildPhase
	Message string
	Cause   error
}

func (e *BuildError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Phase, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
}

func (e *BuildError) Unwrap() error { return e.Cause }

func Build(phase BuildPhase, message string, cause error) error {
	return &BuildError{Phase: phase, Message: message, Cause: cause}
}
