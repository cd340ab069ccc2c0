package builder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	pipelinev1 "github.com/tektoncd/pipeline/pkg/apis/pipeline/v1"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/release-engineering/iib-sub001/pkg/api"
	"github.com/release-engineering/iib-sub001/pkg/dispatcher"
	"github.com/release-engineering/iib-sub001/pkg/gitcatalog"
	"github.com/release-engineering/iib-sub001/pkg/notify"
	"github.com/release-engineering/iib-sub001/pkg/pipelineclient"
	"github.com/release-engineering/iib-sub001/pkg/registryclient"
	"github.com/release-engineering/iib-sub001/pkg/store"
)

type fakeStore struct {
	states  []string
	reasons []string
	patches []map[string]interface{}
}

func (f *fakeStore) AddState(ctx context.Context, requestID int64, stateName, reason string) error {
	f.states = append(f.states, stateName)
	f.reasons = append(f.reasons, reason)
	return nil
}

func (f *fakeStore) UpdateRequest(ctx context.Context, id int64, patch map[string]interface{}) error {
	f.patches = append(f.patches, patch)
	return nil
}

func (f *fakeStore) GetRequest(ctx context.Context, id int64, verbose bool) (map[string]interface{}, error) {
	state := "in_progress"
	if len(f.states) > 0 {
		state = f.states[len(f.states)-1]
	}
	return map[string]interface{}{"id": id, "state": state}, nil
}

func (f *fakeStore) BatchSnapshot(ctx context.Context, batchID int64) ([]store.BatchRequestInfo, map[string]interface{}, error) {
	return nil, nil, nil
}

type fakeRegistry struct {
	pulled  []string
	pushed  []string
	digests map[string]string
	copies  [][2]string
}

func (f *fakeRegistry) Pull(ctx context.Context, ref, baseDir string, auth registryclient.Auth) (string, error) {
	f.pulled = append(f.pulled, ref)
	dir, err := os.MkdirTemp(baseDir, "artifact-")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "index.db"), []byte("fake-index-db"), 0o644); err != nil {
		return "", err
	}
	return dir, nil
}

func (f *fakeRegistry) Push(ctx context.Context, ref, localPath, mediaType string, annotations map[string]string, auth registryclient.Auth) error {
	f.pushed = append(f.pushed, ref)
	return nil
}

func (f *fakeRegistry) Digest(ctx context.Context, ref string, auth registryclient.Auth) (string, error) {
	if d, ok := f.digests[ref]; ok {
		return d, nil
	}
	return "sha256:deadbeef", nil
}

func (f *fakeRegistry) Copy(ctx context.Context, src, dst string, auth registryclient.Auth) error {
	f.copies = append(f.copies, [2]string{src, dst})
	return nil
}

type fakeGit struct {
	cloned          bool
	committedDirect bool
	createdMR       bool
	closedMR        bool
	reverted        bool
}

func (f *fakeGit) Clone(imageRepo, branch, dest string) error {
	f.cloned = true
	if err := os.MkdirAll(filepath.Join(dest, "configs"), 0o755); err != nil {
		return err
	}
	return nil
}

func (f *fakeGit) ConfigureUser(dest, name, email string) error { return nil }

func (f *fakeGit) CommitAndPush(requestID int64, dest, imageRepo, branch, msg string) error {
	f.committedDirect = true
	return nil
}

func (f *fakeGit) CreateMR(requestID int64, dest, imageRepo, branch, msg string) (*gitcatalog.MRDetails, error) {
	f.createdMR = true
	return &gitcatalog.MRDetails{MRURL: "https://git.example.com/mr/1", MRIID: 1, SourceBranch: "iib-1-feature"}, nil
}

func (f *fakeGit) CloseMR(details *gitcatalog.MRDetails, imageRepo string) error {
	f.closedMR = true
	return nil
}

func (f *fakeGit) RevertLastCommit(requestID int64, imageRepo, branch string) error {
	f.reverted = true
	return nil
}

func (f *fakeGit) GetLastCommitSHA(dest string) (string, error) {
	return "abc123", nil
}

type fakePipeline struct {
	run *pipelinev1.PipelineRun
	err error
}

func (f *fakePipeline) FindPipelineRun(ctx context.Context, commitSHA string, retry pipelineclient.RetryConfig) (*pipelinev1.PipelineRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.run, nil
}

func (f *fakePipeline) WaitForPipelineCompletion(ctx context.Context, name string, timeout time.Duration) (*pipelinev1.PipelineRun, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.run, nil
}

type fakeBus struct {
	requestEvents int
	batchEvents   []notify.BatchTransition
}

func (f *fakeBus) EmitRequestTransition(ctx context.Context, requestJSON map[string]interface{}) {
	f.requestEvents++
}

func (f *fakeBus) EmitBatchTransition(ctx context.Context, t notify.BatchTransition) {
	f.batchEvents = append(f.batchEvents, t)
}

type fakeOpm struct {
	mutated   bool
	validated []string
}

func (f *fakeOpm) ApplyMutation(ctx context.Context, req MutationRequest) error {
	f.mutated = true
	return nil
}

func (f *fakeOpm) ValidateBundle(ctx context.Context, pullspec string) error {
	f.validated = append(f.validated, pullspec)
	return nil
}

func (f *fakeOpm) Version(ctx context.Context) (string, error) {
	return "opm version 1.46.0", nil
}

func succeededRun(name string) *pipelinev1.PipelineRun {
	run := &pipelinev1.PipelineRun{ObjectMeta: metav1.ObjectMeta{Name: name}}
	run.Status.Results = []pipelinev1.PipelineRunResult{
		{Name: "IMAGE_URL", Value: pipelinev1.ParamValue{Type: pipelinev1.ParamTypeString, StringVal: "quay.io/acme-release/built@sha256:cafef00d"}},
	}
	return run
}

func testConfig() Config {
	return Config{
		BundleWorkerPool:           2,
		RetryConfig:                pipelineclient.RetryConfig{TotalAttempts: 1, BaseDelay: time.Millisecond},
		PipelineTimeout:            time.Second,
		IndexDBArtifactRegistry:    "quay.io/acme-cache",
		IndexDBArtifactTemplate:    "{registry}/{image_name}",
		IndexDBArtifactTagTemplate: "{image_name}-{tag}",
		Registry:                   "quay.io/acme-release",
		ImagePushTemplate:          "{registry}/{image_name}",
		CommitterName:              "iib-bot",
		CommitterEmail:             "iib-bot@example.com",
	}
}

func TestRunAddRequestThrowAwayMRPathCompletes(t *testing.T) {
	st := &fakeStore{}
	reg := &fakeRegistry{}
	git := &fakeGit{}
	pipe := &fakePipeline{run: succeededRun("pr-1")}
	bus := &fakeBus{}
	opm := &fakeOpm{}

	b := New(st, reg, git, pipe, bus, nil, opm, nil, testConfig())

	task := dispatcher.Task{
		ReqType:            api.TypeAdd,
		RequestID:          1,
		User:               "alice",
		OverwriteFromIndex: false,
		RedactedArgs: map[string]interface{}{
			"from_index":  "quay.io/acme/my-index:v4.15",
			"bundles":     []interface{}{"quay.io/acme/my-bundle:1.0.0"},
			"build_tags":  []interface{}{"extra-tag"},
			"add_arches":  []interface{}{"amd64"},
			"binary_image": "quay.io/acme/binary:v4.15",
		},
	}

	err := b.Run(context.Background(), task)
	require.NoError(t, err)

	assert.True(t, git.cloned)
	assert.True(t, git.createdMR)
	assert.False(t, git.committedDirect)
	assert.True(t, git.closedMR)
	assert.True(t, opm.mutated)
	assert.Equal(t, []string{"quay.io/acme/my-bundle:1.0.0"}, opm.validated)
	assert.Equal(t, "complete", st.states[len(st.states)-1])
	assert.Len(t, reg.copies, 2) // request id tag + the one extra build tag
	assert.False(t, git.reverted)
}

func TestRunOverwriteFromIndexFailureCompensates(t *testing.T) {
	st := &fakeStore{}
	reg := &fakeRegistry{}
	git := &fakeGit{}
	pipe := &fakePipeline{err: assertErr("pipeline never produced a run")}
	bus := &fakeBus{}
	opm := &fakeOpm{}

	b := New(st, reg, git, pipe, bus, nil, opm, nil, testConfig())

	task := dispatcher.Task{
		ReqType:            api.TypeAdd,
		RequestID:          2,
		User:               "alice",
		OverwriteFromIndex: true,
		RedactedArgs: map[string]interface{}{
			"from_index": "quay.io/acme/my-index:v4.15",
			"bundles":    []interface{}{"quay.io/acme/my-bundle:1.0.0"},
		},
	}

	err := b.Run(context.Background(), task)
	require.Error(t, err)

	assert.True(t, git.committedDirect)
	assert.True(t, git.reverted)
	assert.False(t, git.closedMR)
	assert.Equal(t, "failed", st.states[len(st.states)-1])
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }
