package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/release-engineering/iib-sub001/pkg/api"
	"github.com/release-engineering/iib-sub001/pkg/config"
)

func TestClassifySerialTakesPrecedenceOnOverwrite(t *testing.T) {
	rules := []config.QueueRule{
		{Kind: "SERIAL", User: "tbrady@DOMAIN.LOCAL", Queue: "Buccaneers"},
		{Kind: "", User: "tbrady@DOMAIN.LOCAL", Queue: "fallback"},
	}
	assert.Equal(t, "Buccaneers", classify(rules, "tbrady@DOMAIN.LOCAL", true))
}

func TestClassifyParallelTakesPrecedenceWithoutOverwrite(t *testing.T) {
	rules := []config.QueueRule{
		{Kind: "PARALLEL", User: "alice", Queue: "fast"},
		{Kind: "", User: "alice", Queue: "slow"},
	}
	assert.Equal(t, "fast", classify(rules, "alice", false))
}

func TestClassifyFallsBackToPlainRule(t *testing.T) {
	rules := []config.QueueRule{
		{Kind: "", User: "alice", Queue: "slow"},
	}
	assert.Equal(t, "slow", classify(rules, "alice", true))
}

func TestClassifyUnknownUserUsesDefaultQueue(t *testing.T) {
	assert.Equal(t, defaultQueue, classify(nil, "nobody", false))
}

type recordingRunner struct {
	mu  sync.Mutex
	ran []int64
	wg  *sync.WaitGroup
}

func (r *recordingRunner) Run(ctx context.Context, task Task) error {
	r.mu.Lock()
	r.ran = append(r.ran, task.RequestID)
	r.mu.Unlock()
	r.wg.Done()
	return nil
}

func TestDispatchRunsTaskOnClassifiedQueue(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	runner := &recordingRunner{wg: &wg}

	rules := []config.QueueRule{{Kind: "SERIAL", User: "tbrady@DOMAIN.LOCAL", Queue: "Buccaneers"}}
	d := New(rules, 1, runner)
	defer d.Shutdown()

	err := d.Dispatch(context.Background(), api.TypeAdd, 42, "tbrady@DOMAIN.LOCAL", true, map[string]interface{}{"cnr_token": "*****"}, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task was never picked up")
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []int64{42}, runner.ran)
}

func TestDispatchUnknownUserUsesDefaultQueue(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	runner := &recordingRunner{wg: &wg}

	d := New(nil, 1, runner)
	defer d.Shutdown()

	err := d.Dispatch(context.Background(), api.TypeAdd, 7, "nobody", false, nil, nil)
	require.NoError(t, err)

	wg.Wait()
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, []int64{7}, runner.ran)
}
