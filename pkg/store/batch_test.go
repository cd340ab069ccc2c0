package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchDerivedStateInProgressWins(t *testing.T) {
	assert.Equal(t, "in_progress", BatchDerivedState([]string{"complete", "in_progress", "failed"}))
}

func TestBatchDerivedStateFailedWithoutInProgress(t *testing.T) {
	assert.Equal(t, "failed", BatchDerivedState([]string{"complete", "failed"}))
}

func TestBatchDerivedStateAllComplete(t *testing.T) {
	assert.Equal(t, "complete", BatchDerivedState([]string{"complete", "complete"}))
}

func TestBatchDerivedStateEmpty(t *testing.T) {
	assert.Equal(t, "complete", BatchDerivedState(nil))
}

func TestBatchIsTerminal(t *testing.T) {
	assert.False(t, BatchIsTerminal([]string{"in_progress", "complete"}))
	assert.True(t, BatchIsTerminal([]string{"complete", "failed"}))
}
