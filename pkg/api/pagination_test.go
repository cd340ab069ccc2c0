package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampPerPage(t *testing.T) {
	assert.Equal(t, 20, ClampPerPage(0, 20))
	assert.Equal(t, 20, ClampPerPage(-5, 20))
	assert.Equal(t, 20, ClampPerPage(100, 20))
	assert.Equal(t, 10, ClampPerPage(10, 20))
}

func TestBuildPaginationMetaMiddlePage(t *testing.T) {
	meta := BuildPaginationMeta("/api/v1/builds", 2, 10, 25, nil)
	assert.Equal(t, 2, meta.Page)
	assert.Equal(t, 3, meta.Pages)
	assert.Equal(t, 25, meta.Total)
	require := assert.New(t)
	require.NotNil(meta.Next)
	require.NotNil(meta.Previous)
}

func TestBuildPaginationMetaFirstPage(t *testing.T) {
	meta := BuildPaginationMeta("/api/v1/builds", 1, 10, 25, nil)
	assert.Nil(t, meta.Previous)
	assert.NotNil(t, meta.Next)
}

func TestBuildPaginationMetaLastPage(t *testing.T) {
	meta := BuildPaginationMeta("/api/v1/builds", 3, 10, 25, nil)
	assert.Nil(t, meta.Next)
	assert.NotNil(t, meta.Previous)
}

func TestBuildPaginationMetaEmptyResultSet(t *testing.T) {
	meta := BuildPaginationMeta("/api/v1/builds", 1, 10, 0, nil)
	assert.Equal(t, 1, meta.Pages)
	assert.Nil(t, meta.Next)
	assert.Nil(t, meta.Previous)
}
