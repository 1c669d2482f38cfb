package api_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/csic/platform/blockchain/indexer/internal/model"
)

func TestNewPagination_CapsPerPage(t *testing.T) {
	p := model.NewPagination(1, 500, 1000)
	require.Equal(t, 100, p.PerPage)
	require.Equal(t, 10, p.TotalPages)
	require.True(t, p.HasNext)
}

func TestNewPagination_LastPageHasNoNext(t *testing.T) {
	p := model.NewPagination(10, 100, 1000)
	require.False(t, p.HasNext)
}

func TestOffset_ClampsPageToOne(t *testing.T) {
	require.Equal(t, 0, model.Offset(0, 20))
	require.Equal(t, 20, model.Offset(2, 20))
}
