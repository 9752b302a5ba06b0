package table_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mirrorkv/mirrorkv/pkg/table"
)

func TestResultOk(t *testing.T) {
	require.True(t, table.OkResult("value").Ok())
	require.False(t, table.ErrResult(errors.New("boom")).Ok())
}

func TestNotSupportedf(t *testing.T) {
	err := table.NotSupportedf("GetTableDescriptor")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetTableDescriptor")
	require.Contains(t, err.Error(), "not supported")
}
