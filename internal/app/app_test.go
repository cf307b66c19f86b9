package app

import (
	"context"
	"errors"
	"testing"

	"github.com/dunamismax/pixelnorm/internal/config"
	"github.com/dunamismax/pixelnorm/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenJobStoreWithoutDSNUsesMemory(t *testing.T) {
	a := &App{Logger: zap.NewNop()}
	require.NoError(t, a.openJobStore(context.Background(), config.DatabaseConfig{}))
	assert.IsType(t, &store.MemoryJobStore{}, a.Jobs)
	assert.Empty(t, a.closers)
}

func TestCloseRunsInReverseOrder(t *testing.T) {
	var order []int
	boom := errors.New("boom")
	a := &App{Logger: zap.NewNop()}
	a.closers = []func(context.Context) error{
		func(context.Context) error { order = append(order, 1); return nil },
		func(context.Context) error { order = append(order, 2); return boom },
	}

	err := a.Close(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{2, 1}, order)
}
