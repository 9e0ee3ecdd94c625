//go:build integration

package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/parish-registry/pkg/storage"
	"github.com/platinummonkey/parish-registry/pkg/storage/storagetest"
)

func TestIntegration_PostgresParallelCheckAndStore(t *testing.T) {
	db := storagetest.NewPostgres(t, storage.MigrationSet{Component: MigrationComponent, Migrations: Migrations()})
	db.SetMaxOpenConns(16)
	g := NewGuard(NewSQLStore(db))
	ctx := context.Background()

	const n = 50
	var (
		wg    sync.WaitGroup
		fresh atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := g.CheckAndStore(ctx, 1, "Kshared", []byte("body"))
			if assert.NoError(t, err) && !res.Duplicate {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fresh.Load())

	require.NoError(t, g.RecordResponse(ctx, 1, "Kshared", 201))
	res, err := g.CheckAndStore(ctx, 1, "Kshared", nil)
	require.NoError(t, err)
	require.NotNil(t, res.ResponseCode)
	assert.Equal(t, 201, *res.ResponseCode)
}
