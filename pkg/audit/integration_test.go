//go:build integration

package audit

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/parish-registry/pkg/storage"
	"github.com/platinummonkey/parish-registry/pkg/storage/storagetest"
)

// Separate Chain values share no in-process lock, like separate processes;
// only the advisory lock keeps their appends linear.
func TestIntegration_PostgresConcurrentAppendsAcrossChains(t *testing.T) {
	db := storagetest.NewPostgres(t, storage.MigrationSet{Component: MigrationComponent, Migrations: Migrations()})
	db.SetMaxOpenConns(16)
	ctx := context.Background()
	tenant := ptr(int64(1))

	const writers, perWriter = 4, 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		chain := NewChain(db)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				err := storage.WithTx(ctx, db, func(tx *sql.Tx) error {
					_, err := chain.LogTx(ctx, tx, record(tenant, "sacrament.create", map[string]int{"i": i}))
					return err
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	report, err := NewVerifier(NewChain(db), nil, nil).VerifyLineage(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, report.Checked)
	assert.True(t, report.Intact(), "%+v", report.Violations)
}
