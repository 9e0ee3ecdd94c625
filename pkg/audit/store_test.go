package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/parish-registry/pkg/storage"
	"github.com/platinummonkey/parish-registry/pkg/storage/storagetest"
)

func TestStore_InsertErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantForked bool
	}{
		{"unique violation is a fork", &pq.Error{Code: "23505"}, true},
		{"other failures are unavailable only", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectQuery("INSERT INTO audit_log").WillReturnError(tt.err)

			hash := "h"
			e := &Entry{Action: "membership.grant", EntityType: "membership", Timestamp: time.Now(), Hash: &hash}
			err = NewStore(db).insert(context.Background(), db, e)

			assert.ErrorIs(t, err, storage.ErrUnavailable)
			assert.Equal(t, tt.wantForked, errors.Is(err, ErrChainForked))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_InsertRejectsForkOnSQLite(t *testing.T) {
	db := storagetest.NewSQLite(t, storage.MigrationSet{Component: MigrationComponent, Migrations: Migrations()})
	store := NewStore(db)
	ctx := context.Background()
	tenant := int64(3)

	first, second := "h1", "h2"
	e := &Entry{TenantID: &tenant, Action: "membership.grant", EntityType: "membership", Timestamp: time.Now().UTC(), Hash: &first}
	require.NoError(t, store.insert(ctx, db, e))

	// a second head for the same lineage
	fork := &Entry{TenantID: &tenant, Action: "membership.revoke", EntityType: "membership", Timestamp: time.Now().UTC(), Hash: &second}
	err := store.insert(ctx, db, fork)
	assert.ErrorIs(t, err, ErrChainForked)
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	// other lineages are unaffected
	global := &Entry{Action: "role_permission.grant", EntityType: "role_permission", Timestamp: time.Now().UTC(), Hash: &second}
	assert.NoError(t, store.insert(ctx, db, global))
}
