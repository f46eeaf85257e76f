package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/PhotoForge/internal/models"
)

func TestPlanRepository_CRUDAndVariantLookup(t *testing.T) {
	db, _ := newTestDB(t)
	repo := NewPlanRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, &models.Plan{VariantID: "v-100", Title: "Starter", Credits: 25, IsActive: true})
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, 25, created.Credits)

	got, err := repo.GetActiveByVariant(ctx, "v-100")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.ID)

	created.IsActive = false
	_, err = repo.Update(ctx, created)
	require.NoError(t, err)

	got, err = repo.GetActiveByVariant(ctx, "v-100")
	require.NoError(t, err)
	assert.Nil(t, got, "inactive plans are not matched")

	plans, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 1)

	require.NoError(t, repo.Delete(ctx, created.ID))
	got, err = repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
