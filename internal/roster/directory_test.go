package roster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/roadside-dispatch/internal/apperr"
	"github.com/example/roadside-dispatch/internal/models"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"whatsapp:+49 170 1234-567": "+491701234567",
		"+491701234567":             "+491701234567",
		"0049 (170) 1234567":        "+491701234567",
		"  ":                        "",
		"tel:0401234":               "0401234",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePhone(in), in)
	}
}

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory()

	_, err := dir.Upsert(ctx, models.Driver{})
	assert.True(t, apperr.IsValidation(err))

	_, err = dir.Upsert(ctx, models.Driver{ID: "DRV1", Name: "Max", Phone: "+49 170 1234567", ManuallyOnline: true})
	require.NoError(t, err)
	_, err = dir.Upsert(ctx, models.Driver{ID: "DRV2", Name: "Old", Phone: "+49 170 1234567", Archived: true})
	require.NoError(t, err)

	all, err := dir.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "DRV1", all[0].ID)
	assert.False(t, all[0].Updated.IsZero())

	all, err = dir.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	d, err := dir.FindByPhone(ctx, "whatsapp:+491701234567")
	require.NoError(t, err)
	assert.Equal(t, "DRV1", d.ID, "archived drivers never answer messages")

	_, err = dir.FindByPhone(ctx, "+4900000")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, dir.SetOnline(ctx, "DRV1", false))
	d, err = dir.Get(ctx, "DRV1")
	require.NoError(t, err)
	assert.False(t, d.ManuallyOnline)

	assert.ErrorIs(t, dir.SetOnline(ctx, "DRV9", true), apperr.ErrNotFound)
}
