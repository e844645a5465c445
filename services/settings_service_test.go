package services

import (
	"context"
	"testing"

	"qbanksync/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsFallBackToDefault(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()

	for _, def := range []bool{true, false} {
		settings, err := NewSettingsService(db, def).Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, def, settings.ListenEvents)
	}
}

func TestSettingsUpdate(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	svc := NewSettingsService(db, true)

	off := false
	settings, err := svc.Update(ctx, &UpdateSettingsRequest{ListenEvents: &off})
	require.NoError(t, err)
	assert.False(t, settings.ListenEvents)

	// Saving twice updates the stored row instead of inserting another.
	on := true
	settings, err = svc.Update(ctx, &UpdateSettingsRequest{ListenEvents: &on})
	require.NoError(t, err)
	assert.True(t, settings.ListenEvents)

	settings, err = svc.Update(ctx, &UpdateSettingsRequest{})
	require.NoError(t, err)
	assert.True(t, settings.ListenEvents)

	listen, err := NewSettingsService(db, false).ListenEvents(ctx)
	require.NoError(t, err)
	assert.True(t, listen, "stored value wins over the default")
}
