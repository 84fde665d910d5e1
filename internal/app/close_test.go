package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/mixtape-indexer/internal/config"
)

func TestCloseReverseOrderAndErrors(t *testing.T) {
	a := &App{Logger: zap.NewNop()}
	var order []string
	record := func(name string, err error) func(context.Context) error {
		return func(context.Context) error {
			order = append(order, name)
			return err
		}
	}
	a.addCloser("tracer", record("tracer", nil))
	a.addCloser("postgres", record("postgres", errors.New("pool busy")))
	a.addCloser("pubsub", record("pubsub", errors.New("topic stopped")))

	err := a.Close(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"pubsub", "postgres", "tracer"}, order)
	assert.Contains(t, err.Error(), "close pubsub: topic stopped")
	assert.Contains(t, err.Error(), "close postgres: pool busy")

	assert.NoError(t, a.Close(context.Background()))
	assert.Len(t, order, 3)
}

func TestImageIgnore(t *testing.T) {
	t.Parallel()

	root := filepath.Join("/srv", "mixtape")
	cfg := func(backend, imagesRoot string, images bool) config.Config {
		var c config.Config
		c.Storage.Root = root
		c.Storage.Backend = backend
		c.Storage.ImagesRoot = imagesRoot
		c.Storage.Images = images
		return c
	}

	assert.Equal(t, []string{"/images/"}, imageIgnore(cfg("local", "", true)))
	assert.Equal(t, []string{"/media/png/"}, imageIgnore(cfg("local", filepath.Join(root, "media", "png"), true)))
	assert.Nil(t, imageIgnore(cfg("local", filepath.Join("/srv", "images"), true)))
	assert.Nil(t, imageIgnore(cfg("local", "", false)))
	assert.Nil(t, imageIgnore(cfg("gcs", "", true)))
	assert.Nil(t, imageIgnore(cfg("memory", "", true)))
}
