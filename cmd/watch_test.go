package cmd

import (
	"errors"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
)

func TestWatchSceneReloadsOnWrite(t *testing.T) {
	events := make(chan fsnotify.Event, 4)
	errCh := make(chan error)
	done := make(chan struct{})

	events <- fsnotify.Event{Name: "scenes/other.yaml", Op: fsnotify.Write}
	events <- fsnotify.Event{Name: "scenes/box.yaml", Op: fsnotify.Chmod}
	events <- fsnotify.Event{Name: "scenes/./box.yaml", Op: fsnotify.Write}
	events <- fsnotify.Event{Name: "scenes/box.yaml", Op: fsnotify.Create}
	close(events)

	var reloads int
	err := watchScene(events, errCh, done, "scenes/box.yaml", func() error {
		reloads++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, reloads)
}

func TestWatchSceneStopsOnErrors(t *testing.T) {
	reloadErr := errors.New("device lost")
	events := make(chan fsnotify.Event, 1)
	events <- fsnotify.Event{Name: "box.yaml", Op: fsnotify.Write}
	err := watchScene(events, nil, nil, "box.yaml", func() error { return reloadErr })
	assert.ErrorIs(t, err, reloadErr)

	watchErr := errors.New("watch failed")
	errCh := make(chan error, 1)
	errCh <- watchErr
	err = watchScene(nil, errCh, nil, "box.yaml", func() error { return nil })
	assert.ErrorIs(t, err, watchErr)
}

func TestWatchSceneStopsWhenDone(t *testing.T) {
	done := make(chan struct{})
	close(done)
	err := watchScene(make(chan fsnotify.Event), make(chan error), done, "box.yaml", func() error {
		t.Fatal("unexpected reload")
		return nil
	})
	assert.NoError(t, err)
}
