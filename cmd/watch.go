package cmd

import (
	"errors"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/achilleasa/rtframe/renderer"
	"github.com/achilleasa/rtframe/scene/reader"
	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli"
)

// Render the scene and re-render it every time the scene file changes.
// Each change triggers a full rebuild of the device resources.
func RenderWatch(ctx *cli.Context) error {
	setupLogging(ctx)

	opts, err := renderOptions(ctx)
	if err != nil {
		return err
	}

	if ctx.NArg() != 1 {
		return errors.New("missing scene file argument")
	}
	sceneFile := ctx.Args().First()

	sc, err := reader.ReadScene(sceneFile)
	if err != nil {
		return err
	}

	r, err := renderer.NewDefault(sc, opts)
	if err != nil {
		return err
	}
	defer r.Close()

	numFrames, imgFile := ctx.Int("frames"), ctx.String("out")
	render := func() error {
		frame, err := renderFrames(r, numFrames)
		if err != nil {
			return err
		}
		return writeFrame(imgFile, frame)
	}
	if err = render(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the parent dir; editors often replace files instead of
	// writing them in place.
	if err = watcher.Add(filepath.Dir(sceneFile)); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	done := make(chan struct{})
	go func() {
		<-sigCh
		close(done)
	}()

	logger.Noticef("watching %s for changes; press ctrl+c to exit", sceneFile)
	return watchScene(watcher.Events, watcher.Errors, done, sceneFile, func() error {
		sc, err := reader.ReadScene(sceneFile)
		if err != nil {
			logger.Warningf("ignoring scene update: %v", err)
			return nil
		}
		if err = r.LoadScene(sc); err != nil {
			return err
		}
		return render()
	})
}

// Invoke reload for every write to sceneFile until done is closed. Errors
// returned by reload or reported by the watcher stop the loop.
func watchScene(events <-chan fsnotify.Event, errCh <-chan error, done <-chan struct{}, sceneFile string, reload func() error) error {
	target := filepath.Clean(sceneFile)
	for {
		select {
		case <-done:
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			logger.Noticef("%s changed; rebuilding scene", sceneFile)
			if err := reload(); err != nil {
				return err
			}
		case err, ok := <-errCh:
			if !ok {
				return nil
			}
			return err
		}
	}
}
