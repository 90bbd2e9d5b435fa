package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"time"

	"github.com/achilleasa/rtframe/renderer"
	"github.com/achilleasa/rtframe/scene/reader"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

// Render a still frame. Successive frames with a static camera are
// accumulated into the output image.
func RenderFrame(ctx *cli.Context) error {
	setupLogging(ctx)

	opts, err := renderOptions(ctx)
	if err != nil {
		return err
	}

	if ctx.NArg() != 1 {
		return errors.New("missing scene file argument")
	}

	sc, err := reader.ReadScene(ctx.Args().First())
	if err != nil {
		return err
	}

	r, err := renderer.NewDefault(sc, opts)
	if err != nil {
		return err
	}
	defer r.Close()

	frame, err := renderFrames(r, ctx.Int("frames"))
	if err != nil {
		return err
	}
	return writeFrame(ctx.String("out"), frame)
}

// Render numFrames progressively refined frames and return the last one.
func renderFrames(r renderer.Renderer, numFrames int) (*image.RGBA, error) {
	if numFrames < 1 {
		numFrames = 1
	}

	var frame *image.RGBA
	var err error
	start := time.Now()
	for i := 0; i < numFrames; i++ {
		if frame, err = r.Render(); err != nil {
			return nil, err
		}
	}
	logger.Noticef("rendered %d frame(s) in %d ms", numFrames, time.Since(start).Nanoseconds()/1e6)

	// Display stats
	displayFrameStats(r.Stats())
	return frame, nil
}

// Encode frame as a PNG file.
func writeFrame(imgFile string, frame *image.RGBA) error {
	f, err := os.Create(imgFile)
	if err != nil {
		return err
	}
	defer f.Close()

	start := time.Now()
	if err = png.Encode(f, frame); err != nil {
		return fmt.Errorf("encoding %s: %w", imgFile, err)
	}
	logger.Noticef("wrote frame to %s in %d ms", imgFile, time.Since(start).Nanoseconds()/1e6)
	return nil
}

func frameStatsTable(stats renderer.FrameStats) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Worker", "Block height", "% of frame", "Render time"})
	for _, stat := range stats.Blocks {
		table.Append([]string{
			fmt.Sprintf("%d", stat.Worker),
			fmt.Sprintf("%d", stat.BlockH),
			fmt.Sprintf("%02.1f %%", stat.FramePercent),
			stat.RenderTime.String(),
		})
	}
	table.SetFooter([]string{
		fmt.Sprintf("frame %d (acc %d)", stats.FrameCount, stats.AccumulatedFrame),
		fmt.Sprintf("tonemap %s", stats.TonemapTime),
		fmt.Sprintf("dispatch %s", stats.DispatchTime),
		fmt.Sprintf("TOTAL %s", stats.RenderTime),
	})

	table.Render()
	return buf.String()
}

func displayFrameStats(stats renderer.FrameStats) {
	logger.Noticef("frame statistics\n%s", frameStatsTable(stats))
}
