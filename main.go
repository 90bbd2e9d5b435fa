package main

import (
	"os"

	"github.com/achilleasa/rtframe/cmd"
	"github.com/urfave/cli"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	renderFlags := []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "TOML file with render settings; flags override its values",
		},
		cli.IntFlag{
			Name:  "width",
			Value: 512,
			Usage: "frame width",
		},
		cli.IntFlag{
			Name:  "height",
			Value: 512,
			Usage: "frame height",
		},
		cli.IntFlag{
			Name:  "spp",
			Value: 8,
			Usage: "samples per pixel and frame",
		},
		cli.IntFlag{
			Name:  "max-path-length",
			Value: 48,
			Usage: "max number of path segments",
		},
		cli.IntFlag{
			Name:  "frames",
			Value: 1,
			Usage: "number of frames to accumulate before writing the image",
		},
		cli.Float64Flag{
			Name:  "exposure",
			Value: 1.0,
			Usage: "camera exposure for tone-mapping",
		},
		cli.IntFlag{
			Name:  "instance-multiplier",
			Value: 1,
			Usage: "hit group records reserved per scene object",
		},
		cli.IntFlag{
			Name:  "workers",
			Usage: "number of device workers (0 = number of CPUs)",
		},
		cli.StringFlag{
			Name:  "out, o",
			Value: "frame.png",
			Usage: "image filename for the rendered frame",
		},
	}

	app := cli.NewApp()
	app.Name = "rtframe"
	app.Usage = "render scenes with a hardware-style ray tracing pipeline"
	app.Version = "0.0.1"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "list-devices",
			Usage: "list available ray tracing devices",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "workers",
					Usage: "number of device workers (0 = number of CPUs)",
				},
			},
			Action: cmd.ListDevices,
		},
		{
			Name:      "scene",
			Usage:     "display scene information",
			ArgsUsage: "scene.yaml",
			Action:    cmd.ShowSceneInfo,
		},
		{
			Name:  "render",
			Usage: "render scene",
			Subcommands: []cli.Command{
				{
					Name:        "frame",
					Usage:       "render single frame",
					Description: `Render a single frame and write it as a PNG image.`,
					ArgsUsage:   "scene.yaml",
					Flags:       renderFlags,
					Action:      cmd.RenderFrame,
				},
				{
					Name:  "watch",
					Usage: "re-render the scene whenever its file changes",
					Description: `
Render a frame, then watch the scene file. Every change rebuilds all device
resources (geometry, acceleration structures and shader tables) and writes
a new frame.`,
					ArgsUsage: "scene.yaml",
					Flags:     renderFlags,
					Action:    cmd.RenderWatch,
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		cmd.Fatal(err)
	}
}
