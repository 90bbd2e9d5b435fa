package cmd

import (
	"os"

	"github.com/achilleasa/rtframe/log"
	"github.com/urfave/cli"
)

var logger = log.New("rtframe")

func setupLogging(ctx *cli.Context) {
	if ctx.GlobalBool("v") {
		log.SetLevel(log.Info)
	}

	if ctx.GlobalBool("vv") {
		log.SetLevel(log.Debug)
	}
}

// Log err and exit with a non-zero status.
func Fatal(err error) {
	logger.Error(err)
	os.Exit(1)
}
