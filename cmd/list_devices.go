package cmd

import (
	"bytes"
	"fmt"

	"github.com/achilleasa/rtframe/tracer/device"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

// List the ray tracing device and its limits.
func ListDevices(ctx *cli.Context) error {
	setupLogging(ctx)

	devCtx := device.NewContext(device.Options{Workers: ctx.Int("workers")})
	defer devCtx.Close()

	logger.Noticef("available devices:\n%s", deviceInfoTable(devCtx.Info()))
	return nil
}

func deviceInfoTable(info device.Info) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Device", "Workers", "Identifier", "Record align", "Table align", "Placement align", "Max recursion"})
	table.Append([]string{
		info.Name,
		fmt.Sprintf("%d", info.Workers),
		fmt.Sprintf("%d", info.ShaderIdentifierSize),
		fmt.Sprintf("%d", info.RecordAlignment),
		fmt.Sprintf("%d", info.TableAlignment),
		fmt.Sprintf("%d", info.PlacementAlignment),
		fmt.Sprintf("%d", info.MaxRecursionDepth),
	})
	table.Render()
	return buf.String()
}
