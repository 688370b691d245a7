package main

import (
	"log"

	"github.com/BIwashi/canreplay/app/export"
	"github.com/BIwashi/canreplay/app/replay"
	"github.com/BIwashi/canreplay/pkg/cli"
)

func main() {
	c := cli.NewCLI(
		"canreplay",
		"Replay timestamped CAN dumps with their original timing.",
	)

	c.AddCommands(
		replay.NewCommand(),
		export.NewCommand(),
	)

	if err := c.Run(); err != nil {
		log.Fatal(err)
	}
}
