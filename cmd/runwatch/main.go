package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/petercort/RunWatch-sub000/log"
	"github.com/petercort/RunWatch-sub000/server"
	"github.com/petercort/RunWatch-sub000/syncer"
)

func main() {
	cmd := &cli.Command{
		Name:  "runwatch",
		Usage: "mirror and watch CI workflow history",
		Commands: []*cli.Command{
			server.Command(),
			syncer.Command(),
		},
	}

	ctx := context.Background()
	logger := log.New("runwatch")
	ctx = log.IntoContext(ctx, logger)

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error(err.Error())
		os.Exit(-1)
	}
}
