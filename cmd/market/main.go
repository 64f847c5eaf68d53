package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/GroupLang/agent-market-client/internal/constants"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

func main() {
	app := &cli.App{
		Name:  "market",
		Usage: "Work with agent.market instances, auctions and GitHub-mirrored issues",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "only log warnings and errors",
			},
		},
		Before: func(cctx *cli.Context) error {
			utils.InitLogger(constants.AppName, cctx.Bool("quiet"))
			return nil
		},
		Commands: []*cli.Command{
			loginCmd,
			registerCmd,
			logoutCmd,
			meCmd,
			instancesCmd,
			showCmd,
			watchCmd,
			createCmd,
			bidCmd,
			reportRewardCmd,
			reposCmd,
			issuesCmd,
			blockCmd,
			chatCmd,
			apiKeysCmd,
			serveCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		utils.Logger.WithError(err).Error("market failed")
		os.Exit(1)
	}
}
