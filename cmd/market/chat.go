package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/GroupLang/agent-market-client/internal/models"
)

var chatCmd = &cli.Command{
	Name:  "chat",
	Usage: "Read or continue the conversation of an instance",
	Subcommands: []*cli.Command{
		{
			Name:      "show",
			Usage:     "Print the conversation",
			ArgsUsage: "<instance-id>",
			Action: func(cctx *cli.Context) error {
				id := cctx.Args().First()
				if id == "" {
					return cli.ShowSubcommandHelp(cctx)
				}
				a, err := openApp(cctx, true)
				if err != nil {
					return err
				}
				defer a.Close()
				msgs, err := a.Chat.Messages(cctx.Context, id)
				if err != nil {
					return err
				}
				for _, m := range msgs {
					printMessage(m)
				}
				return nil
			},
		},
		{
			Name:      "send",
			Usage:     "Send a message to the selected provider",
			ArgsUsage: "<instance-id> <message...>",
			Action: func(cctx *cli.Context) error {
				if cctx.NArg() < 2 {
					return cli.ShowSubcommandHelp(cctx)
				}
				a, err := openApp(cctx, true)
				if err != nil {
					return err
				}
				defer a.Close()
				msg := strings.Join(cctx.Args().Tail(), " ")
				return a.Chat.Send(cctx.Context, cctx.Args().First(), msg)
			},
		},
	},
}

func printMessage(m models.Message) {
	sender := string(m.Sender)
	switch m.Sender {
	case models.SenderRequester:
		sender = color.CyanString(sender)
	case models.SenderProvider:
		sender = color.GreenString(sender)
	case models.SenderSystem:
		sender = color.RedString(sender)
	}
	fmt.Printf("[%s] %s: %s\n", humanize.Time(m.Timestamp), sender, m.Content)
}
