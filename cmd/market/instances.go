package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"github.com/GroupLang/agent-market-client/internal/dtos"
	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

var instancesCmd = &cli.Command{
	Name:  "instances",
	Usage: "List your instances",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "status", Usage: "only show instances in this status (name or code)"},
	},
	Action: func(cctx *cli.Context) error {
		var filter *models.InstanceStatus
		if raw := cctx.String("status"); raw != "" {
			s, ok := models.ParseInstanceStatus(raw)
			if !ok {
				return fmt.Errorf("%w: unknown status %q", utils.ErrInvalidPayload, raw)
			}
			filter = &s
		}

		a, err := openApp(cctx, true)
		if err != nil {
			return err
		}
		defer a.Close()
		if _, err := a.Instances.List(cctx.Context, filter); err != nil {
			return err
		}
		var statuses []models.InstanceStatus
		if filter != nil {
			statuses = append(statuses, *filter)
		}

		tw := newTabWriter()
		fmt.Fprintln(tw, "ID\tSTATUS\tPHASE\tMAX\tBIDS\tREMAINING\tCREATED")
		for _, p := range a.Projection.ProjectAll(statuses...) {
			inst := p.Instance
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				inst.ID, colorStatus(inst.Status), p.Phase, inst.MaxCredit, len(inst.Bids),
				lo.Ternary(p.RemainingText == "", "-", p.RemainingText), ago(&inst.CreatedAt))
		}
		return tw.Flush()
	},
}

var showCmd = &cli.Command{
	Name:      "show",
	Usage:     "Show one instance with its bids and settlement",
	ArgsUsage: "<instance-id>",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "providers", Usage: "also list involved and winning providers"},
	},
	Action: func(cctx *cli.Context) error {
		id := cctx.Args().First()
		if id == "" {
			return cli.ShowCommandHelp(cctx, "show")
		}
		a, err := openApp(cctx, true)
		if err != nil {
			return err
		}
		defer a.Close()
		if _, err := a.Instances.Get(cctx.Context, id); err != nil {
			return err
		}
		p, _ := a.Projection.Project(id)
		printProjection(*p)

		if !cctx.Bool("providers") {
			return nil
		}
		involved, err := a.Instances.InvolvedProviders(cctx.Context, id)
		if err != nil {
			return err
		}
		winners, err := a.Instances.WinningProviders(cctx.Context, id)
		if err != nil {
			return err
		}
		fmt.Println()
		tw := newTabWriter()
		fmt.Fprintln(tw, "PROVIDER\tNAME\tWINNER")
		for _, ip := range involved {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", ip.ProviderID, ip.Name,
				lo.Ternary(lo.Contains(winners, ip.ProviderID), color.GreenString("yes"), ""))
		}
		return tw.Flush()
	},
}

var watchCmd = &cli.Command{
	Name:      "watch",
	Usage:     "Follow an instance's countdown until it reaches a terminal state",
	ArgsUsage: "<instance-id>",
	Action: func(cctx *cli.Context) error {
		id := cctx.Args().First()
		if id == "" {
			return cli.ShowCommandHelp(cctx, "watch")
		}
		a, err := openApp(cctx, true)
		if err != nil {
			return err
		}
		defer a.Close()
		if _, err := a.Instances.Get(cctx.Context, id); err != nil {
			return err
		}
		return a.Watcher.Watch(cctx.Context, id, func(p dtos.InstanceProjection) {
			line := fmt.Sprintf("%s  %s", colorStatus(p.Instance.Status), p.Phase)
			if p.RemainingText != "" {
				line += "  " + color.YellowString(p.RemainingText)
			}
			if p.SettlementPreview != nil {
				line += "  " + formatSplit(p.SettlementPreview)
			}
			fmt.Printf("\r\033[K%s", line)
			if p.Instance.Status.IsTerminal() {
				fmt.Println()
			}
		})
	},
}

var createCmd = &cli.Command{
	Name:  "create",
	Usage: "Open a new instance",
	Flags: []cli.Flag{
		&cli.Float64Flag{Name: "max-credit", Required: true, Usage: "credits escrowed for the instance"},
		&cli.IntFlag{Name: "percentage-reward", Value: 100, Usage: "share of the reported reward paid out, 0-100"},
		&cli.DurationFlag{Name: "instance-timeout", Usage: "auction length (default 60s)"},
		&cli.DurationFlag{Name: "reward-timeout", Usage: "time to report a reward after selection (default 2000s)"},
		&cli.StringFlag{Name: "model"},
		&cli.StringFlag{Name: "background"},
		&cli.StringSliceFlag{Name: "message", Aliases: []string{"m"}, Required: true, Usage: "user message; repeat for more"},
	},
	Action: func(cctx *cli.Context) error {
		a, err := openApp(cctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		req := dtos.CreateInstanceRequest{
			MaxCreditPerInstance: models.NewCredits(cctx.Float64("max-credit")),
			InstanceTimeout:      int(cctx.Duration("instance-timeout").Seconds()),
			GenRewardTimeout:     int(cctx.Duration("reward-timeout").Seconds()),
			PercentageReward:     cctx.Int("percentage-reward"),
			Model:                cctx.String("model"),
			Background:           cctx.String("background"),
			Messages: lo.Map(cctx.StringSlice("message"), func(m string, _ int) dtos.Message {
				return dtos.Message{Role: "user", Content: strings.TrimSpace(m)}
			}),
		}
		inst, err := a.Instances.Create(cctx.Context, req)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", color.GreenString("Created"), inst.ID)
		return nil
	},
}

var bidCmd = &cli.Command{
	Name:      "bid",
	Usage:     "Submit a provider bid on an open instance",
	ArgsUsage: "<instance-id> <provider-id> <amount>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 3 {
			return cli.ShowCommandHelp(cctx, "bid")
		}
		amount, err := parseCredits(cctx.Args().Get(2))
		if err != nil {
			return err
		}
		a, err := openApp(cctx, true)
		if err != nil {
			return err
		}
		defer a.Close()
		o, err := a.Instances.SubmitBid(cctx.Context, cctx.Args().Get(0), cctx.Args().Get(1), amount)
		if err != nil {
			return err
		}
		printOutcome(o)
		return nil
	},
}

var reportRewardCmd = &cli.Command{
	Name:      "report-reward",
	Usage:     "Report the reward for an interacting instance and settle it",
	ArgsUsage: "<instance-id> <reward>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 2 {
			return cli.ShowCommandHelp(cctx, "report-reward")
		}
		reward, err := parseCredits(cctx.Args().Get(1))
		if err != nil {
			return err
		}
		a, err := openApp(cctx, true)
		if err != nil {
			return err
		}
		defer a.Close()
		o, err := a.Instances.ReportReward(cctx.Context, cctx.Args().First(), reward)
		if err != nil {
			return err
		}
		printOutcome(o)
		return nil
	},
}
