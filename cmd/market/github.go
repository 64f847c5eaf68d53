package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/timewindow"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

var reposCmd = &cli.Command{
	Name:  "repos",
	Usage: "Manage GitHub repositories mirrored into instances",
	Subcommands: []*cli.Command{
		{
			Name:      "add",
			Usage:     "Bind a repository",
			ArgsUsage: "<repo-url>",
			Flags: []cli.Flag{
				&cli.Float64Flag{Name: "default-reward", Required: true, Usage: "reward assumed for each mirrored issue"},
				&cli.IntFlag{Name: "percentage-reward", Usage: "share of the reward paid to the provider"},
			},
			Action: func(cctx *cli.Context) error {
				repo := cctx.Args().First()
				if repo == "" {
					return cli.ShowSubcommandHelp(cctx)
				}
				a, err := openApp(cctx, true)
				if err != nil {
					return err
				}
				defer a.Close()
				err = a.Mirror.AddRepository(cctx.Context, models.RepositoryBinding{
					RepoURL:               repo,
					DefaultReward:         models.NewCredits(cctx.Float64("default-reward")),
					RewardSharePercentage: cctx.Int("percentage-reward"),
				})
				if err != nil {
					return err
				}
				fmt.Printf("%s %s\n", color.GreenString("Bound"), repo)
				return nil
			},
		},
		{
			Name:      "remove",
			Usage:     "Unbind a repository",
			ArgsUsage: "<repo-url>",
			Action: func(cctx *cli.Context) error {
				repo := cctx.Args().First()
				if repo == "" {
					return cli.ShowSubcommandHelp(cctx)
				}
				a, err := openApp(cctx, true)
				if err != nil {
					return err
				}
				defer a.Close()
				if err := a.Mirror.RemoveRepository(cctx.Context, repo); err != nil {
					return err
				}
				fmt.Printf("Removed %s\n", repo)
				return nil
			},
		},
		{
			Name:  "list",
			Usage: "List bound repositories",
			Action: func(cctx *cli.Context) error {
				a, err := openApp(cctx, true)
				if err != nil {
					return err
				}
				defer a.Close()
				repos, err := a.Mirror.ListRepositories(cctx.Context)
				if err != nil {
					return err
				}
				tw := newTabWriter()
				fmt.Fprintln(tw, "REPOSITORY\tDEFAULT REWARD\tSHARE")
				for _, r := range repos {
					fmt.Fprintf(tw, "%s\t%s\t%d%%\n", r.RepoURL, r.DefaultReward, r.RewardSharePercentage)
				}
				return tw.Flush()
			},
		},
		{
			Name:  "sync",
			Usage: "Apply MARKET_REPOS_FILE, then sync every bound repository",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "prune", Usage: "unbind repositories missing from the file"},
			},
			Action: func(cctx *cli.Context) error {
				a, err := openApp(cctx, true)
				if err != nil {
					return err
				}
				defer a.Close()
				added, removed, err := a.SyncBindings(cctx.Context, cctx.Bool("prune"))
				if err != nil {
					return err
				}
				for _, r := range added {
					fmt.Printf("%s %s\n", color.GreenString("+"), r)
				}
				for _, r := range removed {
					fmt.Printf("%s %s\n", color.RedString("-"), r)
				}
				report, err := a.Mirror.SyncAll(cctx.Context)
				if report != nil {
					fmt.Printf("Synced %d repositories, %d issues, %d notifications sent\n",
						report.Repositories, report.Issues, report.Notified)
				}
				return err
			},
		},
	},
}

var issuesCmd = &cli.Command{
	Name:  "issues",
	Usage: "List mirrored GitHub issues and their payment windows",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "repo", Usage: "only issues of this repository"},
	},
	Action: func(cctx *cli.Context) error {
		a, err := openApp(cctx, true)
		if err != nil {
			return err
		}
		defer a.Close()
		issues, err := a.Mirror.ListIssues(cctx.Context, cctx.String("repo"))
		if err != nil {
			return err
		}
		tw := newTabWriter()
		fmt.Fprintln(tw, "ISSUE\tTITLE\tPHASE\tREMAINING\tPR\tINSTANCE")
		for _, b := range issues {
			p := a.Projection.ProjectIssue(b)
			phase := p.Phase
			switch a.Mirror.Classify(b).Phase {
			case timewindow.PhaseInReview:
				phase = color.YellowString(phase)
			case timewindow.PhaseExpired:
				phase = color.New(color.Faint).Sprint(phase)
			}
			if b.PaymentBlocked {
				phase += color.RedString(" (blocked)")
			}
			instance := utils.Val(b.InstanceID)
			if instance == "" {
				instance = "-"
			}
			remaining := p.RemainingText
			if remaining == "" {
				remaining = "-"
			}
			fmt.Fprintf(tw, "%s#%d\t%s\t%s\t%s\t%s\t%s\n",
				b.RepoURL, b.IssueNumber, b.Title, phase, remaining, ago(b.PRCreatedAt), instance)
		}
		return tw.Flush()
	},
}

var blockCmd = &cli.Command{
	Name:      "block",
	Usage:     "Block payment for a mirrored issue during its review window",
	ArgsUsage: "<repo-url> <issue-number>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 2 {
			return cli.ShowCommandHelp(cctx, "block")
		}
		var n int
		if _, err := fmt.Sscanf(cctx.Args().Get(1), "%d", &n); err != nil {
			return fmt.Errorf("invalid issue number %q", cctx.Args().Get(1))
		}
		a, err := openApp(cctx, true)
		if err != nil {
			return err
		}
		defer a.Close()
		o, err := a.Mirror.BlockPayment(cctx.Context, cctx.Args().First(), n)
		if err != nil {
			return err
		}
		printOutcome(o)
		return nil
	},
}
