package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/GroupLang/agent-market-client/internal/app"
	"github.com/GroupLang/agent-market-client/internal/config"
	"github.com/GroupLang/agent-market-client/internal/dtos"
	"github.com/GroupLang/agent-market-client/internal/lifecycle"
	"github.com/GroupLang/agent-market-client/internal/models"
)

// openApp wires the client from the MARKET_* environment. With session
// set it also resumes or establishes a login.
func openApp(cctx *cli.Context, session bool) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	a, err := app.NewApp(cctx.Context, cfg)
	if err != nil {
		return nil, err
	}
	if session {
		if err := a.EnsureSession(cctx.Context); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
}

func colorStatus(s models.InstanceStatus) string {
	switch s {
	case models.InstanceStatusOpen:
		return color.GreenString(s.String())
	case models.InstanceStatusSelected, models.InstanceStatusInteracting:
		return color.CyanString(s.String())
	case models.InstanceStatusResolved:
		return color.BlueString(s.String())
	case models.InstanceStatusFailed:
		return color.RedString(s.String())
	}
	return color.New(color.Faint).Sprint(s.String())
}

func formatSplit(s *models.Split) string {
	if s == nil {
		return "-"
	}
	provider := s.ProviderDelta.String()
	if s.ProviderDelta < 0 {
		provider = color.RedString(provider)
	}
	return fmt.Sprintf("requester %s / provider %s", s.RequesterDelta, provider)
}

func printProjection(p dtos.InstanceProjection) {
	inst := p.Instance
	fmt.Printf("Instance:   %s\n", inst.ID)
	fmt.Printf("Status:     %s (%s)\n", colorStatus(inst.Status), p.Phase)
	fmt.Printf("Created:    %s\n", humanize.Time(inst.CreatedAt))
	fmt.Printf("Max credit: %s\n", inst.MaxCredit)
	if p.RemainingText != "" {
		fmt.Printf("Remaining:  %s\n", color.YellowString(p.RemainingText))
	}
	if inst.AcceptedBid != nil {
		fmt.Printf("Accepted:   %s bid %s\n", inst.AcceptedBid.ProviderID, inst.AcceptedBid.Amount)
	}
	if inst.Reward != nil {
		fmt.Printf("Reward:     %s\n", *inst.Reward)
	}
	label := "Preview:   "
	if p.Settled {
		label = "Settlement:"
	}
	fmt.Printf("%s %s\n", label, formatSplit(p.SettlementPreview))
	if p.Issue != nil {
		fmt.Printf("Issue:      %s#%d", p.Issue.RepoURL, p.Issue.IssueNumber)
		if p.Issue.PaymentBlocked {
			fmt.Print(color.RedString(" (payment blocked)"))
		}
		fmt.Println()
	}

	if len(inst.Bids) > 0 {
		fmt.Println()
		tw := newTabWriter()
		fmt.Fprintln(tw, "PROVIDER\tBID\tSUBMITTED")
		for _, b := range inst.Bids {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", b.ProviderID, b.Amount, humanize.Time(b.SubmittedAt))
		}
		tw.Flush()
	}
}

func printOutcome(o lifecycle.Outcome) {
	if !o.Applied {
		fmt.Printf("%s %s\n", color.YellowString("No change:"), o.Reason)
		return
	}
	fmt.Printf("%s %s -> %s\n", color.GreenString("Applied:"), o.From, o.To)
	if o.Settlement != nil {
		fmt.Printf("Settled: %s\n", formatSplit(o.Settlement))
	}
}

func parseCredits(s string) (models.Credits, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid credit amount %q", s)
	}
	return models.NewCredits(f), nil
}

func ago(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return humanize.Time(*t)
}
