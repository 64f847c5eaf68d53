package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/GroupLang/agent-market-client/internal/app"
	"github.com/GroupLang/agent-market-client/internal/dtos"
	"github.com/GroupLang/agent-market-client/internal/models"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

var loginCmd = &cli.Command{
	Name:  "login",
	Usage: "Log in and save the session",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "username", Aliases: []string{"u"}, EnvVars: []string{"MARKET_USERNAME"}},
		&cli.StringFlag{Name: "password", Aliases: []string{"p"}, EnvVars: []string{"MARKET_PASSWORD"}},
		&cli.StringFlag{Name: "token", Usage: "use an access token issued elsewhere, such as by the GitHub sign-in"},
	},
	Action: func(cctx *cli.Context) error {
		a, err := openApp(cctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		var tok *models.SessionToken
		username, password := cctx.String("username"), cctx.String("password")
		switch {
		case cctx.IsSet("token"):
			tok, err = a.Session.LoginWithToken(cctx.String("token"))
			username = "(token)"
		case username == "" || password == "":
			return fmt.Errorf("%w: --username and --password, or --token, are required", utils.ErrInvalidPayload)
		default:
			tok, err = a.Session.Login(cctx.Context, username, password)
		}
		if err != nil {
			return err
		}
		if cctx.IsSet("token") {
			if u, err := a.Accounts.Me(cctx.Context); err == nil {
				username = u.Username
			}
		}
		fmt.Printf("%s as %s, token valid until %s\n", color.GreenString("Logged in"), username, tok.ExpiresAt().Local().Format("15:04"))
		if a.Config.SessionKey == "" {
			utils.Logger.Warn("MARKET_SESSION_KEY is not set; the session ends with this process")
		}
		return nil
	},
}

var registerCmd = &cli.Command{
	Name:  "register",
	Usage: "Create a marketplace account",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "email", Required: true},
		&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
		&cli.StringFlag{Name: "password", Aliases: []string{"p"}, EnvVars: []string{"MARKET_PASSWORD"}, Required: true},
		&cli.StringFlag{Name: "fullname", Required: true},
	},
	Action: func(cctx *cli.Context) error {
		a, err := openApp(cctx, false)
		if err != nil {
			return err
		}
		defer a.Close()

		u, err := a.Auth.Register(cctx.Context, dtos.RegisterRequest{
			Email:    cctx.String("email"),
			Username: cctx.String("username"),
			Password: cctx.String("password"),
			Fullname: cctx.String("fullname"),
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s %s <%s>; run `market login` next\n", color.GreenString("Registered"), u.Username, u.Email)
		return nil
	},
}

var logoutCmd = &cli.Command{
	Name:  "logout",
	Usage: "Forget the saved session",
	Action: func(cctx *cli.Context) error {
		a, err := openApp(cctx, false)
		if err != nil {
			return err
		}
		defer a.Close()
		if _, err := a.Session.Restore(cctx.Context); err != nil {
			utils.Logger.WithError(err).Debug("No session to restore")
		}
		a.Session.Logout()
		fmt.Println("Logged out")
		return nil
	},
}

var meCmd = &cli.Command{
	Name:  "me",
	Usage: "Show the logged in user",
	Action: func(cctx *cli.Context) error {
		a, err := openApp(cctx, true)
		if err != nil {
			return err
		}
		defer a.Close()
		u, err := a.Accounts.Me(cctx.Context)
		if err != nil {
			return err
		}
		fmt.Printf("ID:       %s\nUsername: %s\nEmail:    %s\n", u.ID, u.Username, u.Email)
		return nil
	},
}

var apiKeysCmd = &cli.Command{
	Name:  "api-keys",
	Usage: "Manage API keys",
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Usage: "List API keys",
			Action: func(cctx *cli.Context) error {
				a, err := openApp(cctx, true)
				if err != nil {
					return err
				}
				defer a.Close()
				keys, err := a.Accounts.ListAPIKeys(cctx.Context)
				if err != nil {
					return err
				}
				tw := newTabWriter()
				fmt.Fprintln(tw, "NAME\tLIVE\tENABLED")
				for _, k := range keys {
					enabled := color.GreenString("yes")
					if !k.IsEnabled {
						enabled = color.RedString("no")
					}
					fmt.Fprintf(tw, "%s\t%t\t%s\n", k.Name, k.IsLive, enabled)
				}
				return tw.Flush()
			},
		},
		{
			Name:      "create",
			Usage:     "Create an API key",
			ArgsUsage: "<name>",
			Flags:     []cli.Flag{&cli.BoolFlag{Name: "live", Usage: "create a live key instead of a test key"}},
			Action: func(cctx *cli.Context) error {
				name := cctx.Args().First()
				if name == "" {
					return cli.ShowSubcommandHelp(cctx)
				}
				a, err := openApp(cctx, true)
				if err != nil {
					return err
				}
				defer a.Close()
				k, err := a.Accounts.CreateAPIKey(cctx.Context, name, cctx.Bool("live"))
				if err != nil {
					return err
				}
				fmt.Printf("Created %s: %s\n", k.Name, color.YellowString(k.Key))
				fmt.Println("The key is only shown once.")
				return nil
			},
		},
		apiKeyAction("delete", "Delete an API key", func(cctx *cli.Context, a *app.App, name string) error {
			return a.Accounts.DeleteAPIKey(cctx.Context, name)
		}),
		apiKeyAction("enable", "Enable an API key", func(cctx *cli.Context, a *app.App, name string) error {
			return a.Accounts.SetAPIKeyEnabled(cctx.Context, name, true)
		}),
		apiKeyAction("disable", "Disable an API key", func(cctx *cli.Context, a *app.App, name string) error {
			return a.Accounts.SetAPIKeyEnabled(cctx.Context, name, false)
		}),
	},
}

func apiKeyAction(name, usage string, do func(*cli.Context, *app.App, string) error) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<name>",
		Action: func(cctx *cli.Context) error {
			key := cctx.Args().First()
			if key == "" {
				return cli.ShowSubcommandHelp(cctx)
			}
			a, err := openApp(cctx, true)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := do(cctx, a, key); err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", name, key)
			return nil
		},
	}
}
