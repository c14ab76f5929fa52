package main

import (
	"fmt"
	"strings"

	"github.com/lithammer/dedent"
	"github.com/urfave/cli/v2"
)

func formatText(text string, a ...any) string {
	return fmt.Sprintf(strings.TrimSpace(dedent.Dedent(text)), a...)
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "dmctl",
		Usage: "Dailymotion API from the command line",
		Description: formatText(`
			Configuration is read from %s in the user config directory and from
			DM_* environment variables. DM_API_KEY and DM_API_SECRET identify the
			application; DM_TOKEN_KEY encrypts the stored session.
		`, "dailymotion-go/config.env"),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log SDK diagnostics",
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "Session database path (default: user config dir)",
				EnvVars: []string{"DM_SESSION_DB"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Log in through the browser",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "scope",
						Aliases: []string{"s"},
						Usage:   "Space separated permissions to request",
					},
					&cli.BoolFlag{
						Name:  "no-browser",
						Usage: "Print the login URL instead of opening a browser",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the login to finish",
						Value: defaultLoginTimeout,
					},
				},
				Action: loginAction,
			},
			{
				Name:      "get",
				Usage:     "Call an API endpoint and print the JSON result",
				ArgsUsage: "<path>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "method",
						Aliases: []string{"X"},
						Usage:   "get, post or delete",
						Value:   "get",
					},
					&cli.StringSliceFlag{
						Name:    "fields",
						Aliases: []string{"f"},
						Usage:   "Fields to return",
					},
					&cli.StringSliceFlag{
						Name:    "param",
						Aliases: []string{"p"},
						Usage:   "Extra parameter as key=value",
					},
				},
				Action: getAction,
			},
			{
				Name:   "me",
				Usage:  "Show the logged in user",
				Action: meAction,
			},
			{
				Name:   "status",
				Usage:  "Show the stored session",
				Action: statusAction,
			},
			{
				Name:   "logout",
				Usage:  "Revoke and forget the stored session",
				Action: logoutAction,
			},
		},
	}
}
