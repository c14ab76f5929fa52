package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	dailymotion "github.com/raine/dailymotion-go"
	"github.com/raine/dailymotion-go/api"
	"github.com/raine/dailymotion-go/auth"
	"github.com/raine/dailymotion-go/config"
	"github.com/raine/dailymotion-go/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const (
	defaultLoginTimeout = 5 * time.Minute
	sessionDBName       = "session.db"
)

func openSDK(c *cli.Context, opts ...dailymotion.Option) (*dailymotion.SDK, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		return nil, errors.New("DM_API_KEY is not set")
	}
	if db := c.String("db"); db != "" {
		cfg.SessionDB = db
	}
	if cfg.SessionDB == "" {
		configBase, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to find config directory: %w", err)
		}
		dir := filepath.Join(configBase, config.AppName)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		cfg.SessionDB = filepath.Join(dir, sessionDBName)
	}
	if cfg.TokenKey == "" {
		return nil, errors.New("DM_TOKEN_KEY is not set")
	}
	if c.Bool("debug") {
		cfg.Logging = true
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	sdk, err := dailymotion.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	sdk.Init(dailymotion.InitOptions{})
	log.Debug().Str("db", cfg.SessionDB).Str("status", string(sdk.LoginStatus().Status)).Msg("sdk initialized")
	return sdk, nil
}

func loginAction(c *cli.Context) error {
	timeout := c.Duration("timeout")
	launch := openBrowser
	if c.Bool("no-browser") {
		launch = printURL
	}

	lb := auth.NewLoopbackOpener(launch, timeout)
	sdk, err := openSDK(c, dailymotion.WithOpener(lb))
	if err != nil {
		return err
	}
	defer sdk.Close()

	redirect, err := lb.Start(sdk.Monitor())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, timeout)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var resp session.Response
	g.Go(func() error {
		defer cancel()
		r, err := sdk.LoginContext(ctx, auth.LoginOptions{
			Scope:       c.String("scope"),
			RedirectURI: redirect,
		})
		resp = r
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		return lb.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if resp.Status != session.StatusConnected || resp.Session == nil {
		return errors.New("login was not completed")
	}
	fmt.Println(formatText(`
		Logged in.
		Scope:   %s
		Expires: %s
	`, orNone(resp.Perms), expiry(resp.Session)))
	return nil
}

func getAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("usage: dmctl get <path>")
	}

	params := api.Params{}
	if fields := c.StringSlice("fields"); len(fields) > 0 {
		params["fields"] = fields
	}
	for _, kv := range c.StringSlice("param") {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid parameter %q, expected key=value", kv)
		}
		params[key] = val
	}

	sdk, err := openSDK(c)
	if err != nil {
		return err
	}
	defer sdk.Close()

	res, err := sdk.Call(c.Context, path, c.String("method"), params)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func meAction(c *cli.Context) error {
	sdk, err := openSDK(c)
	if err != nil {
		return err
	}
	defer sdk.Close()

	me, err := sdk.API().Me(c.Context)
	if err != nil {
		return err
	}
	fmt.Println(formatText(`
		ID:         %s
		Screenname: %s
		Username:   %s
	`, me.ID, me.Screenname, orNone(me.Username)))
	return nil
}

func statusAction(c *cli.Context) error {
	sdk, err := openSDK(c)
	if err != nil {
		return err
	}
	defer sdk.Close()

	r := sdk.LoginStatus()
	if r.Session == nil {
		fmt.Println("Not logged in.")
		return nil
	}

	state := string(r.Status)
	if session.IsExpired(r.Session, time.Now()) {
		state = "expired"
		if r.Session.RefreshToken != "" {
			state += " (renewed on next call)"
		}
	}
	fmt.Println(formatText(`
		Status:  %s
		User:    %s
		Scope:   %s
		Expires: %s
	`, state, orNone(r.Session.UID), orNone(r.Perms), expiry(r.Session)))
	return nil
}

func logoutAction(c *cli.Context) error {
	sdk, err := openSDK(c)
	if err != nil {
		return err
	}
	defer sdk.Close()

	if _, err := sdk.Logout(c.Context); err != nil {
		log.Warn().Err(err).Msg("server side logout failed, session removed locally")
	}
	fmt.Println("Logged out.")
	return nil
}

func openBrowser(u string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", u)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", u)
	default:
		cmd = exec.Command("xdg-open", u)
	}
	if err := cmd.Start(); err != nil {
		log.Warn().Err(err).Msg("failed to open browser")
		return printURL(u)
	}
	go func() { _ = cmd.Wait() }()
	return printURL(u)
}

func printURL(u string) error {
	fmt.Fprintf(os.Stderr, "Open this URL to log in:\n\n  %s\n\n", u)
	return nil
}

func printJSON(raw json.RawMessage) error {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}
	fmt.Println(out.String())
	return nil
}

func expiry(s *session.Session) string {
	if s.Expires == 0 {
		return "never"
	}
	return time.Unix(s.Expires, 0).Format(time.RFC1123)
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
