package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"time"

	"dbxauth/core"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type loginOptions struct {
	flow           string
	scopes         []string
	team           bool
	includeGranted bool
	browser        bool
}

func newLoginCommand(config func() *AppConfig) *cobra.Command {
	var opts loginOptions

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Link a Dropbox account",
		Long: `Run the authorization flow. By default the authorization URL is printed and the
redirect URL is read back from the terminal; with --browser a loopback receiver
at the configured listen address picks up the redirect.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.Context(), config(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.flow, "flow", string(core.FlowCodePKCE), "Authorization flow: code or token")
	cmd.Flags().StringSliceVar(&opts.scopes, "scope", nil, "Scopes to request (code flow)")
	cmd.Flags().BoolVar(&opts.team, "team", false, "Request team scopes")
	cmd.Flags().BoolVar(&opts.includeGranted, "include-granted-scopes", false, "Include previously granted scopes")
	cmd.Flags().BoolVar(&opts.browser, "browser", false, "Use the system browser and the loopback receiver")

	return cmd
}

func runLogin(ctx context.Context, cfg *AppConfig, opts loginOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	flow := core.Flow(opts.flow)
	if flow != core.FlowCodePKCE && flow != core.FlowLegacyToken {
		return fmt.Errorf("unsupported flow %q (supported: code, token)", opts.flow)
	}

	browser := opts.browser || cfg.Core.BrowserAuth
	if browser {
		if cfg.Listen == "" {
			return errors.New("browser login requires a listen address in the config")
		}
		if flow != core.FlowCodePKCE {
			return errors.New("browser login supports only the code flow")
		}
		cfg.Core.RedirectURI = cfg.loopbackCallback()
	}

	manager, err := setupManager(cfg)
	if err != nil {
		return err
	}
	defer core.Teardown()

	if browser {
		shutdown, err := startRedirectServer(manager, cfg)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	scopeType := core.ScopeTypeUser
	if opts.team {
		scopeType = core.ScopeTypeTeam
	}

	done := make(chan *core.AuthorizationOutcome, 1)
	req := core.AuthorizeRequest{
		Flow:        flow,
		Scopes:      core.NewScopeRequest(scopeType, opts.scopes, opts.includeGranted),
		BrowserAuth: browser,
		OnComplete: func(outcome *core.AuthorizationOutcome) {
			done <- outcome
		},
	}

	app := newConsoleApp(os.Stdin, os.Stdout)
	if err := manager.Authorize(ctx, app, req); err != nil {
		return err
	}

	select {
	case outcome := <-done:
		return reportOutcome(outcome)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func startRedirectServer(manager *core.Manager, cfg *AppConfig) (func(), error) {
	receiver, err := core.NewRedirectServer(manager, cfg.loopbackURL())
	if err != nil {
		return nil, err
	}

	server := &http.Server{Addr: cfg.Listen, Handler: receiver.Handler()}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("redirect receiver stopped")
		}
	}()
	log.Info().Str("addr", cfg.Listen).Msg("waiting for redirect")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}, nil
}

func reportOutcome(outcome *core.AuthorizationOutcome) error {
	switch outcome.Kind {
	case core.OutcomeSuccess:
		fmt.Printf("✅ Linked account %s\n", outcome.Credential.UserID)
		if outcome.Credential.IsShortLived() {
			fmt.Printf("   Token expires %s\n", outcome.Credential.ExpiresAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	case core.OutcomeCancelled:
		fmt.Println("Authorization cancelled")
		return nil
	default:
		return fmt.Errorf("authorization failed (%s): %s", outcome.ErrorKind, outcome.Message)
	}
}

func newListCommand(config func() *AppConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List linked accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := setupManager(config())
			if err != nil {
				return err
			}
			defer core.Teardown()

			users := manager.AuthorizedUsers()
			if len(users) == 0 {
				fmt.Println("No linked accounts")
				return nil
			}

			ids := make([]string, 0, len(users))
			for id := range users {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			for _, id := range ids {
				cred := users[id]
				kind := "long-lived"
				if cred.IsShortLived() {
					kind = "expires " + cred.ExpiresAt.Format("2006-01-02 15:04:05")
				}
				fmt.Printf("%s\t%s\n", id, kind)
			}
			return nil
		},
	}
}

func newTokenCommand(config func() *AppConfig) *cobra.Command {
	var scopes []string

	cmd := &cobra.Command{
		Use:   "token <uid>",
		Short: "Print a valid access token, refreshing it if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := setupManager(config())
			if err != nil {
				return err
			}
			defer core.Teardown()

			provider, err := manager.AccessTokenProvider(args[0])
			if err != nil {
				return fmt.Errorf("no credential for %s: %w", args[0], err)
			}

			cred, err := provider.RefreshIfNecessary(cmd.Context(), scopes)
			if err != nil {
				if errors.Is(err, core.ErrRefreshTokenInvalid) {
					return fmt.Errorf("%w: run login again", err)
				}
				return err
			}

			fmt.Println(cred.AccessToken)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Narrow the refreshed token to these scopes")
	return cmd
}

func newUnlinkCommand(config func() *AppConfig) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "unlink [uid]",
		Short: "Remove stored credentials",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return errors.New("pass a uid or --all")
			}

			manager, err := setupManager(config())
			if err != nil {
				return err
			}
			defer core.Teardown()

			if all {
				if !manager.UnlinkAll() {
					return errors.New("failed to remove credentials")
				}
				fmt.Println("Removed all credentials")
				return nil
			}

			if !manager.Unlink(args[0]) {
				return fmt.Errorf("no credential removed for %s", args[0])
			}
			fmt.Printf("Removed credential for %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Remove every stored credential")
	return cmd
}
