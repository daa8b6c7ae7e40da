package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/codeGROOVE-dev/pr-bro/pkg/config"
	"github.com/codeGROOVE-dev/pr-bro/pkg/credentials"
	"github.com/codeGROOVE-dev/pr-bro/pkg/effect"
	"github.com/codeGROOVE-dev/pr-bro/pkg/fetch"
	"github.com/codeGROOVE-dev/pr-bro/pkg/output"
	"github.com/codeGROOVE-dev/pr-bro/pkg/snooze"
	"github.com/codeGROOVE-dev/pr-bro/pkg/tui"
	"github.com/codeGROOVE-dev/pr-bro/pkg/watch"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pr-bro",
		Short: "Ranked queue of pull requests waiting for your review",
		Long: `pr-bro runs the GitHub searches in ~/.config/pr-bro/config.yaml, scores every
pull request with the configured policy and shows the highest scores first.

Without a subcommand it opens the interactive browser when stdout is a
terminal and prints the list otherwise.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newViper(cmd.Flags())
			if err != nil {
				return err
			}
			s, err := loadSettings(v)
			if err != nil {
				return err
			}
			a := &app{settings: s}
			if err := a.setupLogging(cmd.Name() == "tui" || (cmd.Parent() == nil && stdoutIsTerminal())); err != nil {
				return err
			}
			cmd.SetContext(withApp(cmd.Context(), a))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, err := getApp(cmd.Context()); err == nil {
				a.close()
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if stdoutIsTerminal() {
				return runTUI(cmd.Context())
			}
			return runList(cmd.Context(), cmd.OutOrStdout(), listOptions{})
		},
	}

	registerFlags(root.PersistentFlags())

	root.AddCommand(newTUICmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newExplainCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newCacheCmd())
	root.AddCommand(newSnoozeCmd())
	root.AddCommand(newUnsnoozeCmd())
	root.AddCommand(newSnoozedCmd())

	return root
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func newTUICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(cmd.Context())
		},
	}
}

func runTUI(ctx context.Context) error {
	a, err := getApp(ctx)
	if err != nil {
		return err
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	orch, err := a.orchestrator()
	if err != nil {
		return err
	}
	// Ask for a token before the alternate screen takes over the terminal.
	if _, err := a.creds.Token(ctx); err != nil {
		return fmt.Errorf("%w: set %s, run `gh auth login`, or configure a GitHub App", err, credentials.EnvTokenVar)
	}
	snoozes, err := a.openSnoozes(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The alternate screen owns the terminal, so a rejected token is only
	// re-read from gh or the App, never prompted for.
	reauth := fetch.ReauthFunc(a.creds.Reselect)
	tcfg := tui.Config{
		Refresh: func(ctx context.Context, manual bool) (*fetch.Result, error) {
			return orch.RefreshWithReauth(ctx, fetch.Request{Queries: cfg.Queries, Manual: manual}, reauth)
		},
		Snoozes:     snoozes,
		Open:        openBrowser,
		AutoRefresh: cfg.AutoRefreshInterval,
	}
	if !a.settings.NoWatch {
		mon := watch.New(a.creds.Token)
		go mon.Run(ctx)
		tcfg.Triggers = mon.Triggers()
	}
	slog.Info("Starting browser", "queries", len(cfg.Queries), "auth", a.creds.Source())
	return tui.Run(ctx, tcfg)
}

type listOptions struct {
	JSON     bool
	Markdown bool
	All      bool
}

func newListCmd() *cobra.Command {
	var opts listOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the ranked queue once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print JSON with full score breakdowns")
	cmd.Flags().BoolVar(&opts.Markdown, "markdown", false, "print a Markdown table")
	cmd.Flags().BoolVar(&opts.All, "all", false, "also print snoozed pull requests")
	cmd.MarkFlagsMutuallyExclusive("json", "markdown")
	return cmd
}

// refresh runs one manual refresh, asking for a new token once if GitHub
// rejects the current one.
func refresh(ctx context.Context, a *app) (*fetch.Result, snooze.Set, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	orch, err := a.orchestrator()
	if err != nil {
		return nil, nil, err
	}
	snoozes, err := a.openSnoozes(ctx)
	if err != nil {
		return nil, nil, err
	}
	res, err := orch.RefreshWithReauth(ctx, fetch.Request{Queries: cfg.Queries, Manual: true}, a.creds)
	if err != nil {
		return nil, nil, err
	}
	set, err := snoozes.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	return res, set, nil
}

func runList(ctx context.Context, w io.Writer, opts listOptions) error {
	a, err := getApp(ctx)
	if err != nil {
		return err
	}
	res, set, err := refresh(ctx, a)
	if err != nil {
		return err
	}
	now := time.Now()
	active, held := res.Split(func(url string) bool { return set.IsSnoozed(url, now) })

	if opts.JSON {
		return output.WriteJSON(w, res, active, held, func(url string) string {
			return set[url].Remaining(now)
		})
	}
	for _, warning := range res.Warnings {
		fmt.Fprintln(os.Stderr, "warning:", warning)
	}
	mode := output.ASCII
	if opts.Markdown {
		mode = output.Markdown
	}
	fmt.Fprint(w, output.Table(active, now, mode))
	if opts.All && len(held) > 0 {
		fmt.Fprintln(w, "\nSnoozed:")
		fmt.Fprint(w, output.Table(held, now, mode))
	}
	fmt.Fprintln(w, output.Summary(res, len(active), len(held)))
	return nil
}

func newExplainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explain <url | owner/repo#number>",
		Short: "Show how a pull request's score was computed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parsePRURL(args[0])
			if err != nil {
				return err
			}
			a, err := getApp(cmd.Context())
			if err != nil {
				return err
			}
			res, set, err := refresh(cmd.Context(), a)
			if err != nil {
				return err
			}
			url := ref.URL()
			for i := range res.Items {
				it := &res.Items[i]
				if !strings.EqualFold(it.PR.URL, url) {
					continue
				}
				now := time.Now()
				fmt.Fprint(cmd.OutOrStdout(), output.Explain(it, now))
				if e, ok := set[it.PR.URL]; ok && e.Active(now) {
					fmt.Fprintf(cmd.OutOrStdout(), "\nSnoozed (%s)\n", e.Remaining(now))
				}
				return nil
			}
			return fmt.Errorf("%s is not in any query result", url)
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file and report every problem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := getApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg, err := a.loadConfig()
			var errs config.Errors
			if errors.As(err, &errs) {
				for _, e := range errs {
					fmt.Fprintln(cmd.ErrOrStderr(), "  -", e)
				}
				return fmt.Errorf("%s: %d problem(s) found", a.settings.ConfigPath, len(errs))
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d queries)\n", cfg.Path, len(cfg.Queries))
			return nil
		},
	}
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every cached GitHub response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := getApp(cmd.Context())
			if err != nil {
				return err
			}
			rc, err := a.openCache()
			if err != nil {
				return err
			}
			if err := rc.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
			return nil
		},
	})
	return cmd
}

func newSnoozeCmd() *cobra.Command {
	var forText string
	cmd := &cobra.Command{
		Use:   "snooze <url | owner/repo#number>",
		Short: "Hide a pull request from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parsePRURL(args[0])
			if err != nil {
				return err
			}
			var d time.Duration
			if forText != "" {
				if d, err = effect.ParseDuration(forText); err != nil {
					return fmt.Errorf("--for: %w", err)
				}
			}
			a, err := getApp(cmd.Context())
			if err != nil {
				return err
			}
			st, err := a.openSnoozes(cmd.Context())
			if err != nil {
				return err
			}
			e, err := st.Snooze(cmd.Context(), ref.URL(), d)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Snoozed %s (%s)\n", e.URL, e.Remaining(e.SnoozedAt))
			return nil
		},
	}
	cmd.Flags().StringVar(&forText, "for", "", "snooze duration such as 2h, 3d or 1w (default: until unsnoozed)")
	return cmd
}

func newUnsnoozeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unsnooze <url | owner/repo#number>",
		Short: "Return a snoozed pull request to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parsePRURL(args[0])
			if err != nil {
				return err
			}
			a, err := getApp(cmd.Context())
			if err != nil {
				return err
			}
			st, err := a.openSnoozes(cmd.Context())
			if err != nil {
				return err
			}
			removed, err := st.Unsnooze(cmd.Context(), ref.URL())
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("%s is not snoozed", ref.URL())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unsnoozed %s\n", ref.URL())
			return nil
		},
	}
}

func newSnoozedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snoozed",
		Short: "List snoozed pull requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := getApp(cmd.Context())
			if err != nil {
				return err
			}
			st, err := a.openSnoozes(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := st.List(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatSnoozed(entries, time.Now()))
			return nil
		},
	}
}

func formatSnoozed(entries []snooze.Entry, now time.Time) string {
	if len(entries) == 0 {
		return "Nothing snoozed.\n"
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%-14s %s\n", e.Remaining(now), e.URL)
	}
	return b.String()
}
