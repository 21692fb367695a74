package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

type globalFlags struct {
	configPath string
	debug      bool
	headless   bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "courtbot",
		Short:         "Books courts, buys credit and drafts session invites on the court booking site",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "config.yaml", "Path to configuration file")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable detailed debug logging")
	root.PersistentFlags().BoolVar(&flags.headless, "headless", false, "Run the browser without a window")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newBookCmd(flags))
	root.AddCommand(newCreditsCmd(flags))
	root.AddCommand(newMessageCmd(flags))
	root.AddCommand(newCalendarCmd(flags))
	root.AddCommand(newVersionCmd())
	return root
}

// setup loads locale, config and logger shared by every subcommand.
func setup(flags *globalFlags) (*Config, *zap.Logger, error) {
	if err := InitLocale(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Locale initialization failed, using default English: %v\n", err)
	}
	if msg := userDataDirWarning(); msg != "" {
		color.New(color.FgYellow).Fprintln(os.Stderr, msg)
	}

	cfg, err := LoadConfig(flags.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flags.debug {
		cfg.DebugMode = true
	}
	if flags.headless {
		cfg.Headless = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config %s: %w", flags.configPath, err)
	}

	log, err := NewLogger(cfg.DebugMode)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printBanner(cfg *Config) {
	title := color.New(color.FgHiCyan, color.Bold).SprintFunc()
	label := color.New(color.FgWhite).SprintFunc()

	fmt.Println(title("╔═══════════════════════════════════════════════════════════╗"))
	fmt.Println(title("║                 Court Booking Assistant                   ║"))
	fmt.Println(title("╚═══════════════════════════════════════════════════════════╝"))
	fmt.Printf("%s %s\n", label("Booking site:"), cfg.Sites.Booking.URL)
	fmt.Printf("%s %s\n", label("Cookie dir:  "), cfg.CookieDir)
	fmt.Printf("%s %s\n", label("Timezone:    "), cfg.Timezone)
	if cfg.DebugMode {
		color.New(color.FgHiMagenta).Println("DEBUG MODE - Detailed logging enabled")
	}
	fmt.Println()
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP front end and background task runner",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(flags)
			if err != nil {
				return err
			}
			defer log.Sync()
			if addr != "" {
				cfg.ListenAddr = addr
			}
			printBanner(cfg)

			ctx, cancel := signalContext()
			defer cancel()

			o := NewOrchestrator(ctx, cfg, log)
			err = Start(ctx, cfg.ListenAddr, NewServer(o, cfg, log), log)

			log.Info(T("shutting_down"))
			cancel()
			o.Wait()
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides listen_addr)")
	return cmd
}

// runForeground executes one workflow directly and waits for any retained
// browser before returning.
func runForeground(flags *globalFlags, fn func(ctx context.Context, e *Engine, cfg *Config) error) error {
	cfg, log, err := setup(flags)
	if err != nil {
		return err
	}
	defer log.Sync()
	printBanner(cfg)

	ctx, cancel := signalContext()
	defer cancel()

	o := NewOrchestrator(ctx, cfg, log)
	err = fn(withLogger(ctx, log), o.Engine(), cfg)
	o.Wait()
	return err
}

func newBookCmd(flags *globalFlags) *cobra.Command {
	var week, day, venue, courtType, start, end string

	cmd := &cobra.Command{
		Use:   "book",
		Short: "Reserve a court for a week, day and time range",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForeground(flags, func(ctx context.Context, e *Engine, cfg *Config) error {
				req, err := NewBookingRequest(week, day, venue, courtType, start, end, e.Location())
				if err != nil {
					return err
				}
				if err := e.Preflight(req); err != nil {
					return err
				}

				res, err := e.Book(ctx, req)
				if err != nil {
					color.New(color.FgRed, color.Bold).Printf("✗ Booking failed: %v\n", err)
					return err
				}
				color.New(color.FgGreen, color.Bold).Printf("✓ Booked %s %s-%s (%d blocks in %s)\n",
					res.Date.Format("Mon 2006-01-02"), req.Start, req.End, len(res.Blocks), res.RowID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&week, "week", "", "Week start date, a Monday (YYYY-MM-DD)")
	cmd.Flags().StringVar(&day, "day", "", "Day of week (e.g. Wednesday)")
	cmd.Flags().StringVar(&venue, "venue", "", "Venue name as configured")
	cmd.Flags().StringVar(&courtType, "court-type", "", "Court type, when the venue has several")
	cmd.Flags().StringVar(&start, "start", "", "Session start (HH:MM)")
	cmd.Flags().StringVar(&end, "end", "", "Session end (HH:MM)")
	for _, name := range []string{"week", "day", "venue", "start", "end"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newCreditsCmd(flags *globalFlags) *cobra.Command {
	var items, file string

	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Buy account credit, one tab per item",
		Example: `  courtbot credits --items "2x $15.00"
  courtbot credits --file plan.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := items
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				text = string(data)
			}
			parsed, err := ParseCreditItems(text)
			if err != nil {
				return err
			}

			return runForeground(flags, func(ctx context.Context, e *Engine, cfg *Config) error {
				report, err := e.TopUp(ctx, CreditRequest{Items: parsed})
				if err != nil {
					return err
				}
				printBatch(report)
				if _, _, failed := report.Counts(); failed > 0 {
					return fmt.Errorf("%d credit items failed", failed)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&items, "items", "", `Credit lines such as "2x $15.00", newline separated`)
	cmd.Flags().StringVar(&file, "file", "", "Read credit lines from a file")
	return cmd
}

func printBatch(report BatchReport) {
	ok := color.New(color.FgGreen).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()

	for _, it := range report.Items {
		switch it.Status {
		case ItemPurchased:
			fmt.Printf("  Tab %d  $%s  %s  %s\n", it.Tab, it.Amount, ok("purchased"), it.Option)
		case ItemSkipped:
			fmt.Printf("  Tab %d  $%s  %s  no matching option\n", it.Tab, it.Amount, warn("skipped"))
		case ItemFailed:
			fmt.Printf("  Tab %d  $%s  %s  %v\n", it.Tab, it.Amount, bad("failed"), it.Err)
		}
	}
	purchased, skipped, failed := report.Counts()
	fmt.Printf("\n%s purchased, %s skipped, %s failed\n", ok(purchased), warn(skipped), bad(failed))
}

func newMessageCmd(flags *globalFlags) *cobra.Command {
	var channel, contact, student, venue, day, start, end string

	cmd := &cobra.Command{
		Use:   "message",
		Short: "Propose a session to a student over Instagram or WhatsApp",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := NewNotificationRequest(channel, contact, student, venue, day, start, end)
			if err != nil {
				return err
			}
			return runForeground(flags, func(ctx context.Context, e *Engine, cfg *Config) error {
				if err := e.Notify(ctx, req); err != nil {
					return err
				}
				color.New(color.FgGreen, color.Bold).Printf("✓ Drafted for %s via %s: %s\n", req.StudentName, req.Channel, req.Message())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "WhatsApp", "Instagram or WhatsApp")
	cmd.Flags().StringVar(&contact, "contact", "", "Instagram handle or +phone number")
	cmd.Flags().StringVar(&student, "student", "", "Student name")
	cmd.Flags().StringVar(&venue, "venue", "", "Venue name")
	cmd.Flags().StringVar(&day, "day", "", "Day of week")
	cmd.Flags().StringVar(&start, "start", "", "Start time (HH:MM)")
	cmd.Flags().StringVar(&end, "end", "", "End time (HH:MM)")
	for _, name := range []string{"contact", "student", "venue", "day", "start", "end"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newCalendarCmd(flags *globalFlags) *cobra.Command {
	var week, day, venue, start, end string

	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Add a coaching session to Google Calendar",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForeground(flags, func(ctx context.Context, e *Engine, cfg *Config) error {
				req, err := NewCalendarRequest(week, day, venue, start, end, e.Location())
				if err != nil {
					return err
				}
				link, err := e.AddToCalendar(ctx, req)
				if err != nil {
					return err
				}
				color.New(color.FgGreen, color.Bold).Printf("✓ Event created: %s\n", link)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&week, "week", "", "Week start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&day, "day", "", "Day of week")
	cmd.Flags().StringVar(&venue, "venue", "", "Venue name")
	cmd.Flags().StringVar(&start, "start", "", "Session start (HH:MM)")
	cmd.Flags().StringVar(&end, "end", "", "Session end (HH:MM)")
	for _, name := range []string{"week", "day", "venue", "start", "end"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("courtbot %s (commit=%s, built=%s)\n", Version, CommitSHA, BuildDate)
		},
	}
}
