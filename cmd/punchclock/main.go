package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/tj/go-naturaldate"

	"github.com/christopherklint97/punchclock/internal/apperr"
	"github.com/christopherklint97/punchclock/internal/calendar"
	"github.com/christopherklint97/punchclock/internal/config"
	"github.com/christopherklint97/punchclock/internal/notify"
	"github.com/christopherklint97/punchclock/internal/relay"
	"github.com/christopherklint97/punchclock/internal/scheduler"
	"github.com/christopherklint97/punchclock/internal/specialday"
	"github.com/christopherklint97/punchclock/internal/store"
	"github.com/christopherklint97/punchclock/internal/timer"
	"github.com/christopherklint97/punchclock/internal/tui"
	"github.com/christopherklint97/punchclock/internal/worktime"
)

var rootCmd = &cobra.Command{
	Use:           "punchclock",
	Short:         "Check in, check out and keep track of weekly hours",
	Long:          "punchclock records check-ins and check-outs, times the open work session across pauses and restarts, and totals weekly hours and overtime against the holiday calendar and your special days.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var checkinCmd = &cobra.Command{
	Use:   "checkin [employee]",
	Short: "Start a work session",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheckin,
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the running session",
	RunE:  runPause,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused session",
	RunE:  runResume,
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Close the session and record the worked time",
	RunE:  runCheckout,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Discard the open session and its check-in",
	RunE:  runCancel,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session and today's worked time",
	RunE:  runStatus,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open the live timer",
	RunE:  runWatch,
}

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Run the background reminder process",
	RunE:  runRemind,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Open config file in your editor",
	RunE:  runConfig,
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output to stderr")
	rootCmd.PersistentFlags().StringP("employee", "e", "", "Employee name (overrides config)")

	remindCmd.Flags().Bool("stop", false, "Stop the running reminder process")
	remindCmd.Flags().Duration("poll", scheduler.DefaultPollInterval, "How often to read the session from the store")

	rootCmd.AddCommand(checkinCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(remindCmd)
	rootCmd.AddCommand(configCmd)
	addReportCommands(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// app holds the components a command works with.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	oracle  *calendar.Oracle
	agg     *worktime.Aggregator
	ledger  *specialday.Ledger
	tracker *worktime.Tracker
	engine  *timer.Engine
	relay   *relay.Relay
	sink    notify.Sink
}

// newApp opens the store and recovers the persisted session. With withRelay
// the engine reports to a relay the caller must Run.
func newApp(cmd *cobra.Command, withRelay bool) (*app, error) {
	logger := newLogger(cmd)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := store.New(db, logger)

	a := &app{cfg: cfg, logger: logger, store: s}
	a.oracle = newOracle(cmd.Context(), cfg, logger)

	a.sink = notify.Log{Logger: logger}
	if cfg.Notifications.Enabled {
		a.sink = notify.Multi{notify.Desktop{}, a.sink}
	}

	a.agg = worktime.New(a.oracle,
		worktime.WithThreshold(cfg.Work.WeeklyThresholdHours),
		worktime.WithDailyHours(cfg.Work.DailyTheoreticalHours),
	)
	a.ledger = specialday.New(s,
		specialday.WithMaxDaysAhead(cfg.Work.MaxDaysAhead),
		specialday.WithLogger(logger),
	)
	a.tracker = worktime.NewTracker(s, a.agg, a.sink, worktime.WithTrackerLogger(logger))

	opts := []timer.Option{
		timer.WithLogger(logger),
		timer.WithCheckOutHook(a.tracker.OnCheckOut),
	}
	if withRelay {
		a.relay = relay.New(a.sink,
			relay.WithInterval(time.Duration(cfg.Notifications.ReminderIntervalMinutes)*time.Minute),
			relay.WithLogger(logger),
		)
		opts = append(opts, timer.WithRelay(a.relay))
	}
	a.engine = timer.New(s, opts...)

	if _, err := a.engine.Recover(); err != nil {
		s.Close()
		return nil, fmt.Errorf("recovering session: %w", err)
	}
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func newOracle(ctx context.Context, cfg *config.Config, logger *slog.Logger) *calendar.Oracle {
	opts := []calendar.Option{calendar.WithRegional(cfg.Calendar.IncludeRegional)}
	if src := cfg.Calendar.ExtraHolidays; src != "" {
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		extra, err := calendar.LoadICS(ctx, src, time.Local)
		if err != nil {
			logger.Warn("extra holidays unavailable", "source", src, "error", err)
		} else {
			opts = append(opts, calendar.WithExtra(extra))
		}
	}
	return calendar.New(opts...)
}

// employee resolves the name: argument, flag, config, then the last name
// used on this machine.
func (a *app) employee(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	if v, _ := cmd.Flags().GetString("employee"); strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), nil
	}
	if a.cfg.Employee.Name != "" {
		return a.cfg.Employee.Name, nil
	}
	var name string
	err := a.store.View(func(tx *store.Tx) error {
		var err error
		name, err = tx.EmployeeName()
		return err
	})
	return name, err
}

// parseDate accepts YYYY-MM-DD or natural language ("yesterday",
// "last monday").
func parseDate(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t, nil
	}
	t, err := naturaldate.Parse(s, now)
	if err != nil || t.IsZero() {
		return time.Time{}, apperr.Invalid("date", fmt.Sprintf("cannot understand %q", s))
	}
	return t, nil
}

func printStatus(st timer.Status) {
	if st.Session == nil {
		fmt.Println("No active session.")
		return
	}
	fmt.Printf("%s  %s  (%s, checked in %s)\n",
		store.FormatClock(st.Elapsed),
		st.State,
		st.Session.Employee,
		st.Session.StartedAt.Local().Format("Mon 15:04"),
	)
}

func runCheckin(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	name, err := a.employee(cmd, args)
	if err != nil {
		return err
	}
	rec, err := a.engine.Start(name)
	if err != nil {
		return err
	}
	fmt.Printf("Checked in as %s at %s.\n", rec.Employee, rec.Timestamp.Local().Format("15:04:05"))
	return nil
}

func runPause(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.engine.Pause()
	if err != nil {
		return err
	}
	printStatus(st)
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.engine.Resume()
	if err != nil {
		return err
	}
	printStatus(st)
	return nil
}

func runCheckout(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.engine.Stop()
	if err != nil {
		return err
	}
	fmt.Printf("Checked out at %s after %s worked.\n", rec.Timestamp.Local().Format("15:04:05"), rec.WorkedFormatted)

	in, err := worktime.Load(a.store, rec.Employee)
	if err != nil {
		return err
	}
	week := a.agg.Week(in, a.agg.AttributedDay(rec, in.Records))
	fmt.Printf("Week %d: %.2fh worked", week.ISOWeek, week.WorkedHours())
	if week.OvertimeHours > 0 {
		fmt.Printf(", %.2fh overtime", week.OvertimeHours)
	}
	fmt.Println()
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.engine.Cancel(); err != nil {
		return err
	}
	fmt.Println("Session cancelled; its check-in was removed.")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.engine.Tick()
	if err != nil {
		return err
	}
	printStatus(st)

	name, err := a.employee(cmd, args)
	if err != nil {
		return err
	}
	in, err := worktime.Load(a.store, name)
	if err != nil {
		return err
	}
	week := a.agg.Week(in, time.Now())
	today := week.Days[(int(time.Now().Weekday())+6)%7]
	fmt.Printf("Today: %s  Week %d: %.2fh of %.0fh", store.FormatClock(today.Worked), week.ISOWeek, week.WorkedHours(), week.TheoreticalHours)
	if week.OvertimeHours > 0 {
		fmt.Printf(" (+%.2fh overtime)", week.OvertimeHours)
	}
	fmt.Println()
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.relay.Run(ctx)

	name, err := a.employee(cmd, args)
	if err != nil {
		return err
	}
	weekFn := func() (worktime.WeekSummary, error) {
		in, err := worktime.Load(a.store, name)
		if err != nil {
			return worktime.WeekSummary{}, err
		}
		return a.agg.Week(in, time.Now()), nil
	}

	view := tui.NewApp(a.engine, name, weekFn)
	p := tea.NewProgram(view, tea.WithReportFocus())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}

	if res := view.GetResult(); res != nil && res.CheckedOut != nil {
		fmt.Printf("Checked out after %s.\n", res.CheckedOut.WorkedFormatted)
	}
	return nil
}

func runRemind(cmd *cobra.Command, args []string) error {
	if stop, _ := cmd.Flags().GetBool("stop"); stop {
		pid, err := scheduler.ReadPID()
		if err != nil {
			return err
		}

		process, err := os.FindProcess(pid)
		if err != nil {
			return fmt.Errorf("finding process %d: %w", pid, err)
		}

		if err := process.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("sending stop signal: %w", err)
		}

		fmt.Printf("Sent stop signal to punchclock reminders (PID %d)\n", pid)
		return nil
	}

	a, err := newApp(cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	// The engine is not driven here; the watcher feeds the relay from the
	// store instead.
	poll, _ := cmd.Flags().GetDuration("poll")
	w := scheduler.New(a.store, a.relay, poll, a.logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go a.relay.Run(ctx)
	fmt.Println("Reminders running. Stop with 'punchclock remind --stop' or Ctrl+C.")
	return w.Run(ctx, true)
}

func runConfig(cmd *cobra.Command, args []string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath, err := config.ConfigPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Create default config file
		cfg := config.DefaultConfig()
		data := fmt.Sprintf(`[employee]
name = "%s"

[storage]
path = "%s"

[calendar]
include_regional = %t
extra_holidays = "%s"

[work]
weekly_threshold_hours = %.1f
daily_theoretical_hours = %.1f
max_days_ahead = %d

[notifications]
enabled = %t
reminder_interval_minutes = %d
`,
			cfg.Employee.Name,
			cfg.Storage.Path,
			cfg.Calendar.IncludeRegional,
			cfg.Calendar.ExtraHolidays,
			cfg.Work.WeeklyThresholdHours,
			cfg.Work.DailyTheoreticalHours,
			cfg.Work.MaxDaysAhead,
			cfg.Notifications.Enabled,
			cfg.Notifications.ReminderIntervalMinutes,
		)
		if err := os.WriteFile(configPath, []byte(data), 0644); err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}

	fmt.Printf("Opening %s with %s...\n", configPath, editor)

	proc := os.ProcAttr{
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
	}
	process, err := os.StartProcess(editor, []string{editor, configPath}, &proc)
	if err != nil {
		// If editor fails, just print the path
		fmt.Printf("Could not open editor. Config file is at: %s\n", configPath)
		return nil
	}
	_, err = process.Wait()
	return err
}
