package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/christopherklint97/punchclock/internal/apperr"
	"github.com/christopherklint97/punchclock/internal/calendar"
	"github.com/christopherklint97/punchclock/internal/config"
	"github.com/christopherklint97/punchclock/internal/specialday"
	"github.com/christopherklint97/punchclock/internal/store"
	"github.com/christopherklint97/punchclock/internal/worktime"
)

func addReportCommands(root *cobra.Command) {
	weekCmd := &cobra.Command{
		Use:   "week [date]",
		Short: "Show the week containing date (default today)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWeek,
	}

	overtimeCmd := &cobra.Command{
		Use:   "overtime",
		Short: "Show weekly overtime for a period",
		RunE:  runOvertime,
	}
	overtimeCmd.Flags().String("from", "", "First date (default: first record)")
	overtimeCmd.Flags().String("to", "", "Last date (default: today)")

	overtimeLogCmd := &cobra.Command{
		Use:   "log",
		Short: "List recorded overtime weeks",
		RunE:  runOvertimeLog,
	}
	overtimeLogCmd.Flags().String("from", "", "First week start (default: any)")
	overtimeLogCmd.Flags().String("to", "", "Last week start (default: any)")
	overtimeMarkCmd := &cobra.Command{
		Use:   "mark <id> <pendiente|pagado|compensado> [note]",
		Short: "Set the status of a recorded overtime week",
		Args:  cobra.RangeArgs(2, 3),
		RunE:  runOvertimeMark,
	}
	overtimeRmCmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a recorded overtime week",
		Args:  cobra.ExactArgs(1),
		RunE:  runOvertimeRm,
	}
	overtimeCmd.AddCommand(overtimeLogCmd, overtimeMarkCmd, overtimeRmCmd)

	specialCmd := &cobra.Command{
		Use:   "special",
		Short: "Manage special days (vacation, sick leave, permits...)",
	}
	specialAddCmd := &cobra.Command{
		Use:   "add <date> <type> [reason]",
		Short: "Register a special day",
		Long:  "Register a special day. Types: festivo_manual, fiesta_personal, baja_laboral, vacaciones, permiso.",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runSpecialAdd,
	}
	specialAddCmd.Flags().Float64("hours", -1, "Credited hours (default: weekday table)")
	specialListCmd := &cobra.Command{
		Use:   "list",
		Short: "List special days",
		RunE:  runSpecialList,
	}
	specialListCmd.Flags().Bool("all", false, "Include deactivated entries")
	specialDeactivateCmd := &cobra.Command{
		Use:   "deactivate <id>",
		Short: "Exclude a special day from totals but keep it",
		Args:  cobra.ExactArgs(1),
		RunE:  runSpecialDeactivate,
	}
	specialRmCmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a special day",
		Args:  cobra.ExactArgs(1),
		RunE:  runSpecialRm,
	}
	specialStatsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize special days of a period",
		RunE:  runSpecialStats,
	}
	specialStatsCmd.Flags().String("from", "", "First date (default: January 1)")
	specialStatsCmd.Flags().String("to", "", "Last date (default: December 31)")
	specialCmd.AddCommand(specialAddCmd, specialListCmd, specialDeactivateCmd, specialRmCmd, specialStatsCmd)

	holidaysCmd := &cobra.Command{
		Use:   "holidays [year]",
		Short: "List the holidays of a year",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHolidays,
	}
	holidaysCmd.Flags().String("ics", "", "Write the holidays as iCalendar to this file ('-' for stdout)")

	employeeCmd := &cobra.Command{
		Use:   "employee [name]",
		Short: "Show or set the default employee name",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runEmployee,
	}

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the stored data",
		RunE:  runSchema,
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Print all stored data as JSON",
		RunE:  runExport,
	}

	root.AddCommand(weekCmd, overtimeCmd, specialCmd, holidaysCmd, employeeCmd, schemaCmd, exportCmd)
}

func dateArg(cmd *cobra.Command, flag string, fallback time.Time) (time.Time, error) {
	v, _ := cmd.Flags().GetString(flag)
	if v == "" {
		return fallback, nil
	}
	return parseDate(v, time.Now())
}

func printWeek(w worktime.WeekSummary) {
	fmt.Printf("Week %d of %d  (%s – %s)\n\n", w.ISOWeek, w.Year,
		w.WeekStart.Format("Mon 02 Jan"), w.WeekEnd.Format("Mon 02 Jan"))

	for _, d := range w.Days {
		worked := "        "
		if d.Worked > 0 {
			worked = store.FormatClock(d.Worked)
		}
		live := ""
		if d.Live {
			live = "  (running)"
		}
		fmt.Printf("  %s  %s  %s%s\n", d.Date.Format("Mon 02"), worked, d.Kind, live)
	}

	fmt.Printf("\nWorked: %.2fh  Expected: %.0fh (%d business days)  Overtime: %.2fh\n",
		w.WorkedHours(), w.TheoreticalHours, w.Theoretical.BusinessDays, w.OvertimeHours)
}

func runWeek(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	day := time.Now()
	if len(args) == 1 {
		if day, err = parseDate(args[0], time.Now()); err != nil {
			return err
		}
	}

	name, err := a.employee(cmd, nil)
	if err != nil {
		return err
	}
	in, err := worktime.Load(a.store, name)
	if err != nil {
		return err
	}
	printWeek(a.agg.Week(in, day))
	return nil
}

func runOvertime(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	name, err := a.employee(cmd, nil)
	if err != nil {
		return err
	}
	in, err := worktime.Load(a.store, name)
	if err != nil {
		return err
	}

	first, _, ok := a.agg.Span(in)
	if !ok {
		fmt.Println("Nothing recorded yet.")
		return nil
	}
	from, err := dateArg(cmd, "from", first)
	if err != nil {
		return err
	}
	to, err := dateArg(cmd, "to", time.Now())
	if err != nil {
		return err
	}

	sum := worktime.Summarize(a.agg.Range(in, from, to))
	for _, w := range sum.Weeks {
		marker := ""
		if w.OvertimeHours > 0 {
			marker = fmt.Sprintf("  +%.2fh", w.OvertimeHours)
		}
		fmt.Printf("  %d-W%02d  %s  %6.2fh%s\n", w.Year, w.ISOWeek, w.WeekStart.Format("02 Jan"), w.WorkedHours(), marker)
	}

	fmt.Printf("\nOvertime: %.2fh in %d of %d weeks\n", sum.TotalOvertimeHours, sum.WeeksWithOvertime, len(sum.Weeks))
	for _, m := range sum.Months() {
		fmt.Printf("  %s  %.2fh\n", m, sum.ByMonth[m])
	}
	return nil
}

func runOvertimeLog(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	name, _ := cmd.Flags().GetString("employee")
	entries, err := a.tracker.Log(name)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No overtime recorded.")
		return nil
	}

	for _, e := range entries {
		fmt.Printf("  %s  %d-W%02d  %-10s %6.2fh of %6.2fh  %s", e.ID, e.Year, e.ISOWeek, e.Status, e.OvertimeHours, e.WeeklyHours, e.Employee)
		if e.Notes != "" {
			fmt.Printf("  %q", e.Notes)
		}
		fmt.Println()
	}

	from, err := dateArg(cmd, "from", time.Time{})
	if err != nil {
		return err
	}
	to, err := dateArg(cmd, "to", time.Now().AddDate(1, 0, 0))
	if err != nil {
		return err
	}
	sum, err := a.tracker.Summary(from, to, name)
	if err != nil {
		return err
	}
	fmt.Printf("\n%d weeks, %.2fh overtime:", sum.Entries, sum.TotalHours)
	for _, st := range []store.OvertimeStatus{store.OvertimePending, store.OvertimePaid, store.OvertimeCompensated} {
		fmt.Printf("  %s %.2fh", st, sum.ByStatus[st])
	}
	fmt.Println()
	return nil
}

func runOvertimeMark(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	note := ""
	if len(args) == 3 {
		note = args[2]
	}
	if err := a.tracker.SetStatus(args[0], store.OvertimeStatus(args[1]), note); err != nil {
		return err
	}
	fmt.Printf("Marked %s as %s.\n", args[0], args[1])
	return nil
}

func runOvertimeRm(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.tracker.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s.\n", args[0])
	return nil
}

func runSpecialAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	date, err := parseDate(args[0], time.Now())
	if err != nil {
		return err
	}
	name, err := a.employee(cmd, nil)
	if err != nil {
		return err
	}

	req := specialday.RegisterRequest{
		Date:     date,
		Type:     store.SpecialDayType(args[1]),
		Reason:   strings.Join(args[2:], " "),
		Employee: name,
	}
	if h, _ := cmd.Flags().GetFloat64("hours"); h >= 0 {
		req.Hours = &h
	}

	entry, err := a.ledger.Register(req)
	if err != nil {
		return err
	}
	fmt.Printf("Registered %s on %s for %s: %.1fh credited (%s).\n",
		entry.Type.DisplayName(), entry.Date, entry.Employee, entry.Hours, entry.ID)
	return nil
}

func runSpecialList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	all, _ := cmd.Flags().GetBool("all")
	name, _ := cmd.Flags().GetString("employee")
	days, err := a.ledger.List(name)
	if err != nil {
		return err
	}

	shown := 0
	for _, d := range days {
		if !d.Active && !all {
			continue
		}
		state := ""
		if !d.Active {
			state = "  (inactive)"
		}
		fmt.Printf("  %s  %-16s %4.1fh  %-12s %s%s\n", d.Date, d.Type.DisplayName(), d.Hours, d.Employee, d.ID, state)
		if d.Reason != "" {
			fmt.Printf("      %s\n", d.Reason)
		}
		shown++
	}
	if shown == 0 {
		fmt.Println("No special days registered.")
	}
	return nil
}

func runSpecialDeactivate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.ledger.Deactivate(args[0]); err != nil {
		return err
	}
	fmt.Printf("Deactivated %s.\n", args[0])
	return nil
}

func runSpecialRm(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.ledger.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s.\n", args[0])
	return nil
}

func runSpecialStats(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	year := time.Now().Year()
	from, err := dateArg(cmd, "from", time.Date(year, time.January, 1, 0, 0, 0, 0, time.Local))
	if err != nil {
		return err
	}
	to, err := dateArg(cmd, "to", time.Date(year, time.December, 31, 0, 0, 0, 0, time.Local))
	if err != nil {
		return err
	}

	name, _ := cmd.Flags().GetString("employee")
	st, err := a.ledger.Stats(from, to, name)
	if err != nil {
		return err
	}

	fmt.Printf("%d special days, %.1fh credited (%s – %s)\n", st.Total, st.TotalHours, from.Format("2006-01-02"), to.Format("2006-01-02"))
	for _, t := range store.SpecialDayTypes {
		if ts, ok := st.ByType[t]; ok {
			fmt.Printf("  %-16s %3d  %6.1fh\n", t.DisplayName(), ts.Count, ts.Hours)
		}
	}
	return nil
}

func runHolidays(cmd *cobra.Command, args []string) error {
	year := time.Now().Year()
	if len(args) == 1 {
		y, err := strconv.Atoi(args[0])
		if err != nil || y < 1583 {
			return apperr.Invalid("year", fmt.Sprintf("%q is not a Gregorian year", args[0]))
		}
		year = y
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	oracle := newOracle(cmd.Context(), cfg, newLogger(cmd))
	holidays := oracle.HolidaysInYear(year, oracle.IncludesRegional(), time.Local)

	if path, _ := cmd.Flags().GetString("ics"); path != "" {
		out := os.Stdout
		if path != "-" {
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("creating %s: %w", path, err)
			}
			defer f.Close()
			out = f
		}
		if err := calendar.ExportICS(out, holidays, time.Now()); err != nil {
			return err
		}
		if path != "-" {
			fmt.Printf("Wrote %d holidays to %s\n", len(holidays), path)
		}
		return nil
	}

	for _, h := range holidays {
		fmt.Printf("  %s  %-11s %s\n", h.Date.Format("Mon 02 Jan"), h.Kind, h.Name)
	}
	return nil
}

func runEmployee(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 0 {
		name, err := a.employee(cmd, nil)
		if err != nil {
			return err
		}
		if name == "" {
			fmt.Println("No employee set. Use 'punchclock employee <name>'.")
			return nil
		}
		fmt.Println(name)
		return nil
	}

	name := strings.TrimSpace(args[0])
	if name == "" {
		return apperr.Invalid("employee", "name is required")
	}
	if err := config.SaveEmployeeName(name); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	if err := a.store.Update(func(tx *store.Tx) error { return tx.PutEmployeeName(name) }); err != nil {
		return err
	}
	fmt.Printf("Employee set to %s.\n", name)
	return nil
}

func runSchema(cmd *cobra.Command, args []string) error {
	r := &jsonschema.Reflector{DoNotReference: true}
	schema := r.Reflect(&store.Layout{})
	schema.Title = "punchclock store"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling schema: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	layout, err := a.store.Snapshot()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(layout)
}
