package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/classlog/internal/attendance"
	"github.com/goodtune/classlog/internal/config"
	"github.com/goodtune/classlog/internal/liveness"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats <student-id>",
	Short: "Print a student's attendance statistics",
	Long:  `Print per-subject attendance, the classes needed to reach 75% and the classes that can still be missed.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	// Reports never start rotation, so the controller stays idle
	controller := liveness.New(store.Sessions(), livenessConfig(cfg.Liveness), zerolog.Nop())
	service := attendance.NewService(store, controller, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report, err := service.StudentReport(ctx, args[0])
	if err != nil {
		return err
	}

	printReport(report)
	return nil
}

func printReport(report *attendance.StudentReport) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed, color.Bold)

	_, _ = cyan.Printf("%s (%s), group %s\n", report.Student.Name, report.Student.ID, report.Student.GroupID)
	_, _ = fmt.Fprintf(os.Stdout, "Overall attendance: %d%% across %d records\n\n", report.Overall, len(report.Events))

	_, _ = fmt.Fprintf(os.Stdout, "%-24s %8s %8s %6s %8s %8s\n", "SUBJECT", "ATTENDED", "TOTAL", "PCT", "NEED", "CAN SKIP")
	for _, s := range report.Subjects {
		line := fmt.Sprintf("%-24s %8d %8d %5d%% %8d %8d\n",
			s.Subject, s.AttendedSessions, s.TotalSessions, s.Percentage, s.ClassesNeededFor75, s.ClassesCanSkip)
		if s.ClassesNeededFor75 > 0 {
			_, _ = red.Print(line)
		} else {
			_, _ = green.Print(line)
		}
	}
}
