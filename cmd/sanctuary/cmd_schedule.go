/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/sanctuary/internal/content"
	"github.com/friendsincode/sanctuary/internal/db"
	"github.com/friendsincode/sanctuary/internal/events"
	"github.com/friendsincode/sanctuary/internal/models"
	"github.com/friendsincode/sanctuary/internal/schedule"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Inspect and move the service schedule",
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the schedule in running order",
	RunE:  runScheduleList,
}

var scheduleExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the schedule as YAML",
	RunE:  runScheduleExport,
}

var scheduleImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the schedule from a YAML export",
	Long:  "Replace the schedule from a YAML export. The server must be stopped, the import takes the session lock.",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleImport,
}

var scheduleExportPath string

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleExportCmd)
	scheduleCmd.AddCommand(scheduleImportCmd)

	scheduleExportCmd.Flags().StringVarP(&scheduleExportPath, "output", "o", "", "File to write (default stdout)")
}

// openSchedule loads the persisted schedule without a running session.
func openSchedule(ctx context.Context) (*schedule.Manager, *content.Store, func(), error) {
	if err := loadConfig(); err != nil {
		return nil, nil, nil, err
	}
	database, err := initDatabase()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	store := content.NewStore(database, events.Nop{}, logger)
	mgr := schedule.NewManager(store, schedule.NewStore(database), events.Nop{}, logger)
	if err := mgr.Load(ctx); err != nil {
		_ = db.Close(database)
		return nil, nil, nil, fmt.Errorf("load schedule: %w", err)
	}
	return mgr, store, func() { _ = db.Close(database) }, nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr, store, done, err := openSchedule(ctx)
	if err != nil {
		return err
	}
	defer done()

	items := mgr.Items()
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "schedule is empty")
		return nil
	}

	rows := make([][]string, 0, len(items))
	for _, it := range items {
		title, typ := "(missing)", ""
		if c, err := store.GetByID(ctx, it.ContentID); err == nil {
			title, typ = c.Title, string(c.Type)
		}
		rows = append(rows, []string{
			strconv.Itoa(it.Order + 1),
			title,
			typ,
			formatSeconds(it.Duration),
			formatSeconds(it.Delay),
			string(it.Transition),
			formatScheduledFor(it),
			it.ID,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"#", "Title", "Type", "Duration", "Delay", "Transition", "Starts", "ID"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight},
	))
	return nil
}

func runScheduleExport(cmd *cobra.Command, args []string) error {
	mgr, _, done, err := openSchedule(cmd.Context())
	if err != nil {
		return err
	}
	defer done()

	var w io.Writer = cmd.OutOrStdout()
	if scheduleExportPath != "" {
		f, err := os.Create(scheduleExportPath)
		if err != nil {
			return fmt.Errorf("create %s: %w", scheduleExportPath, err)
		}
		defer f.Close()
		w = f
	}
	return mgr.Export(cmd.Context(), w)
}

func runScheduleImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open %s: %w", args[0], err)
	}
	defer f.Close()

	mgr, _, done, err := openSchedule(cmd.Context())
	if err != nil {
		return err
	}
	defer done()

	lock, err := acquireSessionLock()
	if err != nil {
		return err
	}
	defer lock.Unlock()

	items, err := mgr.Import(cmd.Context(), f)
	if err != nil {
		return fmt.Errorf("import schedule: %w", err)
	}
	logger.Info().Int("items", len(items)).Str("file", args[0]).Msg("schedule imported")
	return nil
}

func formatSeconds(v float64) string {
	if v <= 0 {
		return "-"
	}
	return (time.Duration(v * float64(time.Second))).Round(time.Second).String()
}

func formatScheduledFor(it models.ScheduledItem) string {
	if it.ScheduledFor == nil {
		return "-"
	}
	return it.ScheduledFor.Local().Format("Mon 15:04")
}
