package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stockalert/internal/api"
	"stockalert/internal/models"
	"stockalert/internal/monitor"
	"stockalert/internal/store"
)

func newRunCmd(app *App) *cobra.Command {
	var noServer bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start monitoring armed alerts",
		Long: `Start the alert monitor. Data is fetched immediately and then on every
interval; each armed alert notifies once when its value falls to or below
the threshold. Stop with Ctrl+C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.buildRuntime(true)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var srv *api.Server
			if app.Config.Server.Enabled && !noServer {
				srv = api.NewServer(app.Config.Server, rt.Monitor, api.Options{
					Journal:  rt.Journal,
					Gatherer: rt.Registry,
					Metrics:  rt.Metrics,
					Logger:   app.Logger,
				})
				rt.Monitor.SetOnTrigger(srv.PublishTrigger)
				srv.Start()
			}

			if err := rt.Monitor.Start(ctx); err != nil {
				return err
			}

			output := NewOutput(cmd)
			if !output.IsJSON() {
				output.Info("Monitoring %d alert(s) every %s; channels: %v",
					rt.Monitor.Registry().Len(), app.Config.Monitor.Interval, rt.Notifier.Channels())
			}

			<-ctx.Done()
			rt.Monitor.Stop()

			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					app.Logger.Warn().Err(err).Msg("Control API shutdown")
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noServer, "no-server", false, "do not start the control API")
	return cmd
}

func newCheckCmd(app *App) *cobra.Command {
	var notifyFlag bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one fetch and evaluation cycle",
		Long: `Fetch stocks and currencies once, evaluate the configured alerts and
print the result. Notifications are only sent, and triggers only recorded
in history, with --notify.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.buildRuntime(notifyFlag)
			if err != nil {
				return err
			}
			defer rt.Close()

			result := rt.Monitor.RunCycle(cmd.Context())
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"cycle":  result,
					"alerts": rt.Monitor.Registry().List(),
				})
			}
			printCycle(output, rt.Monitor, result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&notifyFlag, "notify", false, "deliver notifications for triggered alerts")
	return cmd
}

func printCycle(output *Output, mon *monitor.Monitor, result monitor.CycleResult) {
	for _, kind := range models.Kinds {
		kr, ok := result.Kinds[kind]
		if !ok {
			continue
		}
		if kr.Err != nil {
			output.Warning("%s: fetch failed: %v", kind, kr.Err)
			continue
		}
		output.Info("%s: %d fetched", kind, kr.Fetched)
	}

	list := mon.Registry().List()
	if len(list) == 0 {
		output.Dim("No alerts armed")
		return
	}

	now := time.Now()
	table := NewTable(output, "KIND", "ID", "NAME", "THRESHOLD", "VALUE", "CHANGE", "AGE", "STATE")
	table.Colorize = func(col int, cell string) string {
		switch {
		case col == 7 && strings.HasPrefix(cell, string(models.AlertTriggered)):
			return output.Red(cell)
		case col == 5 && strings.HasPrefix(cell, "-"):
			return output.Red(cell)
		case col == 5 && strings.HasPrefix(cell, "+"):
			return output.Green(cell)
		}
		return cell
	}
	for _, a := range list {
		name, value, change, age := "", "-", "", "never"
		if obs, ok := mon.Store().Get(a.Key); ok {
			name = TruncateString(obs.Name, 24)
			value = FormatValue(obs.Value)
			change = FormatPercent(obs.ChangePercent)
			age = FormatAge(obs.ObservedAt, now)
		}
		table.AddRow(string(a.Key.Kind), a.Key.ID, name, FormatValue(a.Threshold), value, change, age, string(a.State))
	}
	table.Render()
}

func newHistoryCmd(app *App) *cobra.Command {
	var kind, id string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show triggered alert history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !app.Config.Store.Enabled {
				return fmt.Errorf("trigger history is disabled in config")
			}
			s, err := store.NewSQLiteStore(app.Config.Store.Path)
			if err != nil {
				return err
			}
			defer s.Close()

			filter := store.TriggerFilter{ID: id, Limit: limit}
			if kind != "" {
				k, err := models.ParseKind(kind)
				if err != nil {
					return err
				}
				filter.Kind = k
			}

			records, err := s.GetTriggers(cmd.Context(), filter)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(records)
			}
			if len(records) == 0 {
				output.Dim("No triggers recorded")
				return nil
			}

			table := NewTable(output, "TIME", "KIND", "ID", "THRESHOLD", "VALUE", "DELIVERED")
			for _, r := range records {
				delivered := "yes"
				if !r.Delivered {
					delivered = "no"
				}
				table.AddRow(
					FormatDateTime(r.TriggeredAt),
					string(r.Key.Kind), r.Key.ID,
					FormatValue(r.Threshold),
					FormatValue(r.Value),
					delivered,
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind (stock, currency)")
	cmd.Flags().StringVar(&id, "id", "", "filter by symbol or currency code")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records")
	return cmd
}
