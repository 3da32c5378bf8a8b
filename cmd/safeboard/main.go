package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"safeboard/internal/app"
	"safeboard/internal/board"
	"safeboard/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var debug bool

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp(ctx context.Context, stderr bool) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(ctx, cfg, app.Options{Stderr: stderr, Debug: debug})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "safeboard",
	Short:        "Days since the last workplace accident",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		sessionID := uuid.New().String()
		cfg := config.NewConfig(sessionID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Session ID: %s\n", sessionID)
		fmt.Printf("Base Dir:   %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		m := &config.Manager{}
		return m.Write(os.Stdout, cfg)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the websocket display feed and all background tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Serve(ctx)
	},
}

var displayCmd = &cobra.Command{
	Use:   "display",
	Short: "Show the board in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Display(ctx)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show elapsed time, record and time source status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		f := a.Status(ctx)
		if !f.Available {
			fmt.Println("Konfiguration wird geladen…")
			if f.Error != "" {
				fmt.Printf("Fehler: %s\n", f.Error)
			}
		} else {
			fmt.Printf("Tage ohne Arbeitsunfall: %d (%02d:%02d:%02d)\n",
				f.Elapsed.Days, f.Elapsed.Hours, f.Elapsed.Minutes, f.Elapsed.Seconds)
			fmt.Printf("Rekord:                  %d\n", f.RecordDays)
			fmt.Printf("Letzter Unfall:          %s\n", f.Config.LastAccidentDate.Local().Format("2006-01-02 15:04:05"))
		}

		st := f.Time
		fmt.Printf("Uhrzeit:                 %s\n", f.Now.Format("2006-01-02 15:04:05 MST"))
		switch {
		case !st.Enabled:
			fmt.Println("Zeitquelle:              deaktiviert (lokale Uhr)")
		case st.Online:
			fmt.Printf("Zeitquelle:              online (%s, Abweichung %d ms)\n", st.Source, st.Offset)
		default:
			fmt.Printf("Zeitquelle:              offline (%s)\n", st.Error)
		}
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the timer after an accident",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			ok, err := confirm("Timer wirklich zurücksetzen?")
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Abgebrochen.")
				return nil
			}
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.Reset(ctx)
		if err != nil {
			return errors.New(board.Message(err))
		}
		fmt.Printf("Timer zurückgesetzt. Vorherige Serie: %d Tage\n", out.PreviousDays)
		if out.RecordBroken {
			fmt.Printf("Neuer Rekord: %d Tage (vorher %d)\n", out.NewRecord, out.OldRecord)
		}
		return nil
	},
}

// record command
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Manage the record",
}

var recordSetCmd = &cobra.Command{
	Use:   "set DAYS",
	Short: "Override the record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		days, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid number of days %q", args[0])
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.SetRecord(ctx, days); err != nil {
			return errors.New(board.Message(err))
		}
		fmt.Printf("Rekord auf %d Tage gesetzt\n", days)
		return nil
	},
}

var recordResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Set the record to zero",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ResetRecord(ctx); err != nil {
			return errors.New(board.Message(err))
		}
		fmt.Println("Rekord zurückgesetzt")
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View reset history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.History(ctx, limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No resets recorded.")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s  %5d days  %s\n",
				e.ResetAt.Local().Format("2006-01-02 15:04:05"),
				e.PreviousDays,
				e.ID,
			)
		}
		return nil
	},
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Archive a snapshot of the config and history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		name, err := a.ExportHistory(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Archived %s\n", name)
		return nil
	},
}

// time command
var timeCmd = &cobra.Command{
	Use:   "time",
	Short: "Manage the remote time source",
}

var timeConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "View or change the time source configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer a.Close()

		cfg := a.TimeConfig()
		flags := cmd.Flags()
		if flags.Changed("url") || flags.Changed("enabled") || flags.Changed("timezone") {
			if flags.Changed("url") {
				cfg.APIURL, _ = flags.GetString("url")
			}
			if flags.Changed("enabled") {
				cfg.Enabled, _ = flags.GetBool("enabled")
			}
			if flags.Changed("timezone") {
				cfg.Timezone, _ = flags.GetString("timezone")
			}
			if err := a.SaveTimeConfig(cfg); err != nil {
				return errors.New(board.Message(err))
			}
		}

		fmt.Printf("URL:      %s\n", cfg.APIURL)
		fmt.Printf("Timezone: %s\n", cfg.Timezone)
		fmt.Printf("Enabled:  %t\n", cfg.Enabled)
		return nil
	},
}

var timeSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch the remote time now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.SyncTime(ctx)
		if err != nil {
			return errors.New(board.Message(err))
		}
		fmt.Printf("Synced with %s: %s (offset %s)\n",
			a.TimeStatus().Source, time.UnixMilli(p.RemoteUnixMs).Format("2006-01-02 15:04:05 MST"), p.Offset())
		return nil
	},
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Manage archived snapshots",
}

var archiveKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create the archive encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := readNewPassphrase()
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Keygen(passphrase); err != nil {
			return fmt.Errorf("creating keys: %w", err)
		}
		fmt.Println("Archive keys created. Set archive.encrypt = true to encrypt snapshots.")
		return nil
	},
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		names, err := a.ListArchive(ctx)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No snapshots archived.")
			return nil
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

var archiveCatCmd = &cobra.Command{
	Use:   "cat NAME",
	Short: "Print an archived snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := a.ReadArchive(ctx, args[0], func() (string, error) {
			return readPassphrase("Passphrase: ")
		})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// record subcommands
	recordCmd.AddCommand(recordSetCmd)
	recordCmd.AddCommand(recordResetCmd)

	// history subcommands
	historyCmd.AddCommand(historyExportCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of resets to show")

	// time subcommands
	timeCmd.AddCommand(timeConfigCmd)
	timeCmd.AddCommand(timeSyncCmd)
	timeConfigCmd.Flags().String("url", "", "Time API URL (http(s):// or ntp://)")
	timeConfigCmd.Flags().Bool("enabled", true, "Use the remote time source")
	timeConfigCmd.Flags().String("timezone", "", "IANA timezone for responses without offset")

	// archive subcommands
	archiveCmd.AddCommand(archiveKeygenCmd)
	archiveCmd.AddCommand(archiveListCmd)
	archiveCmd.AddCommand(archiveCatCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(displayCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(timeCmd)
	rootCmd.AddCommand(archiveCmd)
}
