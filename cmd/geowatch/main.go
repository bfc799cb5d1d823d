package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"geowatch/internal/app"
	"geowatch/internal/config"
	"geowatch/internal/model"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file named by the defaults.
func loadConfig() (*config.Config, error) {
	paths, err := app.DefaultPaths()
	if err != nil {
		return nil, err
	}
	cfg, err := config.ReadFromFile(paths.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a MonitorApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "AddArea", "RunPass").
func newApp(ctx context.Context, operation string) (*app.MonitorApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.NewMonitorApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// unlock opens encrypted imagery with GEOWATCH_PASSPHRASE, or prompts for
// the passphrase when attached to a terminal.
func unlock(a *app.MonitorApp) error {
	if !a.Locked() {
		return nil
	}
	pass := os.Getenv(app.PassphraseEnv)
	if pass == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return nil // the operation reports the locked store
		}
		var err error
		if pass, err = readPassphrase("Passphrase: "); err != nil {
			return err
		}
	}
	return a.Unlock(pass)
}

func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "geowatch",
	Short:        "Satellite imagery change monitoring",
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
		paths, err := app.DefaultPaths()
		if err != nil {
			return err
		}

		cfg := config.NewConfig(paths.BaseDir)
		if err := config.Init(paths.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", paths.ConfigPath)
		fmt.Printf("Base Dir: %s\n", paths.BaseDir)
		fmt.Println("Set imagery.api_key (or imagery.api_key_file) before capturing.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.DefaultPaths()
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		listen := cfg.Server.Listen
		if listen == "" {
			listen = "(disabled)"
		}
		fmt.Printf("Configuration from %s:\n\n", paths.ConfigPath)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Database:    %s\n", cfg.Database.Type)
		fmt.Printf("Image Store: %s\n", cfg.ImageStore.Type)
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		fmt.Printf("Imagery:     %s zoom=%d size=%s\n", cfg.Imagery.Provider, cfg.Imagery.Zoom, cfg.Imagery.ImageSize)
		fmt.Printf("Interval:    %s\n", cfg.Monitor.Interval)
		fmt.Printf("Notify:      fcm=%t shoutrrr=%t mqtt=%t\n", cfg.Notify.FCM.Enabled, cfg.Notify.Shoutrrr.Enabled, cfg.Notify.MQTT.Enabled)
		fmt.Printf("Server:      %s\n", listen)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage image encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		pass := os.Getenv(app.PassphraseEnv)
		if pass == "" {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("no terminal: set %s", app.PassphraseEnv)
			}
			if pass, err = readPassphrase("New passphrase: "); err != nil {
				return err
			}
			confirm, err := readPassphrase("Confirm passphrase: ")
			if err != nil {
				return err
			}
			if confirm != pass {
				return fmt.Errorf("passphrases do not match")
			}
		}

		if err := app.SetupKeys(cfg, pass); err != nil {
			return err
		}
		fmt.Printf("Keys written to %s and %s\n", cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// area command
var areaCmd = &cobra.Command{
	Use:   "area",
	Short: "Manage monitored areas",
}

var areaAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Add an area to monitor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		lat, _ := f.GetFloat64("lat")
		lon, _ := f.GetFloat64("lon")
		north, _ := f.GetFloat64("north")
		south, _ := f.GetFloat64("south")
		east, _ := f.GetFloat64("east")
		west, _ := f.GetFloat64("west")

		a, err := newApp(cmd.Context(), "AddArea")
		if err != nil {
			return err
		}
		defer a.Close()

		area, err := a.AddArea(cmd.Context(), &model.AreaConfig{
			Name:      args[0],
			CenterLat: lat,
			CenterLon: lon,
			NorthKm:   north,
			SouthKm:   south,
			EastKm:    east,
			WestKm:    west,
		})
		if err != nil {
			return fmt.Errorf("adding area: %w", err)
		}
		fmt.Printf("Added area %s (%s)\n", area.ID, area.Name)
		return nil
	},
}

var areaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List monitored areas",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ListAreas")
		if err != nil {
			return err
		}
		defer a.Close()

		areas, err := a.ListAreas(cmd.Context())
		if err != nil {
			return err
		}
		if len(areas) == 0 {
			fmt.Println("No areas configured.")
			return nil
		}
		for _, ar := range areas {
			fmt.Printf("%s  %-20s  %.6f,%.6f  N%.2f S%.2f E%.2f W%.2f km\n",
				ar.ID, ar.Name, ar.CenterLat, ar.CenterLon, ar.NorthKm, ar.SouthKm, ar.EastKm, ar.WestKm)
		}
		return nil
	},
}

var areaShowCmd = &cobra.Command{
	Use:   "show AREA_ID",
	Short: "Show an area and its tile grid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ShowArea")
		if err != nil {
			return err
		}
		defer a.Close()

		area, grid, err := a.ShowArea(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("ID:      %s\n", area.ID)
		fmt.Printf("Name:    %s\n", area.Name)
		fmt.Printf("Center:  %.6f, %.6f\n", area.CenterLat, area.CenterLon)
		fmt.Printf("Extents: N%.3f S%.3f E%.3f W%.3f km\n", area.NorthKm, area.SouthKm, area.EastKm, area.WestKm)
		fmt.Printf("Created: %s\n", area.CreatedAt.Format(time.DateTime))
		fmt.Printf("Grid:    %d x %d tiles (%.0f m)\n", grid.LatTiles, grid.LonTiles, grid.TileSizeMeters)

		verbose, _ := cmd.Flags().GetBool("tiles")
		if verbose {
			for _, tile := range grid.Tiles() {
				fmt.Printf("  [%d,%d] %s\n", tile.I, tile.J, tile.Key)
			}
		}
		return nil
	},
}

// capture command
var captureCmd = &cobra.Command{
	Use:   "capture AREA_ID",
	Short: "Capture current imagery for an area",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CaptureArea")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Capture(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("capture failed: %w", err)
		}
		fmt.Printf("Captured %d of %d tile(s), %d failed\n", res.Captured, res.Tiles, res.Failed)
		return nil
	},
}

// compare command
var compareCmd = &cobra.Command{
	Use:   "compare AREA_ID",
	Short: "Compare the latest captures of an area",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CompareArea")
		if err != nil {
			return err
		}
		defer a.Close()
		if err := unlock(a); err != nil {
			return err
		}

		res, err := a.Compare(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("compare failed: %w", err)
		}
		fmt.Printf("Session %s: %s\n", res.SessionID, res.Status)
		fmt.Printf("Compared %d, changed %d, errored %d, skipped %d\n", res.Compared, res.Changed, res.Errored, res.Skipped)
		if res.Changed > 0 {
			fmt.Printf("Notification sent: %t\n", res.NotificationSent)
		}
		return nil
	},
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Monitor all areas on the configured interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")

		a, err := newApp(cmd.Context(), "RunPass")
		if err != nil {
			return err
		}
		defer a.Close()
		if err := unlock(a); err != nil {
			return err
		}

		if once {
			res, err := a.RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("monitor pass failed: %w", err)
			}
			fmt.Printf("Pass %s: %s, %d area(s), %d failed, %s\n",
				res.PassID, res.Status, res.AreasTotal, res.AreasFailed, res.Elapsed.Truncate(time.Millisecond))
			return nil
		}
		return a.Run(cmd.Context())
	},
}

// sessions command
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent alert sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		areaID, _ := cmd.Flags().GetString("area")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "ListSessions")
		if err != nil {
			return err
		}
		defer a.Close()

		sessions, err := a.ListSessions(cmd.Context(), areaID, limit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No alert sessions recorded.")
			return nil
		}
		for _, s := range sessions {
			fmt.Printf("%s  %s  %s  %-27s  changes=%d compared=%d errored=%d notified=%t\n",
				s.ID,
				s.AreaID,
				s.StartedAt.Format(time.DateTime),
				s.Status,
				s.TotalChangesDetected,
				s.TilesCompared,
				s.TilesErrored,
				s.NotificationSent,
			)
		}
		return nil
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session SESSION_ID",
	Short: "Show the changes recorded in an alert session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "SessionDetails")
		if err != nil {
			return err
		}
		defer a.Close()

		s, details, err := a.SessionDetails(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Session %s (area %s)\n", s.ID, s.AreaID)
		fmt.Printf("Status:  %s\n", s.Status)
		fmt.Printf("Started: %s\n", s.StartedAt.Format(time.DateTime))
		if s.FinishedAt.Valid {
			fmt.Printf("Finished: %s\n", s.FinishedAt.Time.Format(time.DateTime))
		}
		fmt.Printf("Changes: %d  Compared: %d  Errored: %d  Notified: %t\n",
			s.TotalChangesDetected, s.TilesCompared, s.TilesErrored, s.NotificationSent)

		if len(details) == 0 {
			fmt.Println("No changes recorded.")
			return nil
		}
		for _, d := range details {
			fmt.Printf("  %6.2f%%  %s -> %s  %s\n",
				d.ChangeLog.ChangePercent, d.PreviousImageRef, d.CurrentImageRef, d.ChangeLog.Message)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View monitoring pass history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "GetHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		passes, err := a.GetHistory(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(passes) == 0 {
			fmt.Println("No monitoring passes recorded.")
			return nil
		}
		for _, p := range passes {
			duration := ""
			if p.FinishedAt.Valid {
				d := p.FinishedAt.Time.Sub(p.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("%s  %s  %-8s  areas=%d failed=%d  %s\n",
				p.ID,
				p.StartedAt.Format(time.DateTime),
				p.Status,
				p.AreasTotal,
				p.AreasFailed,
				duration,
			)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	keysCmd.AddCommand(keysInitCmd)

	// area subcommands
	areaCmd.AddCommand(areaAddCmd)
	areaCmd.AddCommand(areaListCmd)
	areaCmd.AddCommand(areaShowCmd)
	areaAddCmd.Flags().Float64("lat", 0, "Center latitude in degrees")
	areaAddCmd.Flags().Float64("lon", 0, "Center longitude in degrees")
	areaAddCmd.Flags().Float64("north", 0, "Extent north of center in km")
	areaAddCmd.Flags().Float64("south", 0, "Extent south of center in km")
	areaAddCmd.Flags().Float64("east", 0, "Extent east of center in km")
	areaAddCmd.Flags().Float64("west", 0, "Extent west of center in km")
	areaAddCmd.MarkFlagRequired("lat")
	areaAddCmd.MarkFlagRequired("lon")
	areaShowCmd.Flags().Bool("tiles", false, "List every tile in the grid")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(areaCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("once", false, "Run a single pass and exit")
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.Flags().String("area", "", "Only sessions for this area ID")
	sessionsCmd.Flags().IntP("limit", "n", 20, "Maximum number of sessions to show")
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of passes to show")
}
