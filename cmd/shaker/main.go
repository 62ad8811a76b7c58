// shaker - real-time multiplayer incremental game server
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ernie/shaker/internal/api"
	"github.com/ernie/shaker/internal/config"
	"github.com/ernie/shaker/internal/domain"
	"github.com/ernie/shaker/internal/game"
	"github.com/ernie/shaker/internal/logger"
	"github.com/ernie/shaker/internal/storage"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"
)

var version = "dev"

const defaultConfigPath = "/etc/shaker/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "leaderboard":
		cmdLeaderboard(os.Args[2:])
	case "user":
		cmdUser(os.Args[2:])
	case "version":
		fmt.Printf("shaker %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: shaker <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Start the game server")
	fmt.Println("  status                              Show server health and the active event")
	fmt.Println("  leaderboard [--top N]               Show top players (default: 20)")
	fmt.Println("  user add [--admin] <name>           Add a user and print its game token")
	fmt.Println("  user remove <name>                  Remove a user")
	fmt.Println("  user list                           List all users")
	fmt.Println("  user admin <name>                   Toggle admin status for a user")
	fmt.Println("  user rename <old> <new>             Change a user's display name")
	fmt.Println("  version                             Show version")
	fmt.Println("  help                                Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/shaker/config.yml)")
	fmt.Println("  --url <url>        Base URL of the shaker server (default: derived from config)")
	fmt.Println()
	fmt.Println("User commands edit the state snapshot directly; run them while the server is stopped.")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  shaker serve --config /etc/shaker/config.yml")
	fmt.Println("  shaker user add --admin host")
	fmt.Println("  shaker leaderboard --top 5")
}

// newState builds a State from configuration
func newState(cfg *config.Config, log zerolog.Logger) *game.State {
	return game.New(
		game.WithLogger(log),
		game.WithEconomy(domain.Economy{
			PerActionK: cfg.Economy.PerActionK,
			PerActionC: cfg.Economy.PerActionC,
			PassiveK:   cfg.Economy.PassiveK,
			PassiveC:   cfg.Economy.PassiveC,
		}),
		game.WithBlockSettings(domain.BlockSettings{
			BlockDurationMinutes:    cfg.Game.BlockDurationMinutes,
			CooldownDurationMinutes: cfg.Game.CooldownMinutes,
		}),
		game.WithAuditSize(cfg.Game.AuditSize),
		game.WithProtectedNames(cfg.Game.ProtectedNames...),
		game.WithTokenLength(cfg.Game.TokenLength),
	)
}

// restore loads the last snapshot into state. A missing or unreadable
// snapshot leaves the state empty.
func restore(ctx context.Context, store storage.Snapshotter, state *game.State, log zerolog.Logger) {
	snap, err := store.Load(ctx)
	switch {
	case errors.Is(err, storage.ErrNoSnapshot):
		log.Info().Msg("no snapshot found, starting empty")
	case err != nil:
		log.Error().Err(err).Msg("failed to load snapshot, starting empty")
	default:
		state.Load(snap)
		log.Info().Int("users", state.Len()).Time("saved_at", snap.SavedAt).Msg("snapshot restored")
	}
}

// cmdServe starts the game server
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfgPath := *configPath
	if cfgPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			cfgPath = defaultConfigPath
		} else {
			fmt.Fprintf(os.Stderr, "No config file found at %s. Use --config to specify a config file.\n", defaultConfigPath)
			os.Exit(1)
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.Init(logger.Options{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	log.Info().Str("version", version).Msg("shaker starting")

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Storage.Path).Msg("failed to open storage")
	}
	defer store.Close()
	log.Info().Str("path", cfg.Storage.Path).Msg("storage initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	state := newState(cfg, log)
	restore(ctx, store, state, log)

	router := api.NewRouter(state, api.Options{
		StaticDir:      cfg.Server.StaticDir,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log,
	})
	router.StartWebSocketHub(ctx)
	if cfg.Server.StaticDir != "" {
		log.Info().Str("dir", cfg.Server.StaticDir).Msg("serving static files")
	}

	scheduler := game.NewScheduler(state, store, game.Intervals{
		Leaderboard: cfg.Game.LeaderboardInterval,
		Passive:     cfg.Game.PassiveInterval,
		BlockSweep:  cfg.Game.BlockSweepInterval,
		EventSweep:  cfg.Game.EventSweepInterval,
		Persist:     cfg.Storage.PersistInterval,
	})
	scheduler.Start(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serverErr:
		log.Fatal().Err(err).Msg("HTTP server error")
	}

	// Sequential shutdown: no new requests, then loops and final snapshot, then sockets
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown error")
	}

	scheduler.Stop()
	cancel()
	log.Info().Msg("shutdown complete")
}

// CLI helper variables
var (
	baseURL     = "http://localhost:8080"
	storagePath string
)

// loadCLIConfigFromFlags loads config using pre-parsed flag values
func loadCLIConfigFromFlags(configPath, url string) *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", configPath, err)
		cfg = config.Default()
		storagePath = cfg.Storage.Path
		if url != "" {
			baseURL = url
		}
		return cfg
	}

	storagePath = cfg.Storage.Path
	if url != "" {
		baseURL = url
	} else {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	}
	return cfg
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the shaker server")
	fs.Parse(args)

	loadCLIConfigFromFlags(*configPath, *url)

	var health api.HealthResponse
	if err := getJSON("/health", &health); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	var event api.EventResponse
	if err := getJSON("/api/event", &event); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "STATUS\t%s\n", health.Status)
	fmt.Fprintf(w, "USERS\t%d\n", health.Users)
	fmt.Fprintf(w, "ONLINE\t%d\n", health.Sessions)
	fmt.Fprintf(w, "CONNECTIONS\t%d\n", health.Connections)
	if event.Event != nil {
		fmt.Fprintf(w, "EVENT\t%s (x%g, ends %s)\n", event.Event.Title, event.Event.Multiplier,
			event.Event.EndsAt.Local().Format("2006-01-02 15:04"))
	} else {
		fmt.Fprintln(w, "EVENT\t-")
	}
	w.Flush()
}

func cmdLeaderboard(args []string) {
	fs := flag.NewFlagSet("leaderboard", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the shaker server")
	limit := fs.Int("top", 20, "number of top players to show")
	fs.Parse(args)

	loadCLIConfigFromFlags(*configPath, *url)

	var entries []domain.LeaderboardEntry
	if err := getJSON(fmt.Sprintf("/api/leaderboard?limit=%d", *limit), &entries); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPLAYER\tSCORE\tONLINE\tBLOCKED")
	fmt.Fprintln(w, "----\t------\t-----\t------\t-------")
	for i, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%.0f\t%s\t%s\n", i+1, e.Name, e.Score, yesNo(e.IsLive), yesNo(e.IsBlocked))
	}
	w.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// cmdUser handles user subcommands against the snapshot on disk
func cmdUser(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Error: user subcommand required: add, remove, list, admin, rename\n")
		os.Exit(1)
	}

	subCmd := args[0]
	fs := flag.NewFlagSet("user "+subCmd, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	isAdmin := fs.Bool("admin", false, "create as admin user (add only)")
	fs.Parse(args[1:])
	cfg := loadCLIConfigFromFlags(*configPath, "")
	remaining := fs.Args()

	store, err := storage.Open(storagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	state := newState(cfg, zerolog.Nop())
	if snap, err := store.Load(ctx); err == nil {
		state.Load(snap)
	} else if !errors.Is(err, storage.ErrNoSnapshot) {
		fmt.Fprintf(os.Stderr, "Error: failed to read snapshot: %v\n", err)
		os.Exit(1)
	}

	var changed bool
	switch subCmd {
	case "add":
		err = cmdUserAdd(state, remaining, *isAdmin)
		changed = true
	case "remove":
		err = cmdUserRemove(state, remaining)
		changed = true
	case "list":
		err = cmdUserList(state)
	case "admin":
		err = cmdUserAdmin(state, remaining)
		changed = true
	case "rename":
		err = cmdUserRename(state, remaining)
		changed = true
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown user command: %s (use: add, remove, list, admin, rename)\n", subCmd)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if changed {
		if err := store.Save(ctx, state.Snapshot()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to save snapshot: %v\n", err)
			os.Exit(1)
		}
	}
}

func cmdUserAdd(state *game.State, args []string, isAdmin bool) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: shaker user add [--admin] <name>")
	}
	name := args[0]

	token, err := state.CreateUser(name, isAdmin)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	// Scripts capture the bare token
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println(token)
		return nil
	}
	roleStr := "user"
	if isAdmin {
		roleStr = "admin"
	}
	fmt.Printf("User '%s' created (role: %s)\n", name, roleStr)
	fmt.Printf("Game token: %s\n", token)
	return nil
}

func cmdUserRemove(state *game.State, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: shaker user remove <name>")
	}
	name := args[0]

	if err := state.DeleteUser(name); err != nil {
		return fmt.Errorf("failed to remove user: %w", err)
	}
	fmt.Printf("User '%s' removed\n", name)
	return nil
}

func cmdUserList(state *game.State) error {
	users := state.SnapshotAll()
	if len(users) == 0 {
		fmt.Println("No users configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTOKEN\tROLE\tSCORE\tPER_ACTION\tPASSIVE\tBLOCKED")
	fmt.Fprintln(w, "----\t-----\t----\t-----\t----------\t-------\t-------")
	for _, tr := range users {
		u := tr.Record
		role := "user"
		if u.IsAdmin {
			role = "admin"
		}
		blocked := "no"
		if u.IsBlocked && u.BlockEndsAt != nil {
			blocked = "until " + u.BlockEndsAt.Local().Format("15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f\t%d\t%d\t%s\n", u.Name, tr.Token, role, u.Score, u.PerAction, u.PassiveUnits, blocked)
	}
	return w.Flush()
}

func cmdUserAdmin(state *game.State, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: shaker user admin <name>")
	}
	name := args[0]

	isAdmin, err := state.ToggleAdmin(name)
	if err != nil {
		return fmt.Errorf("failed to update admin status: %w", err)
	}
	if isAdmin {
		fmt.Printf("User '%s' is now an admin\n", name)
	} else {
		fmt.Printf("User '%s' is no longer an admin\n", name)
	}
	return nil
}

func cmdUserRename(state *game.State, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: shaker user rename <old> <new>")
	}
	if err := state.RenameUser(args[0], args[1]); err != nil {
		return fmt.Errorf("failed to rename user: %w", err)
	}
	fmt.Printf("User '%s' renamed to '%s'\n", args[0], args[1])
	return nil
}

func getJSON(path string, target interface{}) error {
	url := baseURL + path
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(target)
}
