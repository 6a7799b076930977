// Command tcgo-server runs the sync server and a handful of replica
// maintenance operations over HTTP, following the teacher's cobra root
// command + subcommand layout (cmd/nornicdb/main.go) scaled down to this
// module's much smaller operational surface: there is no Bolt protocol,
// no Cypher shell, no embedding pipeline here, just the version-chain
// server and a replica CLI thin enough to drive it.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskchampion/tcgo/audit"
	"github.com/taskchampion/tcgo/config"
	"github.com/taskchampion/tcgo/remoteserver"
	"github.com/taskchampion/tcgo/replica"
	"github.com/taskchampion/tcgo/retention"
	"github.com/taskchampion/tcgo/server"
	"github.com/taskchampion/tcgo/server/httpserver"
	syncengine "github.com/taskchampion/tcgo/sync"
	"github.com/taskchampion/tcgo/storage"
	"github.com/taskchampion/tcgo/taskdb"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "tcgo-server",
		Short: "TaskChampion-Go replication core server and replica maintenance CLI",
	}

	var configFile string
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file overlaying environment defaults")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tcgo-server v%s\n", version)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the local HTTP sync server a fleet of replicas push to",
		RunE: func(cmd *cobra.Command, args []string) error {
			listen, _ := cmd.Flags().GetString("listen")
			return runServe(configFile, listen)
		},
	}
	serveCmd.Flags().String("listen", ":8080", "address to listen on")
	rootCmd.AddCommand(serveCmd)

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "sync this replica's pending operations against its configured server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(configFile)
		},
	}
	rootCmd.AddCommand(syncCmd)

	gcCmd := &cobra.Command{
		Use:   "gc",
		Short: "compact the working set and expire deleted tasks past the retention horizon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGC(configFile)
		},
	}
	rootCmd.AddCommand(gcCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadFromEnvOrFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStorage(cfg *config.Config) (storage.Engine, error) {
	if cfg.Storage.InMemory {
		return storage.NewMemoryEngine()
	}
	return storage.NewBadgerEngine(storage.BadgerOptions{DataDir: cfg.Storage.OnDisk})
}

func openServerStorage(cfg *config.Config) (storage.Engine, error) {
	if cfg.Storage.InMemory {
		return storage.NewMemoryEngine()
	}
	return storage.NewBadgerEngine(storage.BadgerOptions{DataDir: cfg.Server.ServerDir, SyncWrites: true})
}

func runServe(configFile, listen string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("tcgo-server: loading config: %w", err)
	}

	engine, err := openServerStorage(cfg)
	if err != nil {
		return fmt.Errorf("tcgo-server: opening storage: %w", err)
	}
	defer engine.Close()

	handler := httpserver.New(server.NewLocalServer(engine))
	httpSrv := &http.Server{Addr: listen, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("tcgo-server: listening on %s\n", listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("tcgo-server: serving: %w", err)
	case <-sigCh:
	}

	fmt.Println("tcgo-server: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}

func openReplica(cfg *config.Config) (*replica.Replica, server.Server, error) {
	engine, err := openStorage(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("tcgo-server: opening storage: %w", err)
	}

	db := taskdb.Open(engine)

	var srv server.Server
	switch cfg.Server.Kind {
	case config.ServerLocal:
		local, err := openServerStorage(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("tcgo-server: opening server storage: %w", err)
		}
		srv = server.NewLocalServer(local)
	case config.ServerRemote:
		srv = remoteserver.New(cfg.Server.Origin, http.DefaultClient)
	default:
		return nil, nil, fmt.Errorf("tcgo-server: unknown server kind %q", cfg.Server.Kind)
	}

	syncEngine := &syncengine.Engine{
		ClientID:         cfg.Replica.ClientID,
		EncryptionSecret: []byte(cfg.Server.EncryptionSecret),
	}

	logger, err := audit.NewLogger(audit.DefaultConfig())
	if err != nil {
		return nil, nil, err
	}

	r := replica.New(db, nil, syncEngine).WithAudit(cfg.Replica.ClientID, logger)
	return r, srv, nil
}

func runSync(configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("tcgo-server: loading config: %w", err)
	}

	r, srv, err := openReplica(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := r.Sync(ctx, srv, false); err != nil {
		return fmt.Errorf("tcgo-server: sync: %w", err)
	}
	fmt.Println("tcgo-server: sync complete")
	return nil
}

func runGC(configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("tcgo-server: loading config: %w", err)
	}

	r, _, err := openReplica(cfg)
	if err != nil {
		return err
	}

	if err := r.GC(); err != nil {
		return fmt.Errorf("tcgo-server: compacting working set: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	removed, err := r.ExpireWithPolicy(ctx, retention.Policy{Horizon: cfg.Retention.TaskExpiryHorizon})
	if err != nil {
		return fmt.Errorf("tcgo-server: expiring tasks: %w", err)
	}
	fmt.Printf("tcgo-server: working set compacted, %d tasks expired\n", removed)
	return nil
}
