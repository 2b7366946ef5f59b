package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/huddlechat/huddle/pkg/auth"
	"github.com/huddlechat/huddle/pkg/database"
	"github.com/huddlechat/huddle/pkg/presence"
	"github.com/huddlechat/huddle/pkg/server"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	configPath := flag.String("config", "~/.huddle/config.toml", "Path to config file")
	port := flag.Int("port", 0, "HTTP port to listen on (overrides config)")
	dbPath := flag.String("db", "", "Path to SQLite database (overrides config)")
	redisAddr := flag.String("redis", "", "Redis address for the presence mirror (overrides config)")
	noPresence := flag.Bool("no-presence", false, "Disable the shared presence mirror")
	seedDemo := flag.Bool("seed-demo", false, "Seed demo users into the database and print their tokens")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("Huddle Server %s\n", Version)
		os.Exit(0)
	}

	config, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Command-line flags override config file
	if *port != 0 {
		config.Server.HTTPPort = *port
	}
	if *dbPath != "" {
		config.Server.DatabasePath = *dbPath
	}
	if *redisAddr != "" {
		config.Presence.RedisAddr = *redisAddr
	}

	finalDBPath, err := config.GetDatabasePath()
	if err != nil {
		log.Fatalf("Failed to resolve database path: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(finalDBPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	serverConfig := config.ToServerConfig()

	if *debug {
		server.EnableDebugLogging()
		log.Printf("Debug logging enabled")
	}

	db, err := database.Open(finalDBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	var presenceStore *presence.Store
	if !*noPresence {
		presenceStore = presence.NewStore(
			serverConfig.RedisAddr,
			serverConfig.RedisPassword,
			serverConfig.RedisDB,
			serverConfig.PresenceTimeout,
		)
		defer presenceStore.Close()

		ctx, cancel := context.WithTimeout(context.Background(), serverConfig.PresenceTimeout)
		if err := presenceStore.Ping(ctx); err != nil {
			log.Printf("Warning: presence mirror unreachable at %s: %v (continuing, mirror is best-effort)", serverConfig.RedisAddr, err)
		}
		cancel()
	} else {
		log.Printf("Presence mirror disabled")
	}

	tokens := auth.NewTokenService(serverConfig.TokenSecret, serverConfig.TokenTTL)
	if serverConfig.TokenSecret == "change-me" {
		log.Printf("Warning: using the default token secret; set auth.token_secret in the config")
	}

	if *seedDemo {
		if err := seedDemoUsers(db, tokens); err != nil {
			log.Fatalf("Failed to seed demo users: %v", err)
		}
	}

	collab := server.Collaborators{
		Tokens:   tokens,
		Users:    db,
		Members:  db,
		Messages: db,
	}
	if presenceStore != nil {
		collab.Presence = presenceStore
	}

	srv := server.New(serverConfig, collab)
	srv.SetMetrics(server.NewMetrics())

	log.Printf("Huddle server %s starting", Version)
	log.Printf("Config: %s", *configPath)
	log.Printf("Database: %s", finalDBPath)
	if presenceStore != nil {
		log.Printf("Presence mirror: %s", serverConfig.RedisAddr)
	}
	log.Printf("WebSocket: ws://localhost:%d/ws", serverConfig.HTTPPort)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	case <-sigChan:
		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
		log.Println("Server stopped")
	}
}

// seedDemoUsers inserts a demo user pair, makes them members of room 1,
// and prints ready-to-use tokens for local client testing.
func seedDemoUsers(db *database.DB, tokens *auth.TokenService) error {
	users := []database.User{
		{ID: 1, Nickname: "alice"},
		{ID: 2, Nickname: "bob"},
	}
	if err := db.SeedUsers(users); err != nil {
		return err
	}
	for _, u := range users {
		if err := db.AddMember(1, u.ID); err != nil {
			return err
		}
		token, err := tokens.Issue(u.ID)
		if err != nil {
			return err
		}
		log.Printf("Demo user %s (id %d) token: %s", u.Nickname, u.ID, token)
	}
	return nil
}
