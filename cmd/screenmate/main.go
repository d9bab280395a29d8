package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/koheon2/screenmate-backend/internal/config"
	"github.com/koheon2/screenmate-backend/internal/llm"
	"github.com/koheon2/screenmate-backend/internal/maintenance"
	"github.com/koheon2/screenmate-backend/internal/pet"
	"github.com/koheon2/screenmate-backend/internal/ratelimit"
	"github.com/koheon2/screenmate-backend/internal/server"
	"github.com/koheon2/screenmate-backend/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "screenmate",
	Short: "screenmate - desktop pet LLM backend",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and maintenance scheduler",
	RunE:  runServe,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show screenmate status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(serveCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'screenmate onboard' or set SCREENMATE_API_KEY / OPENAI_API_KEY")
	}

	engine, err := store.NewEngine(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer engine.Close()

	limiter := ratelimit.NewLimiter(cfg.RateLimit.RequestsPerMinute, time.Minute)
	client := llm.NewClient(cfg.Provider)
	petSvc := pet.NewService(engine, client, limiter, cfg.Chat)

	maint := maintenance.NewService(engine, limiter, cfg.Retention)
	if err := maint.Start(); err != nil {
		return fmt.Errorf("start maintenance: %w", err)
	}
	defer maint.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.NewServer(addr, petSvc, engine)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("[main] received %s, shutting down", sig)
		srv.Stop()
		return nil
	case err := <-errCh:
		return err
	}
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key\n", cfgPath)
	fmt.Println("  2. Or set SCREENMATE_API_KEY environment variable")
	fmt.Println("  3. Run 'screenmate serve' to start the backend")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Model: %s\n", cfg.Provider.Model)
	fmt.Printf("Base URL: %s\n", cfg.Provider.BaseURL)
	fmt.Printf("Listen: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}

	if _, err := os.Stat(cfg.Storage.DBPath); err != nil {
		fmt.Println("Store: not found (run 'screenmate serve' to create it)")
		return nil
	}
	engine, err := store.NewEngine(cfg.Storage.DBPath)
	if err != nil {
		fmt.Printf("Store: error (%v)\n", err)
		return nil
	}
	defer engine.Close()

	stats, err := engine.Stats()
	if err != nil {
		fmt.Printf("Store: error (%v)\n", err)
		return nil
	}
	fmt.Printf("Store: %s\n", cfg.Storage.DBPath)
	fmt.Printf("  Characters: %d\n", stats.Characters)
	fmt.Printf("  Conversation turns: %d\n", stats.Turns)
	fmt.Printf("  QA memories: %d\n", stats.Memories)

	return nil
}
