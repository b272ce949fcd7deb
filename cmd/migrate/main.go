package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/Dusre/radar/internal/config"
	"github.com/Dusre/radar/migrations"
	"github.com/Dusre/radar/pkg/database"
	"github.com/Dusre/radar/pkg/metrics"
)

func main() {
	direction := flag.String("direction", database.DirectionUp, "Migration direction: up or down")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger("radar-migrate", "1.0.0")
	ctx := context.Background()

	db, err := database.Open(cfg.DBConfig(), logger, metrics.NewCollector("radar_migrate"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Printf("Connected to %s database successfully\n", cfg.Database.Driver)
	fmt.Printf("Running migrations: %s\n", *direction)

	if err := db.Migrate(ctx, migrations.FS, *direction); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Migration completed successfully")
}
