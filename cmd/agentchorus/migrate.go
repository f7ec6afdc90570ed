package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/agentchorus/config"
	"github.com/BaSui01/agentchorus/internal/migration"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

// 需要位置参数的子命令
var migrateArgCommands = map[string]bool{"goto": true, "force": true, "steps": true}

// runMigrate 解析子命令与参数后交给 migration.CLI
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	command, rest := args[0], args[1:]
	switch command {
	case "help", "-h", "--help":
		printMigrateUsage()
		return
	case "up", "down", "status", "version", "reset", "goto", "force", "steps":
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", command)
		printMigrateUsage()
		os.Exit(1)
	}

	arg, rest, err := parseMigrateArg(command, rest)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fs := flag.NewFlagSet("migrate "+command, flag.ExitOnError)
	migrator, err := createMigrator(fs, rest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := migration.NewCLI(migrator).Run(context.Background(), command, arg); err != nil {
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", command, err)
		os.Exit(1)
	}
}

// parseMigrateArg 取出 goto/force/steps 的整数参数
func parseMigrateArg(command string, args []string) (int, []string, error) {
	if !migrateArgCommands[command] {
		return 0, args, nil
	}
	if len(args) < 1 {
		return 0, nil, fmt.Errorf("usage: agentchorus migrate %s <n>", command)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, nil, fmt.Errorf("invalid number %q for migrate %s", args[0], command)
	}
	if command == "goto" && n < 0 {
		return 0, nil, fmt.Errorf("goto version must be >= 0")
	}
	return n, args[1:], nil
}

// createMigrator 优先使用 --db-type/--db-url，否则读取配置
func createMigrator(fs *flag.FlagSet, args []string) (*migration.DefaultMigrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")
	verbose := fs.Bool("verbose", false, "Log migration progress")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	logger := zap.NewNop()
	if *verbose {
		logger = initLogger(config.LogConfig{Level: "debug", Format: "console"})
	}

	if *dbType != "" && *dbURL != "" {
		return migration.NewMigratorFromURL(*dbType, *dbURL, logger)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}
	return migration.NewMigratorFromConfig(cfg, logger)
}

func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Usage:
  agentchorus migrate <subcommand> [args] [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  status      Show migration status
  version     Show current migration version
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  steps <n>   Apply (n>0) or rollback (n<0) n migrations
  reset       Rollback all migrations
  help        Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)
  --verbose           Log migration progress

Examples:
  agentchorus migrate up
  agentchorus migrate up --config /etc/agentchorus/config.yaml
  agentchorus migrate goto 1
  agentchorus migrate steps -1
  agentchorus migrate force 0 --db-type sqlite --db-url file:agentchorus.db`)
}
