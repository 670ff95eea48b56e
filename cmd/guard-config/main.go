package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/guard"
	"github.com/oarkflow/guard/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "apply":
		handleApply()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("guard-config - Configuration tool for guard")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  guard-config convert <input> <output>  - Convert between formats")
	fmt.Println("  guard-config validate <file>           - Validate configuration")
	fmt.Println("  guard-config stats <file>              - Show configuration statistics")
	fmt.Println("  guard-config apply <file> <sqlite-db>  - Apply configuration to a SQLite database")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: guard-config convert <input> <output>")
		os.Exit(1)
	}

	inputFile := os.Args[2]
	outputFile := os.Args[3]

	cfg, err := guard.LoadConfigFile(inputFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := saveConfig(cfg, outputFile); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: guard-config validate <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := guard.LoadConfigFile(filename)
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Version: %s\n", cfg.Version)
	fmt.Printf("  Groups: %d\n", len(cfg.Groups))
	fmt.Printf("  Attribute records: %d\n", len(cfg.Attributes))
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: guard-config stats <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := guard.LoadConfigFile(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	stat, _ := os.Stat(filename)

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version: %s\n", cfg.Version)
	fmt.Println()

	groups, rules := 0, 0
	kinds := make(map[guard.RuleKind]int)
	var walk func(g *guard.RuleGroup)
	walk = func(g *guard.RuleGroup) {
		groups++
		for _, r := range g.Rules {
			rules++
			kinds[r.Kind]++
		}
		for _, child := range g.Groups {
			walk(child)
		}
	}
	for _, g := range cfg.Groups {
		walk(g)
	}

	fmt.Println("Components:")
	fmt.Printf("  Rule groups:       %d\n", groups)
	fmt.Printf("  Rules:             %d\n", rules)
	fmt.Printf("  Attribute records: %d\n", len(cfg.Attributes))
	fmt.Println()

	if rules > 0 {
		fmt.Println("Rules by kind:")
		for kind, n := range kinds {
			fmt.Printf("  %-22s %d\n", kind, n)
		}
		fmt.Println()
	}

	byScope := make(map[guard.AttributeScope]int)
	for _, rec := range cfg.Attributes {
		byScope[rec.Scope]++
	}
	if len(byScope) > 0 {
		fmt.Println("Attribute records by scope:")
		for scope, n := range byScope {
			fmt.Printf("  %-6s %d\n", scope, n)
		}
		fmt.Println()
	}

	fmt.Println("Engine Configuration:")
	fmt.Printf("  Decision cache:     %v\n", cfg.Engine.DecisionCacheEnabled)
	fmt.Printf("  Decision cache TTL: %dms\n", cfg.Engine.DecisionCacheTTL)
}

func handleApply() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: guard-config apply <file> <sqlite-db>")
		os.Exit(1)
	}

	filename := os.Args[2]
	dbPath := os.Args[3]

	cfg, err := guard.LoadConfigFile(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		fmt.Printf("Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer sqlDB.Close()
	db := squealx.NewDb(sqlDB, "sqlite", "guard")
	if err := stores.Migrate(db); err != nil {
		fmt.Printf("Error migrating database: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := cfg.Apply(ctx, stores.NewSQLRuleStore(db), stores.NewSQLAttributeStore(db)); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration applied successfully\n")
	fmt.Printf("  Groups loaded: %d\n", len(cfg.Groups))
	fmt.Printf("  Attribute records loaded: %d\n", len(cfg.Attributes))
}

func saveConfig(cfg *guard.Config, filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))

	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}

	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
