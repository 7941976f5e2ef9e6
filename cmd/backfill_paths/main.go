package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/mpath"
	"github.com/yungbote/mpath/platform/envutil"
	"github.com/yungbote/mpath/platform/logger"
	"github.com/yungbote/mpath/platform/observability"
)

type tableList []string

func (l *tableList) String() string { return strings.Join(*l, ",") }
func (l *tableList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v != "" {
		*l = append(*l, v)
	}
	return nil
}

type config struct {
	DSN     string            `yaml:"dsn"`
	LogMode string            `yaml:"log_mode"`
	Tables  []mpath.TableSpec `yaml:"tables"`
}

type tableResult struct {
	table      string
	violations []mpath.Violation
	fixed      int64
}

func main() {
	var cfgPath string
	var tables tableList
	var fix bool
	var workers int
	flag.StringVar(&cfgPath, "config", "", "path to a YAML config listing the DSN and tree tables")
	flag.Var(&tables, "table", "tree table to check with default columns (repeatable; overrides config tables)")
	flag.BoolVar(&fix, "fix", false, "rewrite broken paths instead of only reporting them")
	flag.IntVar(&workers, "workers", envutil.Int("MPATH_WORKERS", 4), "tables verified concurrently")
	flag.Parse()

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		fmt.Printf("load config: %v\n", err)
		os.Exit(1)
	}
	if len(tables) > 0 {
		cfg.Tables = cfg.Tables[:0]
		for _, t := range tables {
			cfg.Tables = append(cfg.Tables, mpath.TableSpec{Table: t})
		}
	}
	if cfg.DSN == "" {
		cfg.DSN = envutil.Str("MPATH_DSN", "")
	}
	if cfg.DSN == "" {
		fmt.Println("no dsn configured; set dsn in the config file or MPATH_DSN")
		os.Exit(1)
	}
	if len(cfg.Tables) == 0 {
		fmt.Println("no tables configured")
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Printf("init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()
	if shutdown := observability.InitTracing(ctx, log, observability.Config{ServiceName: "backfill_paths"}); shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	db, err := openDB(cfg.DSN)
	if err != nil {
		fmt.Printf("open database: %v\n", err)
		os.Exit(1)
	}
	if err := mpath.EnsureExtensions(ctx, db); err != nil {
		fmt.Printf("ensure extensions: %v\n", err)
		os.Exit(1)
	}

	if workers < 1 {
		workers = 1
	}
	results := make([]tableResult, len(cfg.Tables))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, spec := range cfg.Tables {
		g.Go(func() error {
			violations, err := mpath.VerifyTable(gctx, db, spec)
			if err != nil {
				return fmt.Errorf("verify %s: %w", spec.Table, err)
			}
			var fixed int64
			if fix && len(violations) > 0 {
				if fixed, err = mpath.RepairTable(gctx, db, spec); err != nil {
					return fmt.Errorf("repair %s: %w", spec.Table, err)
				}
				// report what repair could not compute
				if violations, err = mpath.VerifyTable(gctx, db, spec); err != nil {
					return fmt.Errorf("verify %s: %w", spec.Table, err)
				}
			}
			results[i] = tableResult{table: spec.Table, violations: violations, fixed: fixed}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}

	remaining := 0
	for _, r := range results {
		if r.fixed > 0 {
			fmt.Printf("%s: repaired %d paths\n", r.table, r.fixed)
		}
		for _, v := range r.violations {
			fmt.Printf("%s: %s\n", r.table, v)
			remaining++
		}
	}
	if remaining > 0 {
		fmt.Printf("done; %d violations remain\n", remaining)
		os.Exit(1)
	}
	fmt.Println("done; all paths consistent")
}

func loadConfig(path string) (*config, error) {
	cfg := &config{}
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openDB(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: gormLogger.Default.LogMode(gormLogger.Warn)}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return gorm.Open(postgres.Open(dsn), cfg)
	}
	return gorm.Open(sqlite.Open(dsn), cfg)
}
