package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samirrijal/livetrack/internal/pkg/config"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|down> [dir]")
	}
	dir := "migrations"
	if len(os.Args) > 2 {
		dir = os.Args[2]
	}

	var down bool
	switch os.Args[1] {
	case "up":
	case "down":
		down = true
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}

	cfg, err := config.Load("livetrack-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	files, err := migrationFiles(dir, down)
	if err != nil {
		log.Fatalf("list migrations: %v", err)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			log.Fatalf("read %s: %v", f, err)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			log.Fatalf("exec %s: %v", f, err)
		}
		fmt.Printf("OK  %s\n", f)
	}

	log.Printf("%d migrations applied (%s)", len(files), os.Args[1])
}

// migrationFiles returns the up scripts in name order, or the down scripts
// in reverse order.
func migrationFiles(dir string, down bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		if strings.HasSuffix(name, ".down.sql") == down {
			files = append(files, filepath.Join(dir, name))
		}
	}

	sort.Strings(files)
	if down {
		sort.Sort(sort.Reverse(sort.StringSlice(files)))
	}
	return files, nil
}
