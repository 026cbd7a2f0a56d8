package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/projecthorus/horus-utils/internal/db"
)

func main() {
	dbPath := os.Getenv("SQLITE_PATH")
	if dbPath == "" {
		dbPath = "./data/packets.db"
	}
	dbPath = filepath.Clean(dbPath)

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <command>\n  migrate  apply pending packet log migrations\n", os.Args[0])
		os.Exit(1)
	}

	switch os.Args[1] {
	case "migrate":
		// Open applies pending migrations.
		conn, err := db.Open(context.Background(), db.Options{Path: dbPath})
		if err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
		if err := db.Close(conn); err != nil {
			slog.Error("db close", "err", err)
		}
		fmt.Println("migrations applied")
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}
