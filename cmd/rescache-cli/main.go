package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentuity/rescache/store"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <redis-url> <command> [args]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  ping                     check backing store reachability\n")
	fmt.Fprintf(os.Stderr, "  get <key>                print the raw bytes stored at key\n")
	fmt.Fprintf(os.Stderr, "  del <key>                delete a single key\n")
	fmt.Fprintf(os.Stderr, "  invalidate <pattern>     delete every key matching the glob pattern\n")
	fmt.Fprintf(os.Stderr, "Example: %s redis://localhost:6379 invalidate 'knowledge:*'\n", os.Args[0])
	os.Exit(1)
}

func main() {
	if len(os.Args) < 3 {
		usage()
	}

	opts, err := redis.ParseURL(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing Redis URL: %v\n", err)
		os.Exit(1)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	s := store.NewRedis(client, store.WithQueryTimeout(10*time.Second))
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[2] {
	case "ping":
		if err := s.Ping(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Backing store unreachable: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("OK")

	case "get":
		if len(os.Args) != 4 {
			usage()
		}
		value, found, err := s.Get(ctx, os.Args[3])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading key: %v\n", err)
			os.Exit(1)
		}
		if !found {
			fmt.Fprintln(os.Stderr, "Not found")
			os.Exit(1)
		}
		os.Stdout.Write(value)

	case "del":
		if len(os.Args) != 4 {
			usage()
		}
		// Storage keys carry no glob metacharacters, so the pattern delete
		// is exact for a literal key.
		removed, err := s.DeletePattern(ctx, os.Args[3])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting key: %v\n", err)
			os.Exit(1)
		}
		if removed == 0 {
			fmt.Fprintln(os.Stderr, "Not found")
			os.Exit(1)
		}
		fmt.Println("OK")

	case "invalidate":
		if len(os.Args) != 4 {
			usage()
		}
		pattern := os.Args[3]
		// Same guard the engine applies: refuse patterns that would wipe
		// the whole keyspace.
		if strings.TrimSpace(pattern) == "" || strings.Trim(pattern, "*?[]: \t") == "" {
			fmt.Fprintf(os.Stderr, "Refusing unanchored pattern %q\n", pattern)
			os.Exit(1)
		}
		removed, err := s.DeletePattern(ctx, pattern)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting pattern: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Removed %d entries\n", removed)

	default:
		usage()
	}
}
