package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/eternal-audio/eternal-gate/internal/store"
	"github.com/eternal-audio/eternal-gate/pkg/sdk"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	command := strings.ToUpper(os.Args[1])
	args := os.Args[2:]

	switch command {
	case "STATUS":
		if len(args) < 1 {
			log.Fatal("Usage: eternal STATUS <purchaseID>")
		}
		client := mustConnect()
		view, err := client.Status(ctx, args[0])
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("state=%s paid=%v consumed=%v status=%s\n",
			view.State, view.Paid, view.Consumed, view.SettlementStatus)

	case "COMPLETE":
		if len(args) < 1 {
			log.Fatal("Usage: eternal COMPLETE <purchaseID>")
		}
		client := mustConnect()
		consumed, err := client.Complete(ctx, args[0])
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("consumed=%v\n", consumed)

	case "CONFIG":
		client := mustConnect()
		key, err := client.PublishableKey(ctx)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(key)

	case "MIGRATE":
		if len(args) < 2 {
			log.Fatal("Usage: eternal MIGRATE <src> <dst>  (dir:<path> or redis://<addr>)")
		}
		src, err := openSource(ctx, args[0])
		if err != nil {
			log.Fatal(err)
		}
		dst, err := openSource(ctx, args[1])
		if err != nil {
			log.Fatal(err)
		}
		if err := store.Migrate(ctx, src, dst); err != nil {
			log.Fatal(err)
		}
		fmt.Println("OK")

	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func mustConnect() *sdk.Client {
	client, err := sdk.New()
	if err != nil {
		log.Fatalf("Failed to build client: %v", err)
	}
	return client
}

// openSource resolves "dir:<path>" to the embedded store and a redis:// URL
// to the Redis store. Both sides of a migration need listing, so Source
// covers destination use too.
func openSource(ctx context.Context, spec string) (store.Source, error) {
	if strings.HasPrefix(spec, "redis://") || strings.HasPrefix(spec, "rediss://") {
		client, err := store.Connect(ctx, spec)
		if err != nil {
			return nil, err
		}
		return store.NewRedisStore(client), nil
	}

	path, found := strings.CutPrefix(spec, "dir:")
	if !found {
		return nil, fmt.Errorf("store spec %q must be dir:<path> or redis://<addr>", spec)
	}

	var key []byte
	if hexKey := os.Getenv("ETERNAL_VAULT_KEY"); hexKey != "" {
		decoded, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("vault key is not hex: %w", err)
		}
		key = decoded
	}
	persister, err := store.NewPersistence(path, key)
	if err != nil {
		return nil, err
	}
	initial, err := persister.LoadAll()
	if err != nil {
		return nil, err
	}
	return store.NewMemStore(initial, persister), nil
}

func printUsage() {
	fmt.Println("Eternal CLI - ops interface for eternal-gate")
	fmt.Println("\nUsage:")
	fmt.Println("  eternal STATUS <purchaseID>")
	fmt.Println("  eternal COMPLETE <purchaseID>")
	fmt.Println("  eternal CONFIG")
	fmt.Println("  eternal MIGRATE <src> <dst>    stores: dir:<path> | redis://<addr>")
	fmt.Println("\nEnvironment Variables:")
	fmt.Println("  ETERNAL_GATE_URL     Address of the daemon (default: http://localhost:8080)")
	fmt.Println("  ETERNAL_VAULT_KEY    Hex key for encrypted dir stores (MIGRATE)")
}
