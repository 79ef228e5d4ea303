package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/mrlokans/shelfsync/internal/config"
	"github.com/mrlokans/shelfsync/internal/contentstore"
	"github.com/mrlokans/shelfsync/internal/database"
	"github.com/mrlokans/shelfsync/internal/database/contentobjects"
)

// VerifyStoreCommand re-hashes every stored object against its address
// and reports mismatches.
type VerifyStoreCommand struct {
	DatabasePath string
	StorageDir   string
	Verbose      bool
}

func NewVerifyStoreCommand() *VerifyStoreCommand {
	return &VerifyStoreCommand{}
}

func (cmd *VerifyStoreCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("verify-store", flag.ExitOnError)

	fs.StringVar(&cmd.DatabasePath, "db", config.DefaultDatabasePath, "Path to the server database file")
	fs.StringVar(&cmd.StorageDir, "storage", config.DefaultStorageDir, "Path to the local content store directory")
	fs.BoolVar(&cmd.Verbose, "verbose", false, "Print every object checked, not only failures")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s verify-store [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Verify the integrity of the local content store: every registered\n")
		fmt.Fprintf(os.Stderr, "object is read back and re-hashed against its address.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	return fs.Parse(args)
}

func (cmd *VerifyStoreCommand) Run() error {
	fmt.Println("Content Store Verification")
	fmt.Println("==========================")

	db, err := database.NewDatabase(cmd.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	local, err := contentstore.NewLocal(cmd.StorageDir, "")
	if err != nil {
		return fmt.Errorf("failed to open content store: %w", err)
	}

	registry := contentobjects.NewRepository(db.DB)
	store := contentstore.NewService(local, registry)

	objects, err := registry.All()
	if err != nil {
		return fmt.Errorf("failed to list content objects: %w", err)
	}

	fmt.Printf("Checking %d objects in %s\n\n", len(objects), cmd.StorageDir)

	ctx := context.Background()
	var corrupted, missing int
	for _, obj := range objects {
		err := store.Verify(ctx, obj.Hash)
		switch {
		case err == nil:
			if cmd.Verbose {
				fmt.Printf("  ok      %s (%d bytes)\n", obj.Hash, obj.ByteSize)
			}
		case errors.Is(err, contentstore.ErrIntegrity):
			corrupted++
			fmt.Printf("  CORRUPT %s: %v\n", obj.Hash, err)
		case errors.Is(err, contentstore.ErrNotFound):
			missing++
			fmt.Printf("  MISSING %s\n", obj.Hash)
		default:
			return fmt.Errorf("failed to verify %s: %w", obj.Hash, err)
		}
	}

	fmt.Printf("\nChecked %d objects: %d corrupted, %d missing\n", len(objects), corrupted, missing)
	if corrupted > 0 || missing > 0 {
		return fmt.Errorf("%d objects failed verification", corrupted+missing)
	}
	fmt.Println("All objects verified")
	return nil
}
