package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/stardust/internal/backup"
	"github.com/dohr-michael/stardust/internal/tasks"
)

// NewBackupCommand returns the backup subcommand.
func NewBackupCommand() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Write, list and restore compressed snapshots",
		Commands: []*cli.Command{
			{
				Name:   "now",
				Usage:  "Write a snapshot into the backup directory",
				Action: runBackupNow,
			},
			{
				Name:   "list",
				Usage:  "List snapshots, oldest first",
				Action: runBackupList,
			},
			{
				Name:      "restore",
				Usage:     "Replace the collection with a snapshot (default: the newest)",
				ArgsUsage: "[file]",
				Action:    runBackupRestore,
			},
		},
		DefaultCommand: "list",
	}
}

// withBackups runs fn with a Manager over the configured storage. Restores
// are recorded in the audit log as backup events.
func withBackups(cmd *cli.Command, fn func(*backup.Manager) error) error {
	return withLocal(cmd, func(l *local) error {
		return fn(backup.NewManager(l.cfg.Backup.Dir, l.cfg.Backup.Keep, l.store, l.bus))
	})
}

func runBackupNow(ctx context.Context, cmd *cli.Command) error {
	return withBackups(cmd, func(m *backup.Manager) error {
		path, err := m.Export(ctx)
		if err != nil {
			return fmt.Errorf("backup: %w", err)
		}
		fmt.Println(path)
		return nil
	})
}

func runBackupList(_ context.Context, cmd *cli.Command) error {
	return withBackups(cmd, func(m *backup.Manager) error {
		paths, err := m.List()
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			fmt.Printf("No backups in %s\n", m.Dir())
			return nil
		}
		for _, p := range paths {
			fmt.Println(filepath.Base(p))
		}
		return nil
	})
}

func runBackupRestore(ctx context.Context, cmd *cli.Command) error {
	return withBackups(cmd, func(m *backup.Manager) error {
		path := cmd.Args().First()
		if path == "" {
			latest, err := m.Latest()
			if err != nil {
				return err
			}
			if latest == "" {
				return fmt.Errorf("no backups in %s", m.Dir())
			}
			path = latest
		}

		restored, err := m.Restore(ctx, path)
		if err != nil {
			return err
		}
		fmt.Printf("Restored %d tasks from %s\n", len(restored), filepath.Base(path))
		return nil
	})
}

var _ backup.Store = (*tasks.Store)(nil)
