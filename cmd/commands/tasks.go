package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/stardust/internal/codec"
	"github.com/dohr-michael/stardust/internal/events"
	"github.com/dohr-michael/stardust/internal/storage/kv"
	"github.com/dohr-michael/stardust/internal/tasks"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Inspect and edit the task collection directly in storage",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List all tasks",
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show task details",
				ArgsUsage: "<task_id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "raw",
						Usage: "Print the stored record in CBOR diagnostic notation",
					},
				},
				Action: runTasksShow,
			},
			{
				Name:      "delete",
				Usage:     "Delete a task",
				ArgsUsage: "<task_id>",
				Action:    runTasksDelete,
			},
			{
				Name:      "export",
				Usage:     "Write the collection as a JSON array",
				ArgsUsage: "[file]",
				Action:    runTasksExport,
			},
			{
				Name:      "import",
				Usage:     "Replace the collection with a JSON array",
				ArgsUsage: "<file|->",
				Action:    runTasksImport,
			},
		},
		DefaultCommand: "list",
	}
}

func runTasksList(ctx context.Context, cmd *cli.Command) error {
	return withLocal(cmd, func(l *local) error {
		list, err := l.store.Snapshot(ctx)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No tasks found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tTAGS\tCONTENT")
		for _, t := range list {
			tags := "-"
			if len(t.Tags) > 0 {
				tags = strings.Join(t.Tags, ",")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Status, tags, t.Content)
		}
		return w.Flush()
	})
}

func runTasksShow(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: stardust tasks show <task_id>")
	}

	if cmd.Bool("raw") {
		return showRaw(ctx, cmd, id)
	}

	return withLocal(cmd, func(l *local) error {
		t, found, err := l.store.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get task: %w", err)
		}
		if !found {
			return fmt.Errorf("%w: %s", tasks.ErrNotFound, id)
		}

		fmt.Printf("ID:       %s\n", t.ID)
		fmt.Printf("Status:   %s\n", t.Status)
		if t.Type != "" {
			fmt.Printf("Type:     %s\n", t.Type)
		}
		if len(t.Tags) > 0 {
			fmt.Printf("Tags:     %s\n", strings.Join(t.Tags, ", "))
		}
		fmt.Printf("\n%s\n", t.Content)
		if t.Notes != "" {
			fmt.Printf("\nNotes:\n%s\n", t.Notes)
		}
		return nil
	})
}

func showRaw(ctx context.Context, cmd *cli.Command, id string) error {
	return withLocal(cmd, func(l *local) error {
		return printRaw(ctx, l.db, id)
	})
}

func printRaw(ctx context.Context, db kv.Store, id string) error {
	entry, err := db.Get(ctx, tasks.Prefix+id)
	if errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("%w: %s", tasks.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	diag, err := codec.Diagnose(entry.Value)
	if err != nil {
		return fmt.Errorf("decode task: %w", err)
	}
	fmt.Printf("key:          %s\n", entry.Key)
	fmt.Printf("versionstamp: %d\n", entry.Versionstamp)
	fmt.Println(diag)
	return nil
}

func runTasksDelete(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: stardust tasks delete <task_id>")
	}

	return withLocal(cmd, func(l *local) error {
		if err := l.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		l.publish(ctx, events.SourceCLI, events.TaskDeletedPayload{ID: id})
		fmt.Printf("Deleted %s\n", id)
		return nil
	})
}

func runTasksExport(ctx context.Context, cmd *cli.Command) error {
	return withLocal(cmd, func(l *local) error {
		list, err := l.store.Snapshot(ctx)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			return fmt.Errorf("encode tasks: %w", err)
		}
		data = append(data, '\n')

		if path := cmd.Args().First(); path != "" && path != "-" {
			return os.WriteFile(path, data, 0o600)
		}
		_, err = os.Stdout.Write(data)
		return err
	})
}

func runTasksImport(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("usage: stardust tasks import <file|->")
	}

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read import: %w", err)
	}

	snapshot, err := tasks.ParseSnapshot(data)
	if err != nil {
		return fmt.Errorf("parse import: %w", err)
	}

	return withLocal(cmd, func(l *local) error {
		stored, err := l.store.ReplaceAll(ctx, snapshot)
		if err != nil {
			return fmt.Errorf("import tasks: %w", err)
		}
		l.publish(ctx, events.SourceCLI, events.TasksReplacedPayload{Count: len(stored), Tasks: stored})
		fmt.Printf("Imported %d tasks\n", len(stored))
		return nil
	})
}
