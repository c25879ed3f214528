package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/stardust/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "stardust",
		Usage: "Task-list persistence service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (.jsonc, .json, .yaml, .toml)",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewServeCommand(),
			NewTasksCommand(),
			NewBackupCommand(),
			NewSecretCommand(),
			NewStatusCommand(),
		},
	}
}
