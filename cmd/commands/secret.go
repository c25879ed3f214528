package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/dohr-michael/stardust/internal/config"
	"github.com/dohr-michael/stardust/internal/secrets"
)

// NewSecretCommand returns the secret subcommand.
func NewSecretCommand() *cli.Command {
	return &cli.Command{
		Name:  "secret",
		Usage: "Manage the write-credential and its age identity",
		Commands: []*cli.Command{
			{
				Name:   "keygen",
				Usage:  "Create the age identity (kept if it already exists)",
				Action: runSecretKeygen,
			},
			{
				Name:      "encrypt",
				Usage:     "Print an ENC[age:...] value for the config file",
				ArgsUsage: "[plaintext]",
				Action:    runSecretEncrypt,
			},
			{
				Name:      "set",
				Usage:     "Seal the credential into SECRET_PASSWORD in the .env file",
				ArgsUsage: "[plaintext]",
				Action:    runSecretSet,
			},
		},
	}
}

func runSecretKeygen(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	recipient, err := secrets.GenerateIdentity(cfg.Auth.IdentityFile)
	if err != nil {
		return err
	}
	fmt.Printf("Identity: %s\n", cfg.Auth.IdentityFile)
	fmt.Printf("Recipient: %s\n", recipient)
	return nil
}

// readPlaintext prompts on the terminal with echo disabled.
func readPlaintext(usage string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal for an interactive prompt (usage: %s <plaintext>)", usage)
	}

	fmt.Fprint(os.Stderr, "Secret: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

// seal encrypts the argument, or a prompted value when there is none, to
// the configured identity's recipient.
func seal(cmd *cli.Command, usage string) (string, error) {
	plaintext := cmd.Args().First()
	if plaintext == "" || plaintext == "-" {
		var err error
		if plaintext, err = readPlaintext(usage); err != nil {
			return "", err
		}
	}
	if plaintext == "" {
		return "", fmt.Errorf("empty secret")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	identity, err := secrets.LoadIdentity(cfg.Auth.IdentityFile)
	if err != nil {
		return "", fmt.Errorf("%w (run `stardust secret keygen` first)", err)
	}
	return secrets.Seal(plaintext, identity.Recipient())
}

func runSecretEncrypt(_ context.Context, cmd *cli.Command) error {
	sealed, err := seal(cmd, "stardust secret encrypt")
	if err != nil {
		return err
	}
	fmt.Println(sealed)
	return nil
}

func runSecretSet(_ context.Context, cmd *cli.Command) error {
	sealed, err := seal(cmd, "stardust secret set")
	if err != nil {
		return err
	}
	path := config.DotenvPath()
	if err := secrets.SetEntry(path, "SECRET_PASSWORD", sealed); err != nil {
		return err
	}
	fmt.Printf("SECRET_PASSWORD written to %s\n", path)
	return nil
}
