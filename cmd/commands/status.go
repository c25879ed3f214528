package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/urfave/cli/v3"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Check whether the server is up and its storage reachable",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "Server base URL (default: derived from the gateway config)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 3 * time.Second,
			},
		},
		Action: runStatus,
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	base := cmd.String("url")
	if base == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		base = "http://" + net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	}

	ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Server: NOT RUNNING (%s)\n", base)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read health: %w", err)
	}

	var health healthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return fmt.Errorf("decode health (HTTP %d): %w", resp.StatusCode, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		fmt.Printf("Server: ALIVE (%s, storage %s)\n", base, health.Storage)
	default:
		fmt.Printf("Server: %s (%s, storage %s)\n", health.Status, base, health.Storage)
	}
	return nil
}
