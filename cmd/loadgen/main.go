// Command loadgen connects one operator and a fleet of simulated rovers to a
// hub and measures relay throughput and latency.
//
// Every agent sends telemetry to the operators at a fixed interval while the
// operator sends commands to the agents round-robin. At the end a summary of
// sent and received messages and telemetry latency is printed.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"github.com/wricardo/rover-relay-hub/hub/relay"
)

func main() {
	cmd := &cli.Command{
		Name:  "loadgen",
		Usage: "Generate operator and agent traffic against a relay hub",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "ws://localhost:3000/ws", Usage: "Hub WebSocket URL", Sources: cli.EnvVars("HUB_URL")},
			&cli.StringFlag{Name: "hub-id", Value: relay.DefaultHubID, Usage: "Hub ID used as the verification target", Sources: cli.EnvVars("HUB_ID")},
			&cli.IntFlag{Name: "agents", Value: 10, Usage: "Number of simulated rovers"},
			&cli.DurationFlag{Name: "duration", Value: 10 * time.Second, Usage: "How long to send traffic"},
			&cli.DurationFlag{Name: "interval", Value: 100 * time.Millisecond, Usage: "Telemetry interval per agent"},
			&cli.IntFlag{Name: "payload-size", Value: 64, Usage: "Padding bytes added to each telemetry payload"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := Run(ctx, Options{
				URL:         cmd.String("url"),
				HubID:       cmd.String("hub-id"),
				Agents:      cmd.Int("agents"),
				Duration:    cmd.Duration("duration"),
				Interval:    cmd.Duration("interval"),
				PayloadSize: cmd.Int("payload-size"),
				Logf:        log.Printf,
			})
			if err != nil {
				return err
			}

			printReport(cmd.Root().Writer, report)
			return nil
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func printReport(w io.Writer, r *Report) {
	fmt.Fprintf(w, "\n=== Load Report ===\n")
	fmt.Fprintf(w, "Agents: %d, elapsed: %s\n", r.Agents, r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Telemetry: %d sent, %d received (%.1f msg/s)\n", r.TelemetrySent, r.TelemetryReceived, r.Throughput())
	fmt.Fprintf(w, "Commands: %d sent, %d received\n", r.CommandsSent, r.CommandsReceived)
	fmt.Fprintf(w, "Latency: p50 %s, p99 %s, max %s\n", r.P50, r.P99, r.Max)
	if r.Disconnected > 0 {
		fmt.Fprintf(w, "⚠️  %d agent(s) disconnected early\n", r.Disconnected)
	}
}
