package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wricardo/rover-relay-hub/client"
)

const (
	typeTelemetry = "telemetry"
	typeCommand   = "command"
)

// Options configures a load run.
type Options struct {
	URL         string
	HubID       string
	Agents      int
	Duration    time.Duration
	Interval    time.Duration
	PayloadSize int
	Logf        func(format string, args ...any)
}

// Report summarizes a load run.
type Report struct {
	Agents            int
	Elapsed           time.Duration
	TelemetrySent     int64
	TelemetryReceived int64
	CommandsSent      int64
	CommandsReceived  int64
	Disconnected      int
	P50, P99, Max     time.Duration
}

// Throughput returns received telemetry per second.
func (r *Report) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.TelemetryReceived) / r.Elapsed.Seconds()
}

type telemetry struct {
	Seq    int64  `json:"seq"`
	SentAt int64  `json:"sentAt"`
	Pad    string `json:"pad,omitempty"`
}

// Run connects one operator and opts.Agents agents and exchanges traffic
// until opts.Duration elapses or ctx is done.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Agents <= 0 {
		return nil, errors.New("at least one agent is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	if opts.Logf == nil {
		opts.Logf = func(string, ...any) {}
	}

	dial := client.Options{HubID: opts.HubID, Buffer: 256}

	operator, err := client.DialWithOptions(ctx, opts.URL, client.RoleOperator, dial)
	if err != nil {
		return nil, fmt.Errorf("operator: %w", err)
	}
	defer operator.Close()

	var (
		telemetryReceived atomic.Int64
		commandsReceived  atomic.Int64
		latencyMu         sync.Mutex
		latencies         []time.Duration
	)

	go func() {
		for env := range operator.Incoming() {
			if env.Type != typeTelemetry {
				continue
			}
			var t telemetry
			if err := env.DecodePayload(&t); err != nil {
				continue
			}
			telemetryReceived.Add(1)
			latencyMu.Lock()
			latencies = append(latencies, time.Since(time.Unix(0, t.SentAt)))
			latencyMu.Unlock()
		}
	}()

	agents := make([]*client.Client, 0, opts.Agents)
	defer func() {
		for _, a := range agents {
			a.Close()
		}
	}()
	for i := 0; i < opts.Agents; i++ {
		a, err := client.DialWithOptions(ctx, opts.URL, client.RoleAgent, dial)
		if err != nil {
			return nil, fmt.Errorf("agent %d: %w", i, err)
		}
		agents = append(agents, a)

		go func() {
			for env := range a.Incoming() {
				if env.Type == typeCommand {
					commandsReceived.Add(1)
				}
			}
		}()
	}
	opts.Logf("Connected 1 operator and %d agents", len(agents))

	runCtx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	var (
		telemetrySent atomic.Int64
		commandsSent  atomic.Int64
		senders       sync.WaitGroup
	)
	pad := strings.Repeat("x", max(opts.PayloadSize, 0))
	start := time.Now()

	for _, a := range agents {
		senders.Add(1)
		go func() {
			defer senders.Done()
			ticker := time.NewTicker(opts.Interval)
			defer ticker.Stop()

			var seq int64
			for {
				select {
				case <-runCtx.Done():
					return
				case <-a.Done():
					return
				case <-ticker.C:
					seq++
					payload := telemetry{Seq: seq, SentAt: time.Now().UnixNano(), Pad: pad}
					if _, err := a.Send(typeTelemetry, "", payload); err != nil {
						opts.Logf("Agent %s send failed: %v", a.ID(), err)
						return
					}
					telemetrySent.Add(1)
				}
			}
		}()
	}

	senders.Add(1)
	go func() {
		defer senders.Done()
		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()

		for i := 0; ; i++ {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				target := agents[i%len(agents)]
				if _, err := operator.Send(typeCommand, target.ID(), map[string]int{"seq": i}); err != nil {
					opts.Logf("Operator send failed: %v", err)
					return
				}
				commandsSent.Add(1)
			}
		}
	}()

	senders.Wait()
	elapsed := time.Since(start)

	// Let in-flight frames arrive before counting.
	waitFor(func() bool {
		return telemetryReceived.Load() >= telemetrySent.Load() &&
			commandsReceived.Load() >= commandsSent.Load()
	}, 2*time.Second)

	report := &Report{
		Agents:            len(agents),
		Elapsed:           elapsed,
		TelemetrySent:     telemetrySent.Load(),
		TelemetryReceived: telemetryReceived.Load(),
		CommandsSent:      commandsSent.Load(),
		CommandsReceived:  commandsReceived.Load(),
	}
	for _, a := range agents {
		select {
		case <-a.Done():
			report.Disconnected++
		default:
		}
	}

	latencyMu.Lock()
	report.P50, report.P99, report.Max = percentiles(latencies)
	latencyMu.Unlock()

	return report, nil
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) && !cond() {
		time.Sleep(10 * time.Millisecond)
	}
}

func percentiles(samples []time.Duration) (p50, p99, maxLatency time.Duration) {
	if len(samples) == 0 {
		return 0, 0, 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	at := func(q float64) time.Duration {
		return sorted[int(q*float64(len(sorted)-1))]
	}
	return at(0.50), at(0.99), sorted[len(sorted)-1]
}
