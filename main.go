// Command rover-relay-hub runs the relay hub between operator consoles and
// rover agents.
//
// Commands:
//  1. "serve" (default) – HTTP server with the WebSocket relay, REST API, static UI and an /mcp endpoint
//  2. "stdio-mcp" – MCP stdio server backed by a running hub, or an internal one
//  3. "connect" – interactive client that verifies as operator or agent
//  4. "check-config" – print or write the effective configuration
//
// Settings come from built-in defaults, an optional JSON file, the
// environment (.env is loaded first) and flags, in that order.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v3"
	"github.com/wricardo/rover-relay-hub/api"
	"github.com/wricardo/rover-relay-hub/client"
	"github.com/wricardo/rover-relay-hub/hub/config"
	"github.com/wricardo/rover-relay-hub/hub/registry"
	"github.com/wricardo/rover-relay-hub/hub/relay"
	"github.com/wricardo/rover-relay-hub/transport/mcp"
	"github.com/wricardo/rover-relay-hub/transport/websocket"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Rover Relay Hub"
)

func main() {
	// Load .env file if it exists (ignore error if not found)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Warning: Error loading .env file: %v", err)
		}
	} else {
		log.Println("Loaded environment variables from .env file")
	}

	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:           "rover-relay-hub",
		Usage:          AppName,
		Version:        Version,
		DefaultCommand: "serve",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Enable debug logging",
				Sources: cli.EnvVars("DEBUG"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool("debug") {
				log.SetFlags(log.LstdFlags | log.Lshortfile)
			} else {
				log.SetFlags(log.LstdFlags)
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			serveCommand(),
			stdioMCPCommand(),
			connectCommand(),
			checkConfigCommand(),
		},
	}
}

// hubFlags declares every configuration key. Each command gets its own copy.
func hubFlags() []cli.Flag {
	d := config.Default()
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "JSON configuration file", Sources: cli.EnvVars("HUB_CONFIG")},
		&cli.StringFlag{Name: "host", Value: d.Host, Usage: "HTTP server host", Sources: cli.EnvVars("HOST")},
		&cli.IntFlag{Name: "port", Value: d.Port, Usage: "HTTP server port", Sources: cli.EnvVars("PORT")},
		&cli.StringFlag{Name: "hub-id", Value: d.HubID, Usage: "msgSource of hub-originated envelopes", Sources: cli.EnvVars("HUB_ID")},
		&cli.StringFlag{Name: "static-dir", Value: d.StaticDir, Usage: "Directory served as the web UI (empty disables it)", Sources: cli.EnvVars("STATIC_DIR")},
		&cli.IntFlag{Name: "send-buffer", Value: d.SendBufferSize, Usage: "Outbound frames queued per connection", Sources: cli.EnvVars("SEND_BUFFER")},
		&cli.Int64Flag{Name: "max-message-size", Value: d.MaxMessageSize, Usage: "Largest accepted frame in bytes", Sources: cli.EnvVars("MAX_MESSAGE_SIZE")},
		&cli.DurationFlag{Name: "write-wait", Value: time.Duration(d.WriteWait), Usage: "Time allowed to write a frame", Sources: cli.EnvVars("WRITE_WAIT")},
		&cli.DurationFlag{Name: "pong-wait", Value: time.Duration(d.PongWait), Usage: "Time allowed between pongs", Sources: cli.EnvVars("PONG_WAIT")},
		&cli.DurationFlag{Name: "ping-period", Value: time.Duration(d.PingPeriod), Usage: "Interval between pings", Sources: cli.EnvVars("PING_PERIOD")},
		&cli.StringSliceFlag{Name: "allowed-origins", Usage: "Browser origins allowed to connect (default: any)", Sources: cli.EnvVars("ALLOWED_ORIGINS")},
		&cli.BoolFlag{Name: "ngrok", Usage: "Enable ngrok tunnel", Sources: cli.EnvVars("NGROK_ENABLED")},
		&cli.StringFlag{Name: "ngrok-auth", Usage: "Ngrok auth token", Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN")},
		&cli.StringFlag{Name: "ngrok-domain", Usage: "Custom ngrok domain (optional)", Sources: cli.EnvVars("NGROK_DOMAIN")},
	}
}

// loadConfig builds the effective configuration: defaults, then the JSON
// file, then anything set through the environment or flags.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg := config.Default()
	if path := cmd.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if cmd.IsSet("host") {
		cfg.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Port = cmd.Int("port")
	}
	if cmd.IsSet("hub-id") {
		cfg.HubID = cmd.String("hub-id")
	}
	if cmd.IsSet("static-dir") {
		cfg.StaticDir = cmd.String("static-dir")
	}
	if cmd.IsSet("send-buffer") {
		cfg.SendBufferSize = cmd.Int("send-buffer")
	}
	if cmd.IsSet("max-message-size") {
		cfg.MaxMessageSize = cmd.Int64("max-message-size")
	}
	if cmd.IsSet("write-wait") {
		cfg.WriteWait = config.Duration(cmd.Duration("write-wait"))
	}
	if cmd.IsSet("pong-wait") {
		cfg.PongWait = config.Duration(cmd.Duration("pong-wait"))
	}
	if cmd.IsSet("ping-period") {
		cfg.PingPeriod = config.Duration(cmd.Duration("ping-period"))
	}
	if cmd.IsSet("allowed-origins") {
		cfg.AllowedOrigins = cmd.StringSlice("allowed-origins")
	}
	if cmd.IsSet("ngrok") {
		cfg.Ngrok.Enabled = cmd.Bool("ngrok")
	}
	if cmd.IsSet("ngrok-auth") {
		cfg.Ngrok.AuthToken = cmd.String("ngrok-auth")
	}
	if cmd.IsSet("ngrok-domain") {
		cfg.Ngrok.Domain = cmd.String("ngrok-domain")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"server", "http"},
		Usage:   "Run the relay hub with REST API, WebSocket and MCP endpoint",
		Flags:   hubFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, cfg)
		},
	}
}

// hubServer wires the relay core to its HTTP surfaces.
type hubServer struct {
	cfg     *config.Config
	clients *registry.Registry
	relay   *relay.Relay
	hub     *websocket.Hub
	handler http.Handler
}

// newHubServer builds the relay and its routes. apiURL is the address the
// /mcp endpoint uses to reach the REST API.
func newHubServer(cfg *config.Config, apiURL string) *hubServer {
	clients := registry.New()
	r := relay.New(clients, relay.Options{HubID: cfg.HubID})
	hub := websocket.NewHub(r, clients, websocket.Options{
		SendBufferSize: cfg.SendBufferSize,
		MaxMessageSize: cfg.MaxMessageSize,
		WriteWait:      time.Duration(cfg.WriteWait),
		PongWait:       time.Duration(cfg.PongWait),
		PingPeriod:     time.Duration(cfg.PingPeriod),
		AllowedOrigins: cfg.AllowedOrigins,
	})

	staticDir := cfg.StaticDir
	if staticDir != "" {
		if info, err := os.Stat(staticDir); err != nil || !info.IsDir() {
			log.Printf("Static directory %q not found, web UI disabled", staticDir)
			staticDir = ""
		}
	}
	apiServer := api.NewServer(r, clients, hub, api.Options{StaticDir: staticDir, Version: Version})

	mcpClient := mcp.NewClient(apiURL, Version)

	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", apiServer)
	mainRouter.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpClient.GetMCPServer().HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	})

	return &hubServer{
		cfg:     cfg,
		clients: clients,
		relay:   r,
		hub:     hub,
		handler: mainRouter,
	}
}

// runServer listens on the configured address and serves until ctx is done.
func runServer(ctx context.Context, cfg *config.Config) error {
	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr(), err)
	}

	s := newHubServer(cfg, loopbackURL(ln.Addr()))
	return s.serve(ctx, ln)
}

// loopbackURL returns an http URL for addr that is reachable from this host.
func loopbackURL(addr net.Addr) string {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok || tcp.IP.IsUnspecified() {
		_, port, _ := net.SplitHostPort(addr.String())
		return "http://127.0.0.1:" + port
	}
	return "http://" + tcp.String()
}

// serve runs the HTTP server (and the ngrok tunnel, if enabled) on ln until
// ctx is done, then closes every relay connection and shuts down.
func (s *hubServer) serve(ctx context.Context, ln net.Listener) error {
	log.Printf("Starting %s v%s (hub id: %s)", AppName, Version, s.cfg.HubID)

	httpServer := &http.Server{
		Handler:     s.handler,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	addr := ln.Addr().String()
	wg.Add(1)
	go func() {
		defer wg.Done()

		log.Printf("HTTP server listening on %s", addr)
		log.Printf("WebSocket: ws://%s/ (also /ws)", addr)
		log.Printf("REST API: http://%s/api", addr)
		log.Printf("MCP endpoint: http://%s/mcp", addr)

		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	if s.cfg.Ngrok.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveNgrok(ctx)
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		log.Println("Shutting down...")
	case serveErr = <-errCh:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := s.hub.Shutdown(shutdownCtx); err != nil {
		log.Printf("WebSocket shutdown error: %v", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	wg.Wait()
	log.Println("Server stopped")
	return serveErr
}

// serveNgrok exposes the same routes through an ngrok tunnel until ctx is done.
func (s *hubServer) serveNgrok(ctx context.Context) {
	var tunnel ngrokConfig.Tunnel
	if s.cfg.Ngrok.Domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(s.cfg.Ngrok.Domain))
		log.Printf("Using custom ngrok domain: %s", s.cfg.Ngrok.Domain)
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	log.Println("Starting ngrok tunnel...")
	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(s.cfg.Ngrok.AuthToken))
	if err != nil {
		log.Printf("Failed to start ngrok tunnel: %v", err)
		return
	}

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			log.Printf("Failed to close ngrok tunnel: %v", err)
		}
	}()

	ngrokURL := tun.URL()
	wsURL := "wss" + strings.TrimPrefix(ngrokURL, "https")
	log.Printf("🚀 Ngrok tunnel established: %s", ngrokURL)
	log.Printf("  WebSocket (ngrok): %s/", wsURL)
	log.Printf("  REST API (ngrok): %s/api", ngrokURL)
	log.Printf("  MCP endpoint (ngrok): %s/mcp", ngrokURL)

	if err := http.Serve(tun, s.handler); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		log.Printf("Ngrok server error: %v", err)
	}
	log.Println("Ngrok tunnel closed")
}

func stdioMCPCommand() *cli.Command {
	flags := append(hubFlags(), &cli.StringFlag{
		Name:    "api-url",
		Value:   "http://localhost:3000",
		Usage:   "REST API of a running hub; an internal hub is started when unreachable",
		Sources: cli.EnvVars("HUB_API_URL"),
	})

	return &cli.Command{
		Name:    "stdio-mcp",
		Aliases: []string{"mcp-stdio", "mcp"},
		Usage:   "Run an MCP stdio server",
		Flags:   flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runStdioMCP(ctx, cfg, cmd.String("api-url"))
		},
	}
}

// runStdioMCP serves MCP on stdio. It reuses the hub at externalURL when it
// answers, otherwise it starts an internal hub on a random loopback port.
func runStdioMCP(ctx context.Context, cfg *config.Config, externalURL string) error {
	baseURL := externalURL

	log.Printf("Checking for external hub at %s...", externalURL)
	testClient := &http.Client{Timeout: 2 * time.Second}
	resp, err := testClient.Get(strings.TrimSuffix(externalURL, "/") + "/api")
	if err == nil && resp.StatusCode < 500 {
		resp.Body.Close()
		log.Printf("External hub found at %s, using it for MCP", externalURL)
	} else {
		if resp != nil {
			resp.Body.Close()
		}
		log.Printf("No external hub found, starting internal HTTP server")

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}
		baseURL = loopbackURL(ln.Addr())

		internalCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		s := newHubServer(cfg, baseURL)
		go func() {
			if err := s.serve(internalCtx, ln); err != nil {
				log.Printf("Internal HTTP server error: %v", err)
			}
		}()
		log.Printf("Internal hub listening on %s", baseURL)
	}

	mcpClient := mcp.NewClient(baseURL, Version)
	log.Println("MCP stdio server ready")

	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}

func connectCommand() *cli.Command {
	return &cli.Command{
		Name:  "connect",
		Usage: "Connect to a hub, print incoming envelopes and send stdin lines as messages",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "ws://localhost:3000/ws", Usage: "Hub WebSocket URL", Sources: cli.EnvVars("HUB_URL")},
			&cli.StringFlag{Name: "role", Value: client.RoleOperator, Usage: "Client type: operator or agent"},
			&cli.StringFlag{Name: "hub-id", Value: relay.DefaultHubID, Usage: "Hub ID used as the verification target", Sources: cli.EnvVars("HUB_ID")},
			&cli.StringFlag{Name: "type", Value: "message", Usage: "msgType of messages read from stdin"},
			&cli.StringFlag{Name: "target", Usage: "msgTarget of messages read from stdin (empty: all operators)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := client.DialWithOptions(ctx, cmd.String("url"), cmd.String("role"), client.Options{
				HubID: cmd.String("hub-id"),
			})
			if err != nil {
				return err
			}
			defer c.Close()

			log.Printf("Connected as %s %s", c.Role(), c.ID())
			return runConnect(ctx, c, os.Stdin, os.Stdout, cmd.String("type"), cmd.String("target"))
		},
	}
}

// runConnect prints every incoming envelope to out as one JSON line and sends
// each line of in as a message. Lines that are not JSON are sent as
// {"text": line}.
func runConnect(ctx context.Context, c *client.Client, in io.Reader, out io.Writer, msgType, target string) error {
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var payload any = map[string]string{"text": line}
			if json.Valid([]byte(line)) {
				payload = json.RawMessage(line)
			}

			if _, err := c.Send(msgType, target, payload); err != nil {
				log.Printf("Send failed: %v", err)
				return
			}
		}
	}()

	enc := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-c.Incoming():
			if !ok {
				if err := c.Err(); err != nil {
					return fmt.Errorf("connection closed: %w", err)
				}
				return nil
			}
			if err := enc.Encode(env); err != nil {
				return err
			}
		}
	}
}

func checkConfigCommand() *cli.Command {
	flags := append(hubFlags(), &cli.StringFlag{
		Name:  "write",
		Usage: "Write the effective configuration to this file",
	})

	return &cli.Command{
		Name:  "check-config",
		Usage: "Validate and print the effective configuration",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if path := cmd.String("write"); path != "" {
				if err := cfg.Save(path); err != nil {
					return err
				}
				log.Printf("Configuration written to %s", path)
			}

			return printConfig(cmd.Root().Writer, cfg)
		},
	}
}

func printConfig(w io.Writer, cfg *config.Config) error {
	redacted := *cfg
	if redacted.Ngrok.AuthToken != "" {
		redacted.Ngrok.AuthToken = "********"
	}

	data, err := json.MarshalIndent(&redacted, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
