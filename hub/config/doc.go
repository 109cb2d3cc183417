// Package config provides configuration for the relay hub server.
//
// The config package handles:
//   - Built-in defaults matching the rover firmware and browser UI
//     (port 3000 on all interfaces, hub id "server-main")
//   - Loading a JSON overlay file on top of the defaults
//   - Validation of listener, buffer and keepalive settings
//   - Writing a configuration file for later editing
//
// Configuration Format:
//
// Durations are written as Go duration strings:
//
//	{
//	  "host": "0.0.0.0",
//	  "port": 3000,
//	  "hub_id": "server-main",
//	  "static_dir": "static",
//	  "send_buffer_size": 256,
//	  "max_message_size": 65536,
//	  "write_wait": "10s",
//	  "pong_wait": "60s",
//	  "ping_period": "54s",
//	  "allowed_origins": [],
//	  "ngrok": {"enabled": false}
//	}
//
// Fields missing from the file keep their default value. Environment
// variables and command-line flags are applied on top by the command.
//
// Usage:
//
//	cfg, err := config.Load("relayhub.json")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
package config
