// Package logging provides structured logging for scardbridge.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the bridge.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("bridge started", "bridge_id", id)
//	logger.Error("failed to connect", "error", err)
//
// Never log card payloads (APDUs) or MQTT credentials.
package logging
