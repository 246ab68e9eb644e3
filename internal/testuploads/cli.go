package testuploads

import "os"

// ShowHelp prints usage information for the upload test tool.
func ShowHelp() {
	os.Stdout.WriteString(`Raidsync Upload Test Tool
=========================

Simulates groups of players uploading the same encounters concurrently and
verifies that each encounter lands in exactly one finalized record.

Usage:
  go run ./cmd/test-uploads [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -encounters int
        Number of encounters to simulate (default 100)
  -uploaders int
        Players uploading each encounter, 1 to 4 (default 4)
  -workers int
        Number of concurrent uploads (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 30s)
  -settle duration
        Maximum wait for summaries to finalize (default 1m)
  -key string
        Signing key for bearer tokens (default $RAIDSYNC_SIGNING_KEY)
  -serve-records string
        Also serve a stand-in system of record on this address, e.g. :9090
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Run a stand-in system of record only
  go run ./cmd/test-uploads -serve-records :9090 -encounters 0

  # Drive 500 encounters with two uploaders each
  go run ./cmd/test-uploads -encounters 500 -uploaders 2 -workers 32
`)
}
