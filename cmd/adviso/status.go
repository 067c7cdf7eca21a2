// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Adviso Contributors

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// ErrServerNotRunning indicates the server refused the connection.
var ErrServerNotRunning = errors.New("server is not running (connection refused)")

// defaultHTTPClient is the package-level HTTP client used by commands that
// talk to a running server. Overridden in tests via httptest.
var defaultHTTPClient = &http.Client{
	Timeout: 5 * time.Second,
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		Long:  "Check the running server's health endpoint and display status information.",
		RunE:  runStatus,
	}

	cmd.Flags().String("address", "127.0.0.1:8470", "server address to check")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	out := cmd.OutOrStdout()

	var body struct {
		Status   string `json:"status"`
		Provider *struct {
			Name    string `json:"name"`
			Metrics struct {
				Available bool `json:"available"`
			} `json:"metrics"`
		} `json:"provider"`
	}
	if err := getJSON(addr, "/health", &body); err != nil {
		if errors.Is(err, ErrServerNotRunning) {
			_, _ = fmt.Fprintf(out, "Adviso at %s is not running (connection refused)\n", addr)
			return nil
		}
		_, _ = fmt.Fprintf(out, "Adviso at %s: %s\n", addr, err)
		return nil
	}

	_, _ = fmt.Fprintf(out, "Adviso at %s: %s\n", addr, body.Status)
	if body.Provider != nil {
		_, _ = fmt.Fprintf(out, "Provider %s available: %t\n", body.Provider.Name, body.Provider.Metrics.Available)
	}
	return nil
}

// getJSON performs a GET request against a running server and decodes the
// JSON response into dest. Returns ErrServerNotRunning on connection refused.
func getJSON(addr, path string, dest any) error {
	resp, err := defaultHTTPClient.Get("http://" + addr + path)
	if err != nil {
		if isDialError(err) {
			return ErrServerNotRunning
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}

func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
