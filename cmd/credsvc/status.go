// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/flicker/credsvc/internal/config"
	credgrpc "github.com/flicker/credsvc/internal/grpc"
)

// ServiceStatus holds the health of one configured service.
type ServiceStatus struct {
	Service string `json:"service"`
	Address string `json:"address"`
	Serving bool   `json:"serving"`
	Health  string `json:"health,omitempty"`
	Error   string `json:"error,omitempty"`
}

// statusFlags holds configuration for the status command.
type statusFlags struct {
	jsonOutput bool
	timeout    time.Duration
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd(global *globalFlags) *cobra.Command {
	flags := &statusFlags{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of the credential service workers",
		Long:  `Query the gRPC health service of every configured service address and report whether it is serving.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.load(nil, nil)
			if err != nil {
				return err
			}
			return runStatus(cmd.Context(), cmd, cfg, flags, nil)
		},
	}

	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 2*time.Second, "per-service health check timeout")

	return cmd
}

// runStatus checks every known service. dial, when set, replaces the
// default gRPC client options.
func runStatus(ctx context.Context, cmd *cobra.Command, cfg *config.Config, flags *statusFlags, dial func(addr string) credgrpc.ClientConfig) error {
	if dial == nil {
		dial = func(addr string) credgrpc.ClientConfig { return credgrpc.ClientConfig{Address: addr} }
	}

	statuses := make(map[string]ServiceStatus, len(config.KnownServices))
	for _, service := range config.KnownServices {
		addr, err := cfg.Addr(service)
		if err != nil {
			return err
		}
		statuses[service] = queryServiceStatus(ctx, service, dial(addr), flags.timeout)
	}

	var output string
	if flags.jsonOutput {
		data, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
		output = string(data)
	} else {
		output = formatStatusTable(statuses)
	}

	cmd.Println(output)
	return nil
}

// queryServiceStatus runs one health check against a worker.
func queryServiceStatus(ctx context.Context, service string, clientCfg credgrpc.ClientConfig, timeout time.Duration) ServiceStatus {
	status := ServiceStatus{Service: service, Address: clientCfg.Address}

	client, err := credgrpc.NewClient(ctx, clientCfg)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	serving, err := client.Health(ctx, grpcServiceName(service))
	if err != nil {
		status.Error = "unreachable"
		return status
	}
	status.Health = serving.String()
	status.Serving = serving == healthpb.HealthCheckResponse_SERVING
	return status
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(statuses map[string]ServiceStatus) string {
	var buf []byte
	w := tabwriter.NewWriter((*byteWriter)(&buf), 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "SERVICE\tADDRESS\tSTATUS\tHEALTH")
	_, _ = fmt.Fprintln(w, "-------\t-------\t------\t------")

	for _, service := range config.KnownServices {
		status, ok := statuses[service]
		if !ok {
			continue
		}
		switch {
		case status.Serving:
			_, _ = fmt.Fprintf(w, "%s\t%s\tserving\t%s\n", service, status.Address, status.Health)
		case status.Error != "":
			_, _ = fmt.Fprintf(w, "%s\t%s\tdown\t%s\n", service, status.Address, status.Error)
		default:
			_, _ = fmt.Fprintf(w, "%s\t%s\tnot serving\t%s\n", service, status.Address, status.Health)
		}
	}

	_ = w.Flush()
	return string(buf)
}

// byteWriter is a simple writer that appends to a byte slice.
type byteWriter []byte

func (w *byteWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
