package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vietddude/fleetcall/internal/control"
)

var callData string

var callCmd = &cobra.Command{
	Use:   "call <method>",
	Short: "Invoke a unary method with a JSON payload",
	Long: `Invoke a unary method by its full name, e.g.
/bearrobotics.api.v1.services.cloud.APIService/CreateMission.
The payload is sent as a google.protobuf.Struct.`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <method>",
	Short: "Open a server stream and print every message",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubscribe,
}

func init() {
	for _, cmd := range []*cobra.Command{callCmd, subscribeCmd} {
		cmd.Flags().StringVarP(&callData, "data", "d", "{}", "request body as JSON, or @file")
		rootCmd.AddCommand(cmd)
	}
}

func runCall(cmd *cobra.Command, args []string) error {
	req, err := parseData(callData)
	if err != nil {
		return err
	}
	return withClient(func(ctx context.Context, c *control.Client) error {
		resp, err := c.Call(ctx, args[0], req)
		if err != nil {
			return err
		}
		return printMessage(cmd.OutOrStdout(), resp)
	})
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	req, err := parseData(callData)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	return withClient(func(ctx context.Context, c *control.Client) error {
		return c.Subscribe(ctx, args[0], req, func(m *structpb.Struct) {
			_ = printMessage(out, m)
		})
	})
}

// parseData reads a JSON object from the flag value, or from a file when the
// value starts with @.
func parseData(data string) (*structpb.Struct, error) {
	raw := []byte(data)
	if len(data) > 1 && data[0] == '@' {
		b, err := os.ReadFile(data[1:])
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		raw = b
	}

	req := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	return req, nil
}

func printMessage(w io.Writer, m *structpb.Struct) error {
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
