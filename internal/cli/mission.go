package cli

import (
	"context"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vietddude/fleetcall/internal/control"
)

var missionCmd = &cobra.Command{
	Use:   "mission",
	Short: "Create missions and follow their status",
	Long: `Create missions and follow their status.

Requests are sent as google.protobuf.Struct messages shaped like the fleet
API requests. They are not wire compatible with the generated fleet protos,
so these commands only work against a server that accepts Struct payloads,
such as a gateway or a test double.`,
}

var missionCreateCmd = &cobra.Command{
	Use:   "create <robot-id> <destination-id>",
	Short: "Send a robot to a destination",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			resp, err := c.CreateMission(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printMessage(cmd.OutOrStdout(), resp)
		})
	},
}

var missionStatusCmd = &cobra.Command{
	Use:   "status <robot-id>",
	Short: "Stream mission status updates for a robot until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		return withClient(func(ctx context.Context, c *control.Client) error {
			return c.SubscribeMissionStatus(ctx, args[0], func(m *structpb.Struct) {
				_ = printMessage(out, m)
			})
		})
	},
}

func init() {
	missionCmd.AddCommand(missionCreateCmd, missionStatusCmd)
	rootCmd.AddCommand(missionCmd)
}
