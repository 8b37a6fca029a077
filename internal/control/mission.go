package control

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"
)

// Fleet API methods used by the mission helpers.
//
// The helpers send google.protobuf.Struct messages shaped like the fleet
// API requests. A Struct is not wire compatible with the generated
// CreateMissionRequest or SubscribeMissionStatusRequest, so a server built
// from the fleet protos will not decode them. Against the live API use the
// generated client over Conn() with retry.UnaryFunc or retry.StreamFunc.
const (
	CreateMissionMethod          = "/bearrobotics.api.v1.services.cloud.APIService/CreateMission"
	SubscribeMissionStatusMethod = "/bearrobotics.api.v1.services.cloud.APIService/SubscribeMissionStatus"
)

// CreateMissionRequest builds a navigate mission sending robotID to
// destinationID.
func CreateMissionRequest(robotID, destinationID string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"robot_id": robotID,
		"mission": map[string]any{
			"base_mission": map[string]any{
				"navigate_mission": map[string]any{
					"goal": map[string]any{
						"destination_id": destinationID,
					},
				},
			},
		},
	})
}

// SubscribeMissionStatusRequest selects the given robots by ID.
func SubscribeMissionStatusRequest(robotIDs ...string) (*structpb.Struct, error) {
	ids := make([]any, len(robotIDs))
	for i, id := range robotIDs {
		ids[i] = id
	}
	return structpb.NewStruct(map[string]any{
		"selector": map[string]any{
			"robot_ids": map[string]any{
				"ids": ids,
			},
		},
	})
}

// CreateMission asks the fleet API to send a robot to a destination. The
// request is a Struct; see the note on CreateMissionMethod.
func (c *Client) CreateMission(ctx context.Context, robotID, destinationID string) (*structpb.Struct, error) {
	req, err := CreateMissionRequest(robotID, destinationID)
	if err != nil {
		return nil, err
	}
	return c.Call(ctx, CreateMissionMethod, req)
}

// SubscribeMissionStatus streams mission state updates for one robot,
// reconnecting on retryable failures. The request is a Struct; see the
// note on CreateMissionMethod.
func (c *Client) SubscribeMissionStatus(ctx context.Context, robotID string, onNext func(*structpb.Struct)) error {
	req, err := SubscribeMissionStatusRequest(robotID)
	if err != nil {
		return err
	}
	return c.Subscribe(ctx, SubscribeMissionStatusMethod, req, onNext)
}
