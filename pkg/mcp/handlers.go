package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/urmzd/ecovent/pkg/vento"
)

const (
	defaultSearchSeconds = 3
	maxSearchSeconds     = 30
)

func (s *Server) handleGetHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	controllerStatus := "disconnected"
	if s.controller.IsConnected() {
		controllerStatus = "connected"
	}

	status := "healthy"
	if controllerStatus != "connected" {
		status = "unhealthy"
	}

	devices, err := s.controller.ListDevices(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list devices: %s", err)), nil
	}
	available := 0
	for _, d := range devices {
		if d.Available {
			available++
		}
	}

	out := GetHealthOutput{
		Status:     status,
		Controller: controllerStatus,
		Devices:    len(devices),
		Available:  available,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleListDevices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	devices, err := s.controller.ListDevices(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list devices: %s", err)), nil
	}

	infos := make([]DeviceInfo, 0, len(devices))
	for i := range devices {
		info := DeviceToInfo(&devices[i])
		// Fans that have not answered yet are listed without state
		state, err := s.controller.GetDeviceState(ctx, devices[i].ID)
		if err == nil {
			info.State = state
		}
		infos = append(infos, info)
	}

	out := ListDevicesOutput{
		Devices: infos,
		Count:   len(infos),
	}

	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleGetDevice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(request, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	d, err := s.controller.GetDevice(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("device not found: %s", err)), nil
	}

	info := DeviceToInfo(d)
	info.StateSchema = d.StateSchema
	info.Actions = d.Actions
	state, err := s.controller.GetDeviceState(ctx, d.ID)
	if err == nil {
		info.State = state
	}

	out := GetDeviceOutput{Device: info}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleRenameDevice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(request, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	newName, err := requiredString(request, "new_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.controller.RenameDevice(ctx, id, newName); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to rename device: %s", err)), nil
	}

	out := MessageOutput{
		Success: true,
		Message: fmt.Sprintf("Fan %q renamed to %q", id, newName),
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleRemoveDevice(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(request, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.controller.RemoveDevice(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to remove device: %s", err)), nil
	}

	out := MessageOutput{
		Success: true,
		Message: fmt.Sprintf("Fan %q removed", id),
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleGetDeviceState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(request, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	state, err := s.controller.GetDeviceState(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get device state: %s", err)), nil
	}

	out := StateOutput{
		DeviceID: id,
		State:    state,
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) handleSetDeviceState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(request, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	args := request.GetArguments()

	// State can be passed as a nested "state" object or as flat args
	stateMap, ok := args["state"].(map[string]any)
	if !ok {
		stateMap = map[string]any{}
		for k, v := range args {
			if k != "id" {
				stateMap[k] = v
			}
		}
	}

	return s.applyState(ctx, id, stateMap, "set device state")
}

func (s *Server) handleTurnOn(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(request, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	req := map[string]any{vento.KeyState: vento.StateOn}
	args := request.GetArguments()
	if p, ok := args["preset_mode"].(string); ok && p != "" {
		req[vento.EntityPresetMode] = p
	}
	if p, ok := args["percentage"]; ok && p != nil {
		req[vento.EntityPercentage] = p
	}

	return s.applyState(ctx, id, req, "turn on fan")
}

func (s *Server) handleTurnOff(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requiredString(request, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return s.applyState(ctx, id, map[string]any{vento.KeyState: vento.StateOff}, "turn off fan")
}

// applyState validates state against the fan's schema and writes it.
func (s *Server) applyState(ctx context.Context, id string, state map[string]any, what string) (*mcp.CallToolResult, error) {
	if s.validator != nil {
		d, err := s.controller.GetDevice(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("device not found: %s", err)), nil
		}
		if err := s.validator.Validate(d.StateSchema, state); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("validation error: %s", err)), nil
		}
	}

	newState, err := s.controller.SetDeviceState(ctx, id, state)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to %s: %s", what, err)), nil
	}

	out := StateOutput{
		DeviceID: id,
		State:    newState,
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

func (s *Server) actionHandler(action string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := requiredString(request, "id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		state, err := s.controller.RunAction(ctx, id, action)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to run %s: %s", action, err)), nil
		}

		out := ActionOutput{
			DeviceID: id,
			Action:   action,
			State:    state,
		}
		return mcp.NewToolResultText(formatJSON(out)), nil
	}
}

func (s *Server) handleSearchDevices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	seconds := defaultSearchSeconds
	if v, ok := request.GetArguments()["timeout_seconds"].(float64); ok && v > 0 {
		seconds = int(v)
	}
	if seconds > maxSearchSeconds {
		seconds = maxSearchSeconds
	}

	found, err := s.controller.Discover(ctx, time.Duration(seconds)*time.Second)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %s", err)), nil
	}

	infos := make([]DeviceInfo, 0, len(found))
	for i := range found {
		infos = append(infos, DeviceToInfo(&found[i]))
	}

	out := SearchDevicesOutput{
		Devices:        infos,
		Count:          len(infos),
		TimeoutSeconds: seconds,
	}
	return mcp.NewToolResultText(formatJSON(out)), nil
}

// --- helpers ---

func requiredString(request mcp.CallToolRequest, key string) (string, error) {
	args := request.GetArguments()
	v, ok := args[key]
	if !ok || v == nil {
		return "", fmt.Errorf("required parameter %q is missing", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("parameter %q must be a non-empty string", key)
	}
	return s, nil
}

func formatJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response: %s"}`, err)
	}
	return string(b)
}
