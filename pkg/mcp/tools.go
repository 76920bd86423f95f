package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/urmzd/ecovent/pkg/vento"
)

const idDescription = "Fan registration ID, friendly name or 16-character device ID"

// registerTools registers all MCP tools with the server
func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("get_health",
			mcp.WithDescription("Check the health of the EcoVent service and how many fans are registered"),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleGetHealth,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("list_devices",
			mcp.WithDescription("List all registered fans with their last polled state"),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleListDevices,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_device",
			mcp.WithDescription("Get detailed information about a fan, including its settable state schema"),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description(idDescription),
			),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleGetDevice,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("rename_device",
			mcp.WithDescription("Change a fan's friendly name"),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description(idDescription),
			),
			mcp.WithString("new_name",
				mcp.Required(),
				mcp.Description("New friendly name for the fan"),
			),
		),
		s.handleRenameDevice,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("remove_device",
			mcp.WithDescription("Stop polling a fan and forget its registration"),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description(idDescription),
			),
			mcp.WithDestructiveHintAnnotation(true),
		),
		s.handleRemoveDevice,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_device_state",
			mcp.WithDescription("Get the last polled state of a fan (power, speed, humidity, filter timer, alarms)"),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description(idDescription),
			),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleGetDeviceState,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("set_device_state",
			mcp.WithDescription("Write one or more fan parameters. Keys are validated against the fan's state schema."),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description(idDescription),
			),
			mcp.WithObject("state",
				mcp.Required(),
				mcp.Description(`Parameters to set, e.g. {"state": "on", "percentage": 60} or {"airflow": "heat_recovery", "humidity_threshold": 65}`),
			),
		),
		s.handleSetDeviceState,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("turn_on",
			mcp.WithDescription("Turn a fan on, optionally choosing a preset mode or a manual speed percentage"),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description(idDescription),
			),
			mcp.WithString("preset_mode",
				mcp.Description("Speed preset"),
				mcp.Enum(vento.PresetModes...),
			),
			mcp.WithNumber("percentage",
				mcp.Description("Manual speed 0-100; switches the fan to manual mode"),
				mcp.Min(0),
				mcp.Max(100),
			),
		),
		s.handleTurnOn,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("turn_off",
			mcp.WithDescription("Turn a fan off"),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description(idDescription),
			),
		),
		s.handleTurnOff,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("reset_filter_timer",
			mcp.WithDescription("Restart the filter replacement countdown after the filter was cleaned or replaced"),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description(idDescription),
			),
		),
		s.actionHandler(vento.ActionResetFilterTimer),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("reset_alarms",
			mcp.WithDescription("Clear active alarms and warnings on a fan"),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description(idDescription),
			),
		),
		s.actionHandler(vento.ActionResetAlarms),
	)

	s.mcpServer.AddTool(
		mcp.NewTool("search_devices",
			mcp.WithDescription("Broadcast a search on the local network and list fans that are not registered yet"),
			mcp.WithNumber("timeout_seconds",
				mcp.Description("How long to wait for replies (default 3, max 30)"),
			),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.handleSearchDevices,
	)
}
