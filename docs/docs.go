// Package docs holds the Swagger document served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "Service is healthy", "schema": {"$ref": "#/definitions/types.HealthResponse"}},
                    "503": {"description": "Service is degraded", "schema": {"$ref": "#/definitions/types.HealthResponse"}}
                }
            }
        },
        "/devices": {
            "get": {
                "produces": ["application/json"],
                "tags": ["devices"],
                "summary": "List all fans",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ListDevicesResponse"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["devices"],
                "summary": "Register a fan",
                "parameters": [
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.RegisterDeviceRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/types.DeviceResponse"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "409": {"description": "Fan already registered", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Fan unreachable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/devices/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["devices"],
                "summary": "Get fan details",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.DeviceResponse"}},
                    "404": {"description": "Device not found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            },
            "patch": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["devices"],
                "summary": "Rename a fan",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.RenameDeviceRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.DeviceResponse"}},
                    "404": {"description": "Device not found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            },
            "delete": {
                "tags": ["devices"],
                "summary": "Remove a fan",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "204": {"description": "Device removed successfully"},
                    "404": {"description": "Device not found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/devices/{id}/state": {
            "get": {
                "produces": ["application/json"],
                "tags": ["devices"],
                "summary": "Get fan state",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StateResponse"}},
                    "503": {"description": "Fan has not answered yet", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["devices"],
                "summary": "Set fan state",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"type": "object"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StateResponse"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "504": {"description": "Write not acknowledged", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/devices/{id}/actions/{action}": {
            "post": {
                "produces": ["application/json"],
                "tags": ["devices"],
                "summary": "Run a fan action",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "action", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ActionResponse"}},
                    "400": {"description": "Unsupported action", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/devices/{id}/ws": {
            "get": {
                "tags": ["control"],
                "summary": "Stream fan state",
                "description": "WebSocket that sends the fan's current state, then every change, outage or removal",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "101": {"description": "Switching Protocols", "schema": {"$ref": "#/definitions/handlers.StreamMessage"}},
                    "404": {"description": "Fan not found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/discovery/search": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["discovery"],
                "summary": "Search the LAN for fans",
                "parameters": [
                    {"name": "request", "in": "body", "schema": {"$ref": "#/definitions/types.SearchRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.SearchResponse"}}
                }
            }
        },
        "/events": {
            "get": {
                "produces": ["text/event-stream"],
                "tags": ["discovery"],
                "summary": "Subscribe to fan events",
                "responses": {
                    "200": {"description": "SSE event stream", "schema": {"type": "string"}}
                }
            }
        }
    },
    "definitions": {
        "types.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string"}, "message": {"type": "string"}}
        },
        "types.HealthResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string"},
                "controller": {"type": "string"},
                "devices": {"type": "integer"},
                "timestamp": {"type": "string"}
            }
        },
        "types.RegisterDeviceRequest": {
            "type": "object",
            "required": ["address"],
            "properties": {
                "address": {"type": "string"},
                "port": {"type": "integer"},
                "password": {"type": "string"},
                "device_id": {"type": "string"},
                "name": {"type": "string"},
                "poll_interval_seconds": {"type": "integer"}
            }
        },
        "handlers.StreamMessage": {
            "type": "object",
            "properties": {
                "type": {"type": "string"},
                "data": {"type": "object"},
                "error": {"type": "string"},
                "time": {"type": "string"}
            }
        },
        "types.RenameDeviceRequest": {
            "type": "object",
            "required": ["name"],
            "properties": {"name": {"type": "string"}}
        },
        "types.SearchRequest": {
            "type": "object",
            "properties": {"timeout_seconds": {"type": "integer"}}
        },
        "types.DeviceWithState": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "type": {"type": "string"},
                "manufacturer": {"type": "string"},
                "model": {"type": "string"},
                "address": {"type": "string"},
                "hardware_id": {"type": "string"},
                "firmware": {"type": "string"},
                "available": {"type": "boolean"},
                "last_seen": {"type": "string"},
                "actions": {"type": "array", "items": {"type": "string"}},
                "state_schema": {"type": "object"},
                "state": {"type": "object"}
            }
        },
        "types.DeviceResponse": {
            "type": "object",
            "properties": {"device": {"$ref": "#/definitions/types.DeviceWithState"}}
        },
        "types.ListDevicesResponse": {
            "type": "object",
            "properties": {
                "devices": {"type": "array", "items": {"$ref": "#/definitions/types.DeviceWithState"}},
                "count": {"type": "integer"}
            }
        },
        "types.SearchResponse": {
            "type": "object",
            "properties": {
                "devices": {"type": "array", "items": {"$ref": "#/definitions/types.DeviceWithState"}},
                "count": {"type": "integer"}
            }
        },
        "types.StateResponse": {
            "type": "object",
            "properties": {
                "device": {"type": "string"},
                "state": {"type": "object"},
                "timestamp": {"type": "string"}
            }
        },
        "types.ActionResponse": {
            "type": "object",
            "properties": {
                "device": {"type": "string"},
                "action": {"type": "string"},
                "state": {"type": "object"},
                "timestamp": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "EcoVent API",
	Description:      "REST API for Blauberg Vento Expert fans",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
