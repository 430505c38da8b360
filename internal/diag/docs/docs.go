// Package docs holds the swaggo-generated swagger spec for the
// diagnostics API, built by hand from the handler annotations in
// internal/diag/handlers since no swag generation step runs in this
// build.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Health check",
                "description": "Returns whether the stub resolver process is up",
                "responses": {
                    "200": { "description": "OK", "schema": { "$ref": "#/definitions/models.StatusResponse" } }
                }
            }
        },
        "/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Runtime statistics",
                "description": "Returns system CPU/memory usage and combined query statistics",
                "responses": {
                    "200": { "description": "OK", "schema": { "$ref": "#/definitions/models.StatsResponse" } }
                }
            }
        },
        "/listeners": {
            "get": {
                "produces": ["application/json"],
                "tags": ["system"],
                "summary": "Active listener set",
                "description": "Returns the primary and any configured extra listeners",
                "responses": {
                    "200": { "description": "OK", "schema": { "$ref": "#/definitions/models.ListenersResponse" } }
                }
            }
        }
    },
    "definitions": {
        "models.StatusResponse": {
            "type": "object",
            "properties": { "status": { "type": "string" } }
        },
        "models.CPUStats": {
            "type": "object",
            "properties": {
                "num_cpu": { "type": "integer" },
                "used_percent": { "type": "number" },
                "idle_percent": { "type": "number" }
            }
        },
        "models.MemoryStats": {
            "type": "object",
            "properties": {
                "total_mb": { "type": "number" },
                "free_mb": { "type": "number" },
                "used_mb": { "type": "number" },
                "used_percent": { "type": "number" }
            }
        },
        "models.DNSStatsResponse": {
            "type": "object",
            "properties": {
                "queries_total": { "type": "integer" },
                "queries_udp": { "type": "integer" },
                "queries_tcp": { "type": "integer" },
                "responses_nxdomain": { "type": "integer" },
                "responses_error": { "type": "integer" },
                "avg_latency_ms": { "type": "number" }
            }
        },
        "models.StatsResponse": {
            "type": "object",
            "properties": {
                "uptime": { "type": "string" },
                "uptime_seconds": { "type": "integer" },
                "start_time": { "type": "string" },
                "host_id": { "type": "string" },
                "cpu": { "$ref": "#/definitions/models.CPUStats" },
                "memory": { "$ref": "#/definitions/models.MemoryStats" },
                "dns": { "$ref": "#/definitions/models.DNSStatsResponse" }
            }
        },
        "models.ListenerInfo": {
            "type": "object",
            "properties": {
                "kind": { "type": "string" },
                "network": { "type": "string" },
                "address": { "type": "string" }
            }
        },
        "models.ListenersResponse": {
            "type": "object",
            "properties": {
                "listeners": {
                    "type": "array",
                    "items": { "$ref": "#/definitions/models.ListenerInfo" }
                }
            }
        }
    }
}`

// SwaggerInfo holds exported swagger spec metadata.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Stub Resolver Diagnostics API",
	Description:      "Read-only diagnostics for a local DNS stub resolver: health, stats, and active listeners.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
