// Package apidocs registers the OpenAPI document served under /swagger when
// the server is built with -tags=swagger.
package apidocs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/models": {
            "get": {
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "List available models",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelsResponse"}}}
            }
        },
        "/models/{id}/load": {
            "post": {
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "Load a model in the background",
                "parameters": [{"type": "string", "description": "model id", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/types.LoadResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/models/{id}": {
            "delete": {
                "tags": ["models"],
                "summary": "Drain and unload a model instance",
                "parameters": [{"type": "string", "description": "model id", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["status"],
                "summary": "Manager and instance status",
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/infer": {
            "post": {
                "description": "Streams NDJSON: one {\"token\":...} line per piece, then a final line with done=true.",
                "consumes": ["application/json"],
                "produces": ["application/x-ndjson"],
                "tags": ["inference"],
                "summary": "Generate a completion",
                "parameters": [{"description": "inference request", "name": "request", "in": "body", "required": true, "schema": {"type": "object"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "413": {"description": "Request Entity Too Large", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/tokenize": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["inference"],
                "summary": "Tokenize text with a model's vocabulary",
                "parameters": [{"description": "tokenize request", "name": "request", "in": "body", "required": true, "schema": {"type": "object"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "501": {"description": "Not Implemented", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/detokenize": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["inference"],
                "summary": "Convert token ids back to text",
                "parameters": [{"description": "detokenize request", "name": "request", "in": "body", "required": true, "schema": {"type": "object"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/embed": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["inference"],
                "summary": "Compute one embedding vector per input text",
                "parameters": [{"description": "embed request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/types.EmbedRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.EmbedResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "501": {"description": "Not Implemented", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "types.EmbedRequest": {
            "type": "object",
            "properties": {"model": {"type": "string"}, "input": {"type": "array", "items": {"type": "string"}}, "normalize": {"type": "boolean"}}
        },
        "types.EmbedResponse": {
            "type": "object",
            "properties": {"model": {"type": "string"}, "embeddings": {"type": "array", "items": {"type": "array", "items": {"type": "number"}}}, "dimension": {"type": "integer"}, "input_tokens": {"type": "integer"}}
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {"code": {"type": "integer"}, "error": {"type": "string"}}
        },
        "types.LoadResponse": {
            "type": "object",
            "properties": {"model": {"type": "string"}, "op_id": {"type": "string"}}
        },
        "types.ModelsResponse": {
            "type": "object",
            "properties": {"models": {"type": "array", "items": {"type": "object"}}}
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "inferd API",
	Description:      "HTTP API for local LLM model management and inference.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
