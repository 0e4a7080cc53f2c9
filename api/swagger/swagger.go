package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Timetable API",
        "description": "Conflict-aware weekly timetable assignment and queries",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Authentication", "description": "Admin and student accounts"},
        {"name": "Timetable", "description": "Slot assignment, views and exports"}
    ],
    "paths": {
        "/auth/admin/register": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Register an admin",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RegisterAdminRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already registered", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/student/register": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Register a student",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RegisterStudentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already registered", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/admin/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate an admin",
                "responses": {
                    "200": {"description": "OK, sets the admin session cookie", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/student/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate a student",
                "responses": {
                    "200": {"description": "OK, sets the student session cookie", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Logout current session",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetable/slot": {
            "post": {
                "tags": ["Timetable"],
                "summary": "Assign a slot",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/TimetableEntry"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Section or faculty conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Timetable"],
                "summary": "Update a slot",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateSlotRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Slot not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Faculty conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Timetable"],
                "summary": "Delete a slot",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "year_section", "in": "query", "required": true, "type": "string"},
                    {"name": "day", "in": "query", "required": true, "type": "string"},
                    {"name": "slot", "in": "query", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Slot not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetable/slots/batch": {
            "post": {
                "tags": ["Timetable"],
                "summary": "Assign several slots of one day",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BatchSlotsRequest"}}
                ],
                "responses": {
                    "201": {"description": "Per-item results", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetable/weekly/{section}": {
            "get": {
                "tags": ["Timetable"],
                "summary": "Weekly timetable of a section",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "section", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Entries keyed by day", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetable/weekly/{section}/export": {
            "get": {
                "tags": ["Timetable"],
                "summary": "Export a section's weekly timetable",
                "security": [{"BearerAuth": []}],
                "produces": ["text/csv", "application/pdf", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "text/calendar"],
                "parameters": [
                    {"name": "section", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf", "xlsx", "ics"]}
                ],
                "responses": {
                    "200": {"description": "File", "schema": {"type": "file"}}
                }
            }
        },
        "/timetable/day/{section}/{day}": {
            "get": {
                "tags": ["Timetable"],
                "summary": "Timetable of a section for one day",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "section", "in": "path", "required": true, "type": "string"},
                    {"name": "day", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetable/faculty/{name}": {
            "get": {
                "tags": ["Timetable"],
                "summary": "Every slot taught by a faculty member",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "name", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetable/faculty/{name}/export": {
            "get": {
                "tags": ["Timetable"],
                "summary": "Export a faculty member's roster",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "name", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf", "xlsx"]}
                ],
                "responses": {
                    "200": {"description": "File", "schema": {"type": "file"}}
                }
            }
        },
        "/timetable/faculty/load": {
            "get": {
                "tags": ["Timetable"],
                "summary": "Daily teaching load of a faculty member",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "faculty", "in": "query", "required": true, "type": "string"},
                    {"name": "day", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetable/next-class/{section}/{subject}": {
            "get": {
                "tags": ["Timetable"],
                "summary": "Next upcoming class of a subject",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "section", "in": "path", "required": true, "type": "string"},
                    {"name": "subject", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK, data is null when nothing is scheduled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "RegisterAdminRequest": {
            "type": "object",
            "required": ["email", "password", "name"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string", "minLength": 6},
                "name": {"type": "string"}
            }
        },
        "RegisterStudentRequest": {
            "type": "object",
            "required": ["usn", "password", "name"],
            "properties": {
                "usn": {"type": "string"},
                "password": {"type": "string", "minLength": 6},
                "name": {"type": "string"}
            }
        },
        "TimetableEntry": {
            "type": "object",
            "required": ["year_section", "day", "slot", "subject", "faculty", "room", "type"],
            "properties": {
                "year_section": {"type": "string"},
                "day": {"type": "string", "enum": ["MONDAY", "TUESDAY", "WEDNESDAY", "THURSDAY", "FRIDAY", "SATURDAY", "SUNDAY"]},
                "slot": {"type": "integer", "minimum": 1, "maximum": 7},
                "subject": {"type": "string"},
                "faculty": {"type": "string"},
                "room": {"type": "string"},
                "type": {"type": "string", "enum": ["THEORY", "LAB"]}
            }
        },
        "UpdateSlotRequest": {
            "type": "object",
            "required": ["year_section", "day", "slot"],
            "properties": {
                "year_section": {"type": "string"},
                "day": {"type": "string"},
                "slot": {"type": "integer"},
                "subject": {"type": "string"},
                "faculty": {"type": "string"},
                "room": {"type": "string"},
                "type": {"type": "string"}
            }
        },
        "BatchSlotsRequest": {
            "type": "object",
            "required": ["year_section", "day", "slots"],
            "properties": {
                "year_section": {"type": "string"},
                "day": {"type": "string"},
                "slots": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "slot": {"type": "integer"},
                            "subject": {"type": "string"},
                            "faculty": {"type": "string"},
                            "room": {"type": "string"},
                            "type": {"type": "string"}
                        }
                    }
                }
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "object"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "message": {"type": "string"},
                "data": {"type": "object"},
                "errors": {"type": "array", "items": {"$ref": "#/definitions/APIError"}},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
