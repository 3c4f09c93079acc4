package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "BlindCheck API",
        "description": "Anonymized grade-appeal workflow service",
        "version": "0.1.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Auth", "description": "Login and credential management"},
        {"name": "Requests", "description": "Regrade request workflow"},
        {"name": "Accounts", "description": "Account administration"},
        {"name": "Subjects", "description": "Subject and group catalog"},
        {"name": "Password resets", "description": "Reset petitions and tickets"},
        {"name": "Notifications", "description": "In-app notifications"},
        {"name": "Exports", "description": "Dean-facing report exports"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Authenticate and obtain a token",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unauthorized"}
                }
            }
        },
        "/auth/password": {
            "put": {
                "tags": ["Auth"],
                "summary": "Change own password",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ChangePasswordRequest"}}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Auth"],
                "summary": "Describe the authenticated caller",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests": {
            "get": {
                "tags": ["Requests"],
                "summary": "List regrade requests visible to the caller",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "subject", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Requests"],
                "summary": "Submit a regrade request",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitRequestRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/requests/{id}": {
            "get": {
                "tags": ["Requests"],
                "summary": "Get a regrade request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not Found"}
                }
            }
        },
        "/requests/{id}/decision": {
            "post": {
                "tags": ["Requests"],
                "summary": "Approve or reject a pending request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DecideRequestRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/requests/{id}/assignment": {
            "post": {
                "tags": ["Requests"],
                "summary": "Assign a reviewer to an approved request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AssignReviewerRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/requests/{id}/grade": {
            "post": {
                "tags": ["Requests"],
                "summary": "Record the reviewer's grade",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GradeRequestRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/accounts": {
            "get": {
                "tags": ["Accounts"],
                "summary": "List accounts",
                "parameters": [
                    {"name": "role", "in": "query", "type": "string"},
                    {"name": "active", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Accounts"],
                "summary": "Create an account",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateAccountRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Duplicate email"}
                }
            }
        },
        "/accounts/{id}": {
            "get": {
                "tags": ["Accounts"],
                "summary": "Get an account",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "patch": {
                "tags": ["Accounts"],
                "summary": "Update an account",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateAccountRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Accounts"],
                "summary": "Deactivate or purge an account",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "purge", "in": "query", "type": "boolean"}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "409": {"description": "Purge requires prior deactivation"}
                }
            }
        },
        "/subjects": {
            "get": {
                "tags": ["Subjects"],
                "summary": "List subjects",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Subjects"],
                "summary": "Create a subject",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateSubjectRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/subjects/{code}": {
            "get": {
                "tags": ["Subjects"],
                "summary": "Get a subject",
                "parameters": [
                    {"name": "code", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Subjects"],
                "summary": "Update a subject",
                "parameters": [
                    {"name": "code", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateSubjectRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Subjects"],
                "summary": "Delete a subject",
                "parameters": [
                    {"name": "code", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "409": {"description": "Subject has regrade requests"}
                }
            }
        },
        "/password-resets": {
            "get": {
                "tags": ["Password resets"],
                "summary": "List reset tickets",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Password resets"],
                "summary": "File a reset petition",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RequestResetRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted"}
                }
            }
        },
        "/password-resets/{id}/complete": {
            "post": {
                "tags": ["Password resets"],
                "summary": "Complete a reset ticket",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/notifications": {
            "get": {
                "tags": ["Notifications"],
                "summary": "List the caller's notifications",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/notifications/{id}/read": {
            "post": {
                "tags": ["Notifications"],
                "summary": "Mark a notification as read",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/exports/requests": {
            "get": {
                "tags": ["Exports"],
                "summary": "Export regrade requests as CSV or PDF",
                "parameters": [
                    {"name": "format", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["email", "password"]
        },
        "ChangePasswordRequest": {
            "type": "object",
            "properties": {
                "old_password": {"type": "string"},
                "new_password": {"type": "string"}
            },
            "required": ["old_password", "new_password"]
        },
        "SubmitRequestRequest": {
            "type": "object",
            "properties": {
                "subject_code": {"type": "string"},
                "group_name": {"type": "string"},
                "component": {"type": "string"},
                "original_grade": {"type": "number"},
                "reason": {"type": "string"},
                "evidence_url": {"type": "string"}
            },
            "required": ["subject_code", "group_name", "component", "reason"]
        },
        "DecideRequestRequest": {
            "type": "object",
            "properties": {
                "decision": {"type": "string", "enum": ["APPROVE", "REJECT"]},
                "rejection_reason": {"type": "string"}
            },
            "required": ["decision"]
        },
        "AssignReviewerRequest": {
            "type": "object",
            "properties": {
                "reviewer_id": {"type": "string"}
            },
            "required": ["reviewer_id"]
        },
        "GradeRequestRequest": {
            "type": "object",
            "properties": {
                "new_grade": {"type": "number"},
                "comment": {"type": "string"}
            },
            "required": ["new_grade", "comment"]
        },
        "RequestView": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "status": {"type": "string"},
                "subject_code": {"type": "string"},
                "group_name": {"type": "string"},
                "component": {"type": "string"},
                "student": {"type": "string"},
                "reviewer": {"type": "string"},
                "original_grade": {"type": "number"},
                "new_grade": {"type": "number"},
                "reason": {"type": "string"},
                "reviewer_comment": {"type": "string"},
                "history": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/TransitionRecord"}
                },
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "TransitionRecord": {
            "type": "object",
            "properties": {
                "timestamp": {"type": "string"},
                "action": {"type": "string"},
                "actor_role": {"type": "string"}
            }
        },
        "CreateAccountRequest": {
            "type": "object",
            "properties": {
                "role": {"type": "string", "enum": ["STUDENT", "INSTRUCTOR", "DEAN"]},
                "email": {"type": "string"},
                "full_name": {"type": "string"},
                "subjects": {"type": "array", "items": {"type": "string"}}
            },
            "required": ["role", "email", "full_name"]
        },
        "UpdateAccountRequest": {
            "type": "object",
            "properties": {
                "full_name": {"type": "string"},
                "active": {"type": "boolean"},
                "subjects": {"type": "array", "items": {"type": "string"}}
            }
        },
        "CreateSubjectRequest": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "name": {"type": "string"},
                "groups": {"type": "array", "items": {"$ref": "#/definitions/SubjectGroup"}}
            },
            "required": ["code", "name"]
        },
        "UpdateSubjectRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "groups": {"type": "array", "items": {"$ref": "#/definitions/SubjectGroup"}}
            }
        },
        "SubjectGroup": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "instructor_id": {"type": "string"}
            }
        },
        "RequestResetRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"}
            },
            "required": ["email"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
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
