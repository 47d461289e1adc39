package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Course Programme API",
        "description": "Course programme editing with change-request approval workflow",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Login and token lifecycle"},
        {"name": "Programmes", "description": "Programme module/row data"},
        {"name": "ChangeRequests", "description": "Approval workflow for protected changes"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "responses": {
                    "200": {"description": "Tokens issued"},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Refresh access token",
                "responses": {
                    "200": {"description": "Tokens rotated"}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Revoke refresh token",
                "responses": {
                    "204": {"description": "Logged out"}
                }
            }
        },
        "/programmes/{fieldid}": {
            "get": {
                "tags": ["Programmes"],
                "summary": "Get the programme tree with totals",
                "responses": {
                    "200": {"$ref": "#/definitions/ResponseEnvelope"}
                }
            },
            "put": {
                "tags": ["Programmes"],
                "summary": "Save the programme tree",
                "responses": {
                    "200": {"description": "Outcome code: ok, newrfc, notallowed or cannotaddrfc"},
                    "400": {"description": "Validation errors"}
                }
            }
        },
        "/programmes/sortorder": {
            "post": {
                "tags": ["Programmes"],
                "summary": "Move a row within its module",
                "responses": {
                    "204": {"description": "Reordered"}
                }
            }
        },
        "/programmes/{fieldid}/export/csv": {
            "get": {
                "tags": ["Programmes"],
                "summary": "Export the programme as CSV",
                "responses": {
                    "200": {"description": "CSV document"}
                }
            }
        },
        "/programmes/{fieldid}/export/pdf": {
            "get": {
                "tags": ["Programmes"],
                "summary": "Export the programme as PDF",
                "responses": {
                    "200": {"description": "PDF document"}
                }
            }
        },
        "/programmes/{fieldid}/rfc": {
            "get": {
                "tags": ["ChangeRequests"],
                "summary": "Resolve the relevant change request for the actor",
                "responses": {
                    "200": {"$ref": "#/definitions/ResponseEnvelope"}
                }
            }
        },
        "/programmes/{fieldid}/rfc/permissions": {
            "get": {
                "tags": ["ChangeRequests"],
                "summary": "Workflow action matrix for the actor",
                "responses": {
                    "200": {"$ref": "#/definitions/ResponseEnvelope"}
                }
            }
        },
        "/programmes/{fieldid}/rfc/submit": {
            "post": {
                "tags": ["ChangeRequests"],
                "summary": "Submit the actor's draft for review",
                "responses": {
                    "200": {"$ref": "#/definitions/ResponseEnvelope"},
                    "409": {"description": "Decided concurrently"}
                }
            }
        },
        "/programmes/{fieldid}/rfc/accept": {
            "post": {
                "tags": ["ChangeRequests"],
                "summary": "Accept a submitted request on the field and apply its snapshot",
                "parameters": [
                    {"name": "userid", "in": "query", "type": "string", "description": "Creator whose submitted request to accept; defaults to the oldest"}
                ],
                "responses": {
                    "200": {"$ref": "#/definitions/ResponseEnvelope"},
                    "422": {"description": "Snapshot not decodable"}
                }
            }
        },
        "/programmes/{fieldid}/rfc/reject": {
            "post": {
                "tags": ["ChangeRequests"],
                "summary": "Reject a submitted request on the field",
                "parameters": [
                    {"name": "userid", "in": "query", "type": "string", "description": "Creator whose submitted request to reject; defaults to the oldest"}
                ],
                "responses": {
                    "200": {"$ref": "#/definitions/ResponseEnvelope"}
                }
            }
        },
        "/programmes/{fieldid}/rfc/cancel": {
            "post": {
                "tags": ["ChangeRequests"],
                "summary": "Withdraw an in-flight request",
                "parameters": [
                    {"name": "userid", "in": "query", "type": "string", "description": "Creator whose request to withdraw; defaults to the actor's own"}
                ],
                "responses": {
                    "200": {"$ref": "#/definitions/ResponseEnvelope"}
                }
            }
        },
        "/rfcs": {
            "get": {
                "tags": ["ChangeRequests"],
                "summary": "List change requests visible to the actor",
                "responses": {
                    "200": {"$ref": "#/definitions/ResponseEnvelope"}
                }
            }
        },
        "/rfcs/{id}": {
            "delete": {
                "tags": ["ChangeRequests"],
                "summary": "Hard-delete a change request",
                "responses": {
                    "204": {"description": "Removed"}
                }
            }
        },
        "/rfcs/{id}/history": {
            "get": {
                "tags": ["ChangeRequests"],
                "summary": "Decoded snapshot plus the field's request timeline",
                "responses": {
                    "200": {"$ref": "#/definitions/ResponseEnvelope"}
                }
            }
        },
        "/rfcs/{id}/reapply": {
            "post": {
                "tags": ["ChangeRequests"],
                "summary": "Re-apply an accepted snapshot",
                "responses": {
                    "204": {"description": "Reapplied"}
                }
            }
        }
    },
    "definitions": {
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
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
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
