package httpapi

import "net/http"

// The documentation surface mirrors what clients expect from the gateway:
// an OpenAPI document plus hosted Swagger UI / ReDoc shells.

const swaggerHTML = `<!DOCTYPE html>
<html>
<head>
  <title>Attach Gateway - Swagger UI</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>SwaggerUIBundle({url: "/openapi.json", dom_id: "#swagger-ui"});</script>
</body>
</html>`

const redocHTML = `<!DOCTYPE html>
<html>
<head>
  <title>Attach Gateway - ReDoc</title>
</head>
<body>
  <redoc spec-url="/openapi.json"></redoc>
  <script src="https://cdn.jsdelivr.net/npm/redoc@2/bundles/redoc.standalone.js"></script>
</body>
</html>`

const openAPIJSON = `{
  "openapi": "3.0.3",
  "info": {
    "title": "Attach Gateway",
    "description": "Identity and metering side-car for LLM engines",
    "version": "1.0.0"
  },
  "paths": {
    "/api/chat": {
      "post": {
        "summary": "Dispatch a chat request (cache, queue, or stream to the engine)",
        "responses": {
          "200": {"description": "Engine or cached response"},
          "202": {"description": "Deferred onto the job queue"},
          "400": {"description": "Malformed JSON body"},
          "401": {"description": "Authentication failure"},
          "429": {"description": "Token quota exceeded"},
          "502": {"description": "Upstream engine failure"}
        }
      }
    },
    "/a2a/tasks/send": {
      "post": {
        "summary": "Register an asynchronously forwarded task",
        "responses": {
          "200": {"description": "Task registered"},
          "400": {"description": "Missing input field"}
        }
      }
    },
    "/a2a/tasks/status/{id}": {
      "get": {
        "summary": "Poll task state",
        "responses": {
          "200": {"description": "Task record"},
          "404": {"description": "Unknown task"}
        }
      }
    },
    "/v1/metrics": {
      "get": {"summary": "JSON metrics snapshot", "responses": {"200": {"description": "Counters"}}}
    },
    "/auth/config": {
      "get": {"summary": "OIDC bootstrap for clients", "responses": {"200": {"description": "Domain, client id, audience"}}}
    },
    "/mem/events": {
      "get": {
        "summary": "Recent memory events",
        "responses": {
          "200": {"description": "Event list"},
          "503": {"description": "Memory backend not ready"}
        }
      }
    }
  }
}`

func (s *Server) Docs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(swaggerHTML))
}

func (s *Server) Redoc(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(redocHTML))
}

func (s *Server) OpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(openAPIJSON))
}
