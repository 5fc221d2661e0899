// Package observability provides metrics for the agent's remote calls and transfers.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrHost    = "host"
	attrSuccess = "success"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 0 -> 0xx (transport failure)
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func hostAttr(host string) attribute.KeyValue {
	return attribute.String(attrHost, host)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

// routeTemplates maps the first path segment to its route template.
var routeTemplates = map[string]string{
	"runs":     "/runs/{runId}",
	"tasks":    "/tasks/{taskId}/{status}",
	"products": "/products/{pattern}",
}

// normalizePath replaces identifiers in registry paths with placeholders
// to keep label cardinality bounded.
func normalizePath(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "/"
	}
	first, rest, _ := strings.Cut(trimmed, "/")
	if rest == "" {
		return "/" + first
	}
	if tmpl, ok := routeTemplates[first]; ok {
		return tmpl
	}
	return "/" + first + "/{id}"
}
