package services

import (
	"fmt"
	"strings"

	"encoding/json"

	"esi-knife/internal/knife/models"
)

// getOperation returns the GET operation object for a route, if any.
func getOperation(spec map[string]any, route string) (map[string]any, bool) {
	paths, ok := spec["paths"].(map[string]any)
	if !ok {
		return nil, false
	}
	methods, ok := paths[route].(map[string]any)
	if !ok {
		return nil, false
	}
	oper, ok := methods["get"].(map[string]any)
	return oper, ok
}

// requiredRoles returns the operation's x-required-roles list.
func requiredRoles(oper map[string]any) []string {
	return toStrings(oper["x-required-roles"])
}

// requiredScopes returns the evesso scopes of the operation's first
// security requirement.
func requiredScopes(oper map[string]any) []string {
	security, ok := oper["security"].([]any)
	if !ok || len(security) == 0 {
		return nil
	}
	first, ok := security[0].(map[string]any)
	if !ok {
		return nil
	}
	return toStrings(first["evesso"])
}

// allowed reports whether the token's roles and scopes satisfy the
// operation's requirements.
func allowed(oper map[string]any, scopes, roles models.StringSet) bool {
	return roles.HasAll(requiredRoles(oper)) && scopes.HasAll(requiredScopes(oper))
}

// pathParams returns the names of the operation's path parameters.
func pathParams(oper map[string]any) []string {
	params, ok := oper["parameters"].([]any)
	if !ok {
		return nil
	}

	var names []string
	for _, p := range params {
		param, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if param["in"] != "path" {
			continue
		}
		if name, ok := param["name"].(string); ok {
			names = append(names, name)
		}
	}
	return names
}

// substitute fills every {placeholder} of a route template from a value set.
func substitute(route string, values map[string]any) string {
	out := route
	for name, value := range values {
		out = strings.ReplaceAll(out, "{"+name+"}", paramString(value))
	}
	return out
}

// paramString renders a path-parameter value the way it appeared on the
// wire. json.Number keeps integer IDs exact.
func paramString(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case json.Number:
		return value.String()
	default:
		return fmt.Sprint(value)
	}
}

func toStrings(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// asInt extracts an integer from a decoded JSON value. Bodies are decoded
// with UseNumber, but float64 is accepted for values that crossed a plain
// round-trip (the cached spec, tests).
func asInt(v any) (int64, bool) {
	switch value := v.(type) {
	case json.Number:
		n, err := value.Int64()
		return n, err == nil
	case float64:
		n := int64(value)
		if float64(n) == value {
			return n, true
		}
		return 0, false
	case int:
		return int64(value), true
	case int64:
		return value, true
	default:
		return 0, false
	}
}
