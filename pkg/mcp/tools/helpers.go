package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/jsonutil"
)

func arguments(req mcp.CallToolRequest) map[string]any {
	args, _ := req.Params.Arguments.(map[string]any)
	return args
}

// getOptionalString extracts an optional string argument from the request.
// Clients that send a number or boolean get its string form.
func getOptionalString(req mcp.CallToolRequest, key string) string {
	val, ok := jsonutil.FlexibleString(arguments(req)[key])
	if !ok {
		return ""
	}
	return strings.TrimSpace(val)
}

// getRequiredString is getOptionalString that rejects a missing or blank value.
func getRequiredString(req mcp.CallToolRequest, key string) (string, error) {
	val := getOptionalString(req, key)
	if val == "" {
		return "", fmt.Errorf("%s parameter is required", key)
	}
	return val, nil
}

// getOptionalBool extracts an optional boolean parameter from the request.
func getOptionalBool(req mcp.CallToolRequest, key string) (bool, bool) {
	val, ok := arguments(req)[key].(bool)
	return val, ok
}

// decodeObject re-decodes an object argument into target. A missing argument
// leaves target untouched and reports false.
func decodeObject(req mcp.CallToolRequest, key string, target any) (bool, error) {
	raw, ok := arguments(req)[key]
	if !ok || raw == nil {
		return false, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s parameter: %w", key, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("invalid %s parameter: %w", key, err)
	}
	return true, nil
}
