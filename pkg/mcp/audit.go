package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/logging"
)

// Tool call event types.
const (
	EventToolCall           = "tool_call"
	EventToolError          = "tool_error"
	EventQueryRejected      = "query_rejected"
	EventInjectionAttempted = "injection_attempt"
)

// Security levels attached to tool call events.
const (
	SecurityNormal   = "normal"
	SecurityWarning  = "warning"
	SecurityCritical = "critical"
)

// ToolEvent is one audited tool call.
type ToolEvent struct {
	EventType     string
	ToolName      string
	RequestParams map[string]any
	WasSuccessful bool
	ErrorMessage  string
	ResultSummary map[string]any
	Duration      time.Duration
	SecurityLevel string
	SecurityFlags []string
}

// ToolAuditor writes one structured log line per MCP tool call.
// Questions are redacted the same way the pipeline redacts them.
type ToolAuditor struct {
	logger      *zap.Logger
	privacyMode bool

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewToolAuditor creates a ToolAuditor.
func NewToolAuditor(logger *zap.Logger, privacyMode bool) *ToolAuditor {
	return &ToolAuditor{
		logger:      logger.Named("mcp-audit"),
		privacyMode: privacyMode,
	}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (a *ToolAuditor) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

func (a *ToolAuditor) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	a.startTimes.Store(id, time.Now())
}

func (a *ToolAuditor) afterCallTool(_ context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	startTime, _ := a.loadAndDeleteStart(id)

	event := a.buildEvent(req)
	event.EventType = EventToolCall
	event.WasSuccessful = result == nil || !result.IsError
	event.Duration = time.Since(startTime)
	event.ResultSummary = summarizeResult(result)

	classifyToolCallSecurity(event, result)
	a.record(event)
}

func (a *ToolAuditor) onError(_ context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}

	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}

	startTime, _ := a.loadAndDeleteStart(id)

	event := a.buildEvent(req)
	event.EventType = EventToolError
	event.WasSuccessful = false
	event.Duration = time.Since(startTime)
	event.ErrorMessage = logging.SanitizeError(err)

	classifyErrorSecurity(event, err.Error())
	a.record(event)
}

func (a *ToolAuditor) loadAndDeleteStart(id any) (time.Time, bool) {
	if v, ok := a.startTimes.LoadAndDelete(id); ok {
		return v.(time.Time), true
	}
	return time.Now(), false
}

func (a *ToolAuditor) buildEvent(req *mcplib.CallToolRequest) *ToolEvent {
	return &ToolEvent{
		ToolName:      req.Params.Name,
		RequestParams: a.sanitizeParams(req.Params.Arguments),
		SecurityLevel: SecurityNormal,
	}
}

func (a *ToolAuditor) record(event *ToolEvent) {
	fields := []zap.Field{
		zap.String("event_type", event.EventType),
		zap.String("tool", event.ToolName),
		zap.Bool("success", event.WasSuccessful),
		zap.Duration("duration", event.Duration),
		zap.String("security_level", event.SecurityLevel),
	}
	if len(event.RequestParams) > 0 {
		fields = append(fields, zap.Any("params", event.RequestParams))
	}
	if len(event.ResultSummary) > 0 {
		fields = append(fields, zap.Any("result", event.ResultSummary))
	}
	if event.ErrorMessage != "" {
		fields = append(fields, zap.String("error", event.ErrorMessage))
	}
	if len(event.SecurityFlags) > 0 {
		fields = append(fields, zap.Strings("security_flags", event.SecurityFlags))
	}

	switch event.SecurityLevel {
	case SecurityCritical:
		a.logger.Error("MCP tool call", fields...)
	case SecurityWarning:
		a.logger.Warn("MCP tool call", fields...)
	default:
		a.logger.Info("MCP tool call", fields...)
	}
}

// maxParamSize is the maximum size of a string parameter kept in audit logs.
const maxParamSize = 10240

// sensitiveKeyFragments mark parameter keys whose values are hashed instead of logged.
var sensitiveKeyFragments = []string{"password", "secret", "token", "api_key", "apikey", "credential"}

// sanitizeParams sanitizes request parameters before they are logged.
// Applies: question redaction, query literal redaction, sensitive value hashing.
func (a *ToolAuditor) sanitizeParams(args any) map[string]any {
	params, ok := args.(map[string]any)
	if !ok || len(params) == 0 {
		return nil
	}

	sanitized := make(map[string]any, len(params))
	for k, v := range params {
		sanitized[k] = a.sanitizeValue(k, v)
	}
	return sanitized
}

func (a *ToolAuditor) sanitizeValue(key string, value any) any {
	if isSensitiveKey(key) {
		return hashSensitiveValue(value)
	}

	switch val := value.(type) {
	case string:
		return a.sanitizeStringParam(key, val)
	case map[string]any:
		return a.sanitizeParams(val)
	default:
		return value
	}
}

func (a *ToolAuditor) sanitizeStringParam(key string, val string) string {
	switch {
	case isQuestionParam(key):
		return logging.RedactQuestion(val, a.privacyMode)
	case isQueryParam(key):
		return logging.SanitizeQuery(val)
	case len(val) > maxParamSize:
		return val[:maxParamSize] + "...[truncated]"
	}
	return val
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

func isQuestionParam(key string) bool {
	lower := strings.ToLower(key)
	return lower == "question" || lower == "insight"
}

// isQueryParam returns true if a parameter key likely contains query text.
func isQueryParam(key string) bool {
	lower := strings.ToLower(key)
	return lower == "sql" || lower == "query" || strings.HasSuffix(lower, "_sql") || strings.HasSuffix(lower, "_query")
}

// hashSensitiveValue returns a SHA-256 hash prefix for sensitive values,
// allowing correlation across audit entries without storing the actual value.
func hashSensitiveValue(value any) string {
	var str string
	switch v := value.(type) {
	case string:
		str = v
	default:
		str = fmt.Sprintf("%v", v)
	}
	hash := sha256.Sum256([]byte(str))
	return "sha256:" + hex.EncodeToString(hash[:8])
}

// summarizeResult creates a compact summary of the tool result. The preview
// is omitted: tool results carry patient-level rows.
func summarizeResult(result *mcplib.CallToolResult) map[string]any {
	if result == nil {
		return nil
	}

	summary := map[string]any{
		"is_error": result.IsError,
	}

	if len(result.Content) > 0 {
		summary["content_count"] = len(result.Content)
		for _, c := range result.Content {
			if tc, ok := c.(mcplib.TextContent); ok {
				extractResultFields(tc.Text, summary)
				break
			}
		}
	}

	return summary
}

// extractResultFields copies the transaction id, row count and error code of
// a JSON tool response into summary.
func extractResultFields(text string, summary map[string]any) {
	var partial struct {
		TransactionID string `json:"transaction_id"`
		RowCount      *int   `json:"row_count"`
		Truncated     *bool  `json:"truncated"`
		Code          string `json:"code"`
	}
	if err := json.Unmarshal([]byte(text), &partial); err != nil {
		return
	}
	if partial.TransactionID != "" {
		summary["transaction_id"] = partial.TransactionID
	}
	if partial.RowCount != nil {
		summary["row_count"] = *partial.RowCount
	}
	if partial.Truncated != nil {
		summary["truncated"] = *partial.Truncated
	}
	if partial.Code != "" {
		summary["code"] = partial.Code
	}
}

// classifyToolCallSecurity inspects a tool result for rejected or injected queries.
func classifyToolCallSecurity(event *ToolEvent, result *mcplib.CallToolResult) {
	if result == nil || !result.IsError {
		return
	}

	for _, c := range result.Content {
		tc, ok := c.(mcplib.TextContent)
		if !ok {
			continue
		}
		text := strings.ToLower(tc.Text)

		if strings.Contains(text, "injection") {
			event.EventType = EventInjectionAttempted
			event.SecurityLevel = SecurityCritical
			event.SecurityFlags = append(event.SecurityFlags, "sql_injection_attempt")
			return
		}
		if strings.Contains(text, "validation_error") {
			event.EventType = EventQueryRejected
			event.SecurityLevel = SecurityWarning
			event.SecurityFlags = append(event.SecurityFlags, "query_rejected")
			return
		}
	}
}

// classifyErrorSecurity upgrades the event's classification from an error message.
func classifyErrorSecurity(event *ToolEvent, errMsg string) {
	lower := strings.ToLower(errMsg)

	if strings.Contains(lower, "injection") {
		event.EventType = EventInjectionAttempted
		event.SecurityLevel = SecurityCritical
		event.SecurityFlags = append(event.SecurityFlags, "sql_injection_attempt")
	} else if strings.Contains(lower, "rate limit") {
		event.SecurityLevel = SecurityWarning
		event.SecurityFlags = append(event.SecurityFlags, "rate_limit")
	}
}
