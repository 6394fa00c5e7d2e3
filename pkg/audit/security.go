// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a string literal inside a generated query.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventQueryRejected is logged when the safety validator rejects a generated query.
	EventQueryRejected SecurityEventType = "query_rejected"
	// EventInsightFiltered is logged when sentences are removed from an insight.
	EventInsightFiltered SecurityEventType = "insight_filtered"
	// EventQueryExecution is logged for every validated query sent to the store (can be high volume).
	EventQueryExecution SecurityEventType = "query_execution"
)

// Severity levels attached to events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp     time.Time         `json:"timestamp"`
	EventType     SecurityEventType `json:"event_type"`
	TransactionID string            `json:"transaction_id,omitempty"`
	Details       any               `json:"details"`
	Severity      string            `json:"severity"` // info, warning, critical
}

// SQLInjectionDetails contains specifics of a flagged string literal.
type SQLInjectionDetails struct {
	LiteralIndex int    `json:"literal_index"`
	Fingerprint  string `json:"fingerprint"` // libinjection fingerprint for pattern analysis
	QueryKind    string `json:"query_kind"`
}

// RejectionDetails lists why a generated query was refused.
type RejectionDetails struct {
	QueryKind  string   `json:"query_kind"`
	Rules      []string `json:"rules"`
	Violations []string `json:"violations"`
}

// FilterDetails describes what the insight filter removed.
type FilterDetails struct {
	RemovedSentences int      `json:"removed_sentences"`
	Terms            []string `json:"terms"`
}

type contextKey struct{}

// WithTransactionID attaches the pipeline transaction id to ctx so audit events can be correlated.
func WithTransactionID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// TransactionIDFromContext returns the transaction id attached to ctx, or "".
func TransactionIDFromContext(ctx context.Context) string {
	if id, ok := TransactionUUID(ctx); ok {
		return id.String()
	}
	return ""
}

// TransactionUUID returns the transaction id attached to ctx.
func TransactionUUID(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	id, ok := ctx.Value(contextKey{}).(uuid.UUID)
	return id, ok
}

// SecurityAuditor logs security events for SIEM consumption.
// Events are logged in structured JSON format with appropriate severity levels.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
// The logger is automatically configured with "security_audit" namespace for easy
// filtering in SIEM systems.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

func (a *SecurityAuditor) event(ctx context.Context, eventType SecurityEventType, severity string, details any) (SecurityEvent, string) {
	event := SecurityEvent{
		Timestamp:     time.Now().UTC(),
		EventType:     eventType,
		TransactionID: TransactionIDFromContext(ctx),
		Details:       details,
		Severity:      severity,
	}
	// Ignoring error as marshaling known types should never fail
	eventJSON, _ := json.Marshal(event)
	return event, string(eventJSON)
}

// LogInjectionAttempt records a string literal that libinjection flagged.
// This is logged at ERROR level with "critical" severity for immediate alerting.
// The literal itself is not logged since it may carry patient values.
func (a *SecurityAuditor) LogInjectionAttempt(ctx context.Context, details SQLInjectionDetails) {
	event, eventJSON := a.event(ctx, EventSQLInjectionAttempt, SeverityCritical, details)

	a.logger.Error("SQL injection pattern detected in generated query",
		zap.String("event_json", eventJSON),
		zap.String("transaction_id", event.TransactionID),
		zap.Int("literal_index", details.LiteralIndex),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("severity", SeverityCritical),
	)
}

// LogQueryRejected records a validator rejection. Logged at WARN level: most
// rejections are LLM mistakes, not attacks.
func (a *SecurityAuditor) LogQueryRejected(ctx context.Context, details RejectionDetails) {
	event, eventJSON := a.event(ctx, EventQueryRejected, SeverityWarning, details)

	a.logger.Warn("Generated query rejected",
		zap.String("event_json", eventJSON),
		zap.String("transaction_id", event.TransactionID),
		zap.String("query_kind", details.QueryKind),
		zap.Strings("rules", details.Rules),
		zap.Int("violation_count", len(details.Violations)),
		zap.String("severity", SeverityWarning),
	)
}

// LogInsightFiltered records sentences removed from an insight by the vocabulary filter.
func (a *SecurityAuditor) LogInsightFiltered(ctx context.Context, details FilterDetails) {
	event, eventJSON := a.event(ctx, EventInsightFiltered, SeverityInfo, details)

	a.logger.Info("Insight sentences removed",
		zap.String("event_json", eventJSON),
		zap.String("transaction_id", event.TransactionID),
		zap.Int("removed_sentences", details.RemovedSentences),
		zap.Strings("terms", details.Terms),
		zap.String("severity", SeverityInfo),
	)
}

// LogQueryExecution records a validated query reaching the store.
// Note: This can generate high log volume in production.
func (a *SecurityAuditor) LogQueryExecution(ctx context.Context, queryKind string, tables []string, rowCount int, truncated bool) {
	event, eventJSON := a.event(ctx, EventQueryExecution, SeverityInfo, map[string]any{
		"query_kind": queryKind,
		"tables":     tables,
		"row_count":  rowCount,
		"truncated":  truncated,
	})

	a.logger.Info("Query executed",
		zap.String("event_json", eventJSON),
		zap.String("transaction_id", event.TransactionID),
		zap.String("query_kind", queryKind),
		zap.Strings("tables", tables),
		zap.Int("row_count", rowCount),
		zap.Bool("truncated", truncated),
		zap.String("severity", SeverityInfo),
	)
}
