// Package schema builds the table description shown to the query generator.
package schema

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/models"
)

// MetadataSource lists tables and columns. It never returns row data.
type MetadataSource interface {
	DiscoverTables(ctx context.Context) ([]datasource.TableMetadata, error)
}

// Descriptor reads store metadata once and caches the resulting schema until
// Refresh is called.
type Descriptor struct {
	source MetadataSource
	logger *zap.Logger

	mu     sync.Mutex
	tables []models.TableSchema
}

// NewDescriptor creates a Descriptor over source.
func NewDescriptor(source MetadataSource, logger *zap.Logger) *Descriptor {
	return &Descriptor{
		source: source,
		logger: logger.Named("schema"),
	}
}

// Describe returns a copy of the cached schema, reading metadata on first use.
// A store with zero tables fails with a SchemaError.
func (d *Descriptor) Describe(ctx context.Context) ([]models.TableSchema, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tables == nil {
		if err := d.loadLocked(ctx); err != nil {
			return nil, err
		}
	}
	return cloneTables(d.tables), nil
}

// Refresh discards the cached schema and reads metadata again.
func (d *Descriptor) Refresh(ctx context.Context) ([]models.TableSchema, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.tables = nil
	if err := d.loadLocked(ctx); err != nil {
		return nil, err
	}
	return cloneTables(d.tables), nil
}

func cloneTables(tables []models.TableSchema) []models.TableSchema {
	out := make([]models.TableSchema, len(tables))
	for i, t := range tables {
		out[i] = t
		out[i].Columns = append([]models.Column(nil), t.Columns...)
	}
	return out
}

func (d *Descriptor) loadLocked(ctx context.Context) error {
	meta, err := d.source.DiscoverTables(ctx)
	if err != nil {
		d.logger.Error("Failed to read table metadata", zap.Error(err))
		return apperrors.Schema(err, "could not read table metadata from the store")
	}
	if len(meta) == 0 {
		return apperrors.Schema(apperrors.ErrNoTables, "the store exposes no tables")
	}

	tables := make([]models.TableSchema, 0, len(meta))
	for _, m := range meta {
		t := models.TableSchema{Name: m.TableName, Columns: make([]models.Column, 0, len(m.Columns))}
		for _, c := range m.Columns {
			h := hintFor(c.ColumnName, c.DataType)
			t.Columns = append(t.Columns, models.Column{
				Name:         c.ColumnName,
				DataType:     c.DataType,
				SemanticType: h.semantic,
				Description:  h.description,
			})
		}
		tables = append(tables, t)
	}

	d.tables = tables
	d.logger.Info("Schema loaded",
		zap.Int("tables", len(tables)),
		zap.String("join_key", JoinKey(tables)))
	return nil
}

// JoinKey returns the first column (in the first table's order) that every
// table declares, or "" when there is none or only one table.
func JoinKey(tables []models.TableSchema) string {
	if len(tables) < 2 {
		return ""
	}
	for _, c := range tables[0].Columns {
		shared := true
		for _, t := range tables[1:] {
			if !t.HasColumn(c.Name) {
				shared = false
				break
			}
		}
		if shared {
			return c.Name
		}
	}
	return ""
}

// Render formats the schema for a prompt.
func Render(tables []models.TableSchema) string {
	var b strings.Builder
	b.WriteString("DATABASE SCHEMA:\n")

	key := JoinKey(tables)
	for i, t := range tables {
		fmt.Fprintf(&b, "\nTable %d: %s\n", i+1, t.Name)
		for _, c := range t.Columns {
			dataType := c.DataType
			if dataType == "" {
				dataType = "UNKNOWN"
			}
			fmt.Fprintf(&b, "- %s (%s): %s", c.Name, dataType, c.Description)
			if i > 0 && key != "" && strings.EqualFold(c.Name, key) {
				fmt.Fprintf(&b, " (joins with %s)", tables[0].Name)
			}
			b.WriteString("\n")
		}
	}

	if key != "" {
		fmt.Fprintf(&b, "\nJOIN KEY: %s\n", key)
	}
	return b.String()
}
