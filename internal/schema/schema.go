// Package schema describes the fixed medical-records schema that questions
// are asked against, and renders it as prompt context for the model.
package schema

import (
	"fmt"
	"strings"
)

// KeyRole describes a column's participation in a key relationship.
type KeyRole string

const (
	KeyNone    KeyRole = ""
	KeyPrimary KeyRole = "primary key"
	KeyForeign KeyRole = "foreign key"
)

// Column describes a single table column.
type Column struct {
	Name       string
	Type       string
	Key        KeyRole
	References string // "table.column" for foreign keys
	Example    string
}

// Table describes a table and its columns.
type Table struct {
	Name    string
	Columns []Column
	Purpose string
}

// Descriptor is the static schema description. It is built once at startup
// and never mutated.
type Descriptor struct {
	Tables []Table
	Notes  []string
}

var medical = Descriptor{
	Tables: []Table{
		{
			Name: "disease",
			Columns: []Column{
				{Name: "disease_id", Type: "String", Key: KeyPrimary, Example: "d001"},
				{Name: "name", Type: "String"},
				{Name: "overview", Type: "Text"},
			},
		},
		{
			Name: "symptom",
			Columns: []Column{
				{Name: "symptom_id", Type: "String", Key: KeyPrimary, Example: "s001"},
				{Name: "name", Type: "String"},
			},
		},
		{
			Name: "disease_symptom",
			Columns: []Column{
				{Name: "disease_id", Key: KeyForeign, References: "disease.disease_id"},
				{Name: "symptom_id", Key: KeyForeign, References: "symptom.symptom_id"},
			},
			Purpose: "Links diseases and symptoms.",
		},
		{
			Name: "patient",
			Columns: []Column{
				{Name: "patient_id", Type: "String", Key: KeyPrimary, Example: "p0001"},
				{Name: "age", Type: "Integer"},
				{Name: "gender", Type: "String"},
				{Name: "disease_id", Key: KeyForeign, References: "disease.disease_id"},
			},
			Purpose: "Stores patient records.",
		},
	},
	Notes: []string{
		"The same name may appear in both 'disease' and 'symptom' tables — be careful to use the correct table.",
	},
}

// Medical returns the medical-records schema descriptor.
func Medical() Descriptor {
	return medical
}

// TableNames returns the table names in declaration order.
func (d Descriptor) TableNames() []string {
	names := make([]string, 0, len(d.Tables))
	for _, t := range d.Tables {
		names = append(names, t.Name)
	}
	return names
}

// Render serializes the descriptor as numbered table definitions followed by
// the disambiguation notes.
func (d Descriptor) Render() string {
	var sb strings.Builder
	sb.WriteString("We have a SQL database with the following tables:\n")
	for i, table := range d.Tables {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, tableToText(table)))
	}
	for _, note := range d.Notes {
		sb.WriteString("Note: " + note + "\n")
	}
	return sb.String()
}

func tableToText(t Table) string {
	cols := make([]string, 0, len(t.Columns))
	for _, col := range t.Columns {
		cols = append(cols, columnToText(col))
	}
	text := fmt.Sprintf("%s: %s.", t.Name, strings.Join(cols, ", "))
	if t.Purpose != "" {
		text += "  " + t.Purpose
	}
	return text
}

func columnToText(col Column) string {
	var attrs []string
	switch col.Key {
	case KeyForeign:
		attrs = append(attrs, "ForeignKey to "+col.References)
	case KeyPrimary:
		attrs = append(attrs, col.Type, string(KeyPrimary))
	default:
		attrs = append(attrs, col.Type)
	}
	if col.Example != "" {
		attrs = append(attrs, fmt.Sprintf("e.g. '%s'", col.Example))
	}
	return fmt.Sprintf("%s (%s)", col.Name, strings.Join(attrs, ", "))
}
