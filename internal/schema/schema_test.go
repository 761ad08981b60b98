package schema

import (
	"strings"
	"testing"
)

func TestRenderNumbersTablesInOrder(t *testing.T) {
	text := Medical().Render()

	order := []string{"1. disease:", "2. symptom:", "3. disease_symptom:", "4. patient:"}
	last := -1
	for _, marker := range order {
		idx := strings.Index(text, marker)
		if idx < 0 {
			t.Fatalf("Render() missing %q:\n%s", marker, text)
		}
		if idx < last {
			t.Fatalf("%q rendered out of order", marker)
		}
		last = idx
	}
}

func TestRenderIncludesKeysAndNote(t *testing.T) {
	text := Medical().Render()

	for _, want := range []string{
		"disease_id (String, primary key, e.g. 'd001')",
		"symptom_id (ForeignKey to symptom.symptom_id)",
		"age (Integer)",
		"Links diseases and symptoms.",
		"Note: The same name may appear in both 'disease' and 'symptom' tables",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("Render() missing %q:\n%s", want, text)
		}
	}
}

func TestTableNamesFollowDeclarationOrder(t *testing.T) {
	names := Medical().TableNames()
	if strings.Join(names, ",") != "disease,symptom,disease_symptom,patient" {
		t.Fatalf("TableNames() = %v", names)
	}
}
