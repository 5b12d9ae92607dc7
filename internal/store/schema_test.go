package store

import (
	"regexp"
	"strings"
	"testing"
)

var createTablePattern = regexp.MustCompile(`CREATE TABLE IF NOT EXISTS (\w+)`)

func schemaTables() map[string]bool {
	tables := map[string]bool{}
	for _, stmt := range schemaStatements {
		if m := createTablePattern.FindStringSubmatch(stmt); m != nil {
			tables[m[1]] = true
		}
	}
	return tables
}

func TestDeleteOrder_CoversEveryTable(t *testing.T) {
	tables := schemaTables()

	inDelete := map[string]bool{}
	for _, table := range deleteOrder {
		if !tables[table] {
			t.Errorf("deleteOrder names unknown table %q", table)
		}
		if inDelete[table] {
			t.Errorf("deleteOrder lists %q twice", table)
		}
		inDelete[table] = true
	}
	for table := range tables {
		if !inDelete[table] {
			t.Errorf("table %q missing from deleteOrder", table)
		}
	}
}

func TestDeleteOrder_ChildrenBeforeParents(t *testing.T) {
	// A table referencing another must be deleted before it.
	refs := map[string][]string{
		"stocks":                 {"products", "locations"},
		"rentals":                {"stocks", "products", "locations"},
		"transfers":              {"stocks", "locations"},
		"discarded":              {"stocks", "products", "locations"},
		"iams_mappings":          {"stocks"},
		"product_category_items": {"product_categories", "products"},
		"product_files":          {"products"},
	}

	pos := map[string]int{}
	for i, table := range deleteOrder {
		pos[table] = i
	}

	for child, parents := range refs {
		for _, parent := range parents {
			if pos[child] >= pos[parent] {
				t.Errorf("%s must be deleted before %s (positions %d, %d)",
					child, parent, pos[child], pos[parent])
			}
		}
	}
}

func TestSchema_ForeignKeysMatchDeclaredRefs(t *testing.T) {
	refPattern := regexp.MustCompile(`REFERENCES (\w+)\(`)
	tables := schemaTables()

	for _, stmt := range schemaStatements {
		for _, m := range refPattern.FindAllStringSubmatch(stmt, -1) {
			if !tables[m[1]] {
				t.Errorf("statement references undeclared table %q:\n%s",
					m[1], strings.TrimSpace(stmt))
			}
		}
	}
}
