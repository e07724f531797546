package storage

import (
	"strings"

	"github.com/cofferdb/coffer/internal/catalog"
)

// Collections are stored one table each: the primary key in pk, the full
// record as a JSON document in doc. Secondary indexes become expression
// indexes over json_extract so declared projections are index-served without
// a second copy of the data.

func tableDDL(col catalog.Collection) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(quoteIdent(col.Name))
	b.WriteString(" (\n")
	b.WriteString("\tpk TEXT PRIMARY KEY,\n")
	b.WriteString("\tdoc TEXT NOT NULL\n")
	b.WriteString(")")
	return b.String()
}

func indexDDL(col catalog.Collection, idx catalog.Index) string {
	var b strings.Builder
	b.WriteString("CREATE ")
	if idx.Unique {
		b.WriteString("UNIQUE ")
	}
	b.WriteString("INDEX IF NOT EXISTS ")
	b.WriteString(quoteIdent(indexName(col, idx)))
	b.WriteString(" ON ")
	b.WriteString(quoteIdent(col.Name))
	b.WriteString(" (")
	b.WriteString(docExtract(idx.Path))
	b.WriteString(")")
	return b.String()
}

func indexName(col catalog.Collection, idx catalog.Index) string {
	return "idx_" + col.Name + "_" + idx.Name
}

// docExtract renders the json_extract expression for a dotted field path.
// Paths come from a validated catalog, so segments are identifier-safe.
func docExtract(path string) string {
	return "json_extract(doc, '$." + path + "')"
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}
