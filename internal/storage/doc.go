// Package storage provides the SQLite-backed object store: catalog-driven
// schema migrations and per-collection document primitives shared by the
// typed repositories.
package storage
