// Package migrations содержит SQL схему, встроенную в бинарник.
package migrations

import "embed"

// FS - goose миграции
//
//go:embed *.sql
var FS embed.FS
