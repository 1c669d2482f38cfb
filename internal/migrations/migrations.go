// Package migrations embeds the indexer's schema migration set so it
// ships inside the binary rather than as loose files on disk.
package migrations

import "embed"

// FS holds the embedded *.up.sql / *.down.sql pairs consumed by
// golang-migrate's iofs source driver.
//
//go:embed *.sql
var FS embed.FS
