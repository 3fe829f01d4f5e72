// Package schemas embeds the JSON schemas of the city socket protocol.
package schemas

import "embed"

//go:embed *.schema.json
var FS embed.FS
