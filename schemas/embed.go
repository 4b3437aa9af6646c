// Package schemas embeds the JSON Schemas for every document the tool writes
// into a bundle or prints as a result.
package schemas

import "embed"

//go:embed v1/*.schema.json
var FS embed.FS
