// Package web embeds the viewer page and its assets.
package web

import "embed"

// FS holds index.html and static/.
//
//go:embed index.html static
var FS embed.FS
