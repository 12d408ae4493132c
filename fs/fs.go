// Package appfs embeds the static assets the app ships with:
// database migrations and email templates.
package appfs

import "embed"

// all: is needed for the _base.* email layouts, go:embed skips
// underscore-prefixed files by default.
//
//go:embed migrations all:assets
var FS embed.FS
