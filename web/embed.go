// Package web embeds the operator dashboard: a single page that follows the
// status and control command streams and can issue takeover requests.
package web

import "embed"

// Content holds the embedded dashboard files (index.html, app.js, styles.css).
//
//go:embed index.html app.js styles.css
var Content embed.FS
