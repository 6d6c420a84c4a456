// Package boxtoggle serves the client script that opens and closes the
// collapsible boxes emitted by the bbcode renderer.
package boxtoggle

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"html/template"
	"net/http"
	"strings"
)

//go:embed boxtoggle.js
var script []byte

var etag = func() string {
	sum := sha256.Sum256(script)
	return `"` + hex.EncodeToString(sum[:8]) + `"`
}()

// Script returns the raw script source.
func Script() []byte {
	return script
}

// ETag returns the strong entity tag for the script.
func ETag() string {
	return etag
}

// Handler serves the script with long-lived caching and conditional GET
// support.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		h := w.Header()
		h.Set("ETag", etag)
		h.Set("Cache-Control", "public, max-age=86400")

		if matchesETag(r.Header.Get("If-None-Match")) {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		h.Set("Content-Type", "text/javascript; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(script)
		}
	})
}

func matchesETag(header string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

var scriptTmpl = template.Must(template.New("script").Parse(
	`<script defer src="{{.Src}}"{{if .Nonce}} nonce="{{.Nonce}}"{{end}}></script>`))

// ScriptTag renders a deferred script element for src, carrying the CSP
// nonce when one is set.
func ScriptTag(src, nonce string) template.HTML {
	var b strings.Builder
	if err := scriptTmpl.Execute(&b, struct{ Src, Nonce string }{src, nonce}); err != nil {
		return ""
	}
	return template.HTML(b.String())
}
