package httpapi

import (
	"embed"
	"io/fs"
)

// The popup page and its static files.
//
//go:embed assets/*
var embeddedAssets embed.FS

var assetsFS = mustSub(embeddedAssets, "assets")

func mustSub(fsys embed.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return fsys
	}
	return sub
}
