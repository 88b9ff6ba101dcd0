// Package web serves a built browser front end next to the API.
package web

import (
	"errors"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/labstack/echo/v4"
)

// ErrNoIndex is returned when the front end directory has no index.html.
var ErrNoIndex = errors.New("front end has no index.html")

// HasIndex reports whether fsys contains a front end build.
func HasIndex(fsys fs.FS) bool {
	info, err := fs.Stat(fsys, "index.html")
	return err == nil && !info.IsDir()
}

// RegisterStaticRoutes serves fsys for every non-API GET. Unknown paths get
// index.html so the client-side router can handle them. The API routes
// should be registered before calling this function.
func RegisterStaticRoutes(e *echo.Echo, staticFS fs.FS) error {
	if !HasIndex(staticFS) {
		return ErrNoIndex
	}
	fileServer := http.FileServer(http.FS(staticFS))

	e.GET("/*", func(c echo.Context) error {
		requestPath := path.Clean(c.Request().URL.Path)
		if strings.HasPrefix(requestPath, "/api/") {
			return echo.ErrNotFound
		}

		name := strings.TrimPrefix(requestPath, "/")
		if name == "" {
			return serveIndexHTML(c, staticFS)
		}
		info, err := fs.Stat(staticFS, name)
		if err != nil {
			return serveIndexHTML(c, staticFS)
		}
		if info.IsDir() {
			if _, err := fs.Stat(staticFS, path.Join(name, "index.html")); err != nil {
				return serveIndexHTML(c, staticFS)
			}
		}

		fileServer.ServeHTTP(c.Response(), c.Request())
		return nil
	})
	return nil
}

// serveIndexHTML serves the main index.html for SPA routing
func serveIndexHTML(c echo.Context, staticFS fs.FS) error {
	indexFile, err := staticFS.Open("index.html")
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "index.html not found")
	}
	defer indexFile.Close()

	content, err := io.ReadAll(indexFile)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read index.html")
	}
	return c.HTMLBlob(http.StatusOK, content)
}
