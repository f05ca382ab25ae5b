package server

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/codetesla51/raw-http/http1"
)

// FileExists checks if a regular file exists at the given path
func FileExists(filePath string) bool {
	fi, err := os.Stat(filePath)
	return err == nil && fi.Mode().IsRegular()
}

// readFileContent reads entire file content
func readFileContent(filePath string) ([]byte, bool) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, false
	}
	return content, true
}

// getContentType determines MIME type from file extension
func getContentType(filePath string) string {
	contentType := mime.TypeByExtension(filepath.Ext(filePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return contentType
}

// FileResponse streams the file at filePath with a known length. The
// file is closed once the body has been written.
func FileResponse(filePath string) (*http1.Response, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%s is not a regular file", filePath)
	}
	resp := http1.NewResponse(200).WithBody(http1.SizedBody(f, fi.Size()))
	resp.Header.Set(http1.HeaderContentType, getContentType(filePath))
	return resp, nil
}

// Static serves GET and HEAD requests from the files under dir. Paths
// that escape dir are refused with 403; missing files fall through.
func Static(dir string) Handler {
	return HandlerFunc(func(req *http1.Request) *http1.Response {
		if req.Method != http1.MethodGet && req.Method != http1.MethodHead {
			return nil
		}
		if req.Target.Form != http1.OriginForm && req.Target.Form != http1.AbsoluteForm {
			return nil
		}
		return ServeFile(dir, req.Target.Path)
	})
}

// ServeFile answers with the file name resolves to under dir: 403 when
// name escapes dir, nil when no regular file exists there.
func ServeFile(dir, name string) *http1.Response {
	filePath, ok := staticPath(dir, name)
	if !ok {
		return Text(403, "Forbidden")
	}
	if !FileExists(filePath) {
		return nil
	}
	resp, err := FileResponse(filePath)
	if err != nil {
		return nil
	}
	return resp
}

// staticPath maps a slash-separated path into dir. "/" maps to
// index.html.
func staticPath(dir, path string) (string, bool) {
	if path == "/" || path == "" {
		path = "/index.html"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	baseDir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	absPath, err := filepath.Abs(filepath.Join(baseDir, filepath.FromSlash(path)))
	if err != nil {
		return "", false
	}
	if absPath != baseDir && !strings.HasPrefix(absPath, baseDir+string(filepath.Separator)) {
		return "", false
	}
	return absPath, true
}
