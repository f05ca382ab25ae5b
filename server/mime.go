package server

import "mime"

// contentTypes extends the platform MIME table so that static files get
// the same types on every host.
var contentTypes = [...]struct{ ext, typ string }{
	// Text formats
	{".html", "text/html"},
	{".htm", "text/html"},
	{".css", "text/css"},
	{".js", "application/javascript"},
	{".json", "application/json"},
	{".txt", "text/plain"},
	{".xml", "application/xml"},
	{".csv", "text/csv"},

	// Images
	{".jpg", "image/jpeg"},
	{".jpeg", "image/jpeg"},
	{".png", "image/png"},
	{".gif", "image/gif"},
	{".svg", "image/svg+xml"},
	{".webp", "image/webp"},
	{".ico", "image/x-icon"},

	// Media
	{".mp4", "video/mp4"},
	{".webm", "video/webm"},
	{".mp3", "audio/mpeg"},
	{".wav", "audio/wav"},
	{".ogg", "audio/ogg"},

	// Fonts
	{".woff", "font/woff"},
	{".woff2", "font/woff2"},
	{".ttf", "font/ttf"},
	{".otf", "font/otf"},

	// Documents and archives
	{".pdf", "application/pdf"},
	{".wasm", "application/wasm"},
	{".zip", "application/zip"},
	{".tar", "application/x-tar"},
	{".gz", "application/gzip"},
}

func init() {
	for _, ct := range contentTypes {
		if err := mime.AddExtensionType(ct.ext, ct.typ); err != nil {
			panic(err)
		}
	}
}
