package constants

import "strings"

// DocumentMediaTypes holds the attachment media types considered extractable
// documents.
var DocumentMediaTypes = map[string]struct{}{
	"application/pdf": {},
	"image/jpeg":      {},
	"image/jpg":       {},
	"image/png":       {},
	"image/webp":      {},
	"image/tiff":      {},
}

// DocumentExtensions holds the filename extensions accepted when an
// attachment carries a generic media type (e.g. application/octet-stream).
var DocumentExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"webp": {},
	"tiff": {},
	"docx": {},
	"xlsx": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
