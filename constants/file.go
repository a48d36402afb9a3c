package constants

import "strings"

// AllowedExtensions holds the spreadsheet extensions the processing service accepts.
var AllowedExtensions = map[string]struct{}{
	"xlsx": {},
	"xls":  {},
}

// AllowedMIMETypes mirrors AllowedExtensions for uploads that carry a content type.
var AllowedMIMETypes = map[string]struct{}{
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
	"application/vnd.ms-excel": {},
}

// MaxDocumentBytes caps the upload size.
const MaxDocumentBytes int64 = 20 << 20

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
