package security

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mzielin/agent-bridge/internal/domain"
)

// UploadValidator validates attachments before they reach the remote API
type UploadValidator struct {
	maxBytes    int64
	allowedExts map[string]bool
	suspicious  []*regexp.Regexp
}

// NewUploadValidator creates a validator with the given size ceiling and
// allowed extension list (lowercase, dot-prefixed).
func NewUploadValidator(maxBytes int64, allowedExts []string) *UploadValidator {
	if maxBytes <= 0 {
		maxBytes = 25 << 20
	}
	if len(allowedExts) == 0 {
		allowedExts = []string{".pdf", ".txt", ".md", ".csv", ".docx", ".xlsx", ".json", ".png", ".jpg", ".jpeg"}
	}
	exts := make(map[string]bool, len(allowedExts))
	for _, e := range allowedExts {
		exts[strings.ToLower(e)] = true
	}

	// Path traversal, path separators, control characters, and
	// executable extensions anywhere in the name.
	patterns := []string{
		`\.\.`,
		`[/\\]`,
		`[\x00-\x1f]`,
		`(?i)\.(exe|bat|cmd|sh|ps1|scr|com|msi|dll)(\.|$)`,
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}

	return &UploadValidator{
		maxBytes:    maxBytes,
		allowedExts: exts,
		suspicious:  compiled,
	}
}

// Validate checks a file's name and size before upload
func (v *UploadValidator) Validate(filename string, size int64) error {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return &domain.ValidationError{Message: "empty filename"}
	}
	if size == 0 {
		return &domain.ValidationError{Message: "empty file"}
	}
	if size > v.maxBytes {
		return &domain.ValidationError{Message: "file too large"}
	}

	for _, pattern := range v.suspicious {
		if pattern.MatchString(filename) {
			return &domain.ValidationError{Message: "suspicious filename"}
		}
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !v.allowedExts[ext] {
		return &domain.ValidationError{Message: "unsupported file type: " + ext}
	}
	return nil
}
