package util

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DetectDocumentType 按文件内容识别 MIME 类型（可识别 docx），并校验扩展名白名单
func DetectDocumentType(data []byte, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	allowed := false
	for _, e := range AllowedDocumentExtensions {
		if e == ext {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", errors.New("invalid file extension: " + ext)
	}

	mt := mimetype.Detect(data)
	mimeType := mt.String()
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	// 纯文本无法通过内容区分 markdown
	if ext == ".md" && strings.HasPrefix(mimeType, MimePlainText) {
		return MimeMarkdown, nil
	}
	return mimeType, nil
}

// IsPlainText 可直接读取文本的类型
func IsPlainText(mimeType string) bool {
	return strings.HasPrefix(mimeType, MimePlainText) || mimeType == MimeMarkdown
}
