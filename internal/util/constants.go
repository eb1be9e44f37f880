package util

const (
	StorageLocal = "local"
	StorageMinio = "minio"
)

// 文件上传相关常量
const (
	MimePlainText = "text/plain"
	MimeMarkdown  = "text/markdown"
	MimePDF       = "application/pdf"

	MaxDocumentSize = 20 << 20
)

var (
	AllowedDocumentExtensions = []string{".pdf", ".docx", ".txt", ".md", ".png", ".jpg", ".jpeg"}
)
