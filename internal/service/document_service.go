package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"assessment_backend/internal/model"
	"assessment_backend/internal/repository"
	"assessment_backend/internal/util"
	"assessment_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TextExtractor 从文档原件中提取纯文本
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (string, error)
}

type PlainTextExtractor struct{}

func (PlainTextExtractor) Extract(_ context.Context, data []byte, mimeType string) (string, error) {
	if !util.IsPlainText(mimeType) {
		return "", util.ErrUnsupportedDocument
	}
	return string(data), nil
}

// TikaExtractor 调用 Apache Tika Server 提取 PDF、DOCX 和图片（OCR）中的文本
type TikaExtractor struct {
	URL  string
	http *http.Client
}

func NewTikaExtractor(url string, timeout time.Duration) *TikaExtractor {
	return &TikaExtractor{URL: strings.TrimRight(url, "/"), http: &http.Client{Timeout: timeout}}
}

func (e *TikaExtractor) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, e.URL+"/tika", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("Accept", "text/plain")

	resp, err := e.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return string(body), nil
	case http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return "", util.ErrUnsupportedDocument
	}
	return "", fmt.Errorf("tika error (status %d): %s", resp.StatusCode, string(body))
}

// CompositeExtractor 依次尝试，跳过不支持该类型的提取器
type CompositeExtractor []TextExtractor

func (c CompositeExtractor) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	for _, e := range c {
		text, err := e.Extract(ctx, data, mimeType)
		if errors.Is(err, util.ErrUnsupportedDocument) {
			continue
		}
		return text, err
	}
	return "", util.ErrUnsupportedDocument
}

// Embedder 生成文本向量
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float64, error)
}

// PoolEmbedder 通过 provider 池生成向量，失败时切换 provider
type PoolEmbedder struct {
	Pool *ProviderPool
}

func (e PoolEmbedder) Embed(ctx context.Context, inputs []string) ([][]float64, error) {
	var out [][]float64
	err := e.Pool.Do(ctx, "embedding", 0, func(ctx context.Context, pr Provider) error {
		vectors, err := pr.Embed(ctx, inputs)
		if err != nil {
			return err
		}
		out = vectors
		return nil
	})
	return out, err
}

// Chunk 按段落切分文本，每块不超过 maxWords 个词；超长段落按词数硬切
func Chunk(text string, maxWords int) []string {
	if maxWords <= 0 {
		maxWords = 200
	}
	var (
		chunks  []string
		current []string
	)
	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = current[:0]
		}
	}

	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			continue
		}
		if len(current)+len(words) > maxWords {
			flush()
		}
		for len(words) > maxWords {
			chunks = append(chunks, strings.Join(words[:maxWords], " "))
			words = words[maxWords:]
		}
		current = append(current, words...)
	}
	flush()
	return chunks
}

func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type DocumentService struct {
	Repo           *repository.DocumentRepository
	AssessmentRepo *repository.AssessmentRepository
	Storage        StorageProvider
	Extractor      TextExtractor
	Embedder       Embedder
	ChunkWords     int
	ContextChunks  int
}

func NewDocumentService(
	repo *repository.DocumentRepository,
	assessmentRepo *repository.AssessmentRepository,
	storage StorageProvider,
	extractor TextExtractor,
	embedder Embedder,
	chunkWords, contextChunks int,
) *DocumentService {
	if contextChunks <= 0 {
		contextChunks = 4
	}
	return &DocumentService{
		Repo:           repo,
		AssessmentRepo: assessmentRepo,
		Storage:        storage,
		Extractor:      extractor,
		Embedder:       embedder,
		ChunkWords:     chunkWords,
		ContextChunks:  contextChunks,
	}
}

func (s *DocumentService) ownedAssessment(actor Actor, assessmentID uint) (*model.Assessment, error) {
	a, err := s.AssessmentRepo.FindByID(assessmentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrAssessmentNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, a, "manage documents of this assessment"); err != nil {
		return nil, err
	}
	return a, nil
}

// Upload 保存原件并同步完成提取、分块与向量化；处理失败的文档保留为 failed 状态
func (s *DocumentService) Upload(ctx context.Context, actor Actor, assessmentID uint, filename string, data []byte) (*model.Document, error) {
	if _, err := s.ownedAssessment(actor, assessmentID); err != nil {
		return nil, err
	}
	if len(data) == 0 || len(data) > util.MaxDocumentSize {
		return nil, util.ErrUnsupportedDocument
	}
	mimeType, err := util.DetectDocumentType(data, filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrUnsupportedDocument, err)
	}

	key := fmt.Sprintf("documents/%d/%s%s", assessmentID, model.GenerateUUID(), strings.ToLower(filepath.Ext(filename)))
	url, err := s.Storage.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), mimeType)
	if err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}

	doc := &model.Document{
		AssessmentID: assessmentID,
		OwnerID:      actor.ID,
		FileName:     filepath.Base(filename),
		MimeType:     mimeType,
		Size:         int64(len(data)),
		StorageKey:   key,
		URL:          url,
		Status:       model.DocumentProcessing,
	}
	if err := s.Repo.Create(doc); err != nil {
		return nil, err
	}

	if err := s.ingest(ctx, doc, data); err != nil {
		logger.Log.Warn("Document ingestion failed",
			zap.Uint("documentId", doc.ID),
			zap.String("mime", mimeType),
			zap.Error(err))
		doc.Status = model.DocumentFailed
		doc.Error = err.Error()
	} else {
		doc.Status = model.DocumentReady
		doc.Error = ""
	}
	if err := s.Repo.Update(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *DocumentService) ingest(ctx context.Context, doc *model.Document, data []byte) error {
	text, err := s.Extractor.Extract(ctx, data, doc.MimeType)
	if err != nil {
		return err
	}
	pieces := Chunk(text, s.ChunkWords)
	if len(pieces) == 0 {
		return errors.New("document contains no text")
	}

	var vectors [][]float64
	if s.Embedder != nil {
		vectors, err = s.Embedder.Embed(ctx, pieces)
		if err != nil {
			// 没有向量时检索退化为按顺序取前几块
			logger.Log.Warn("Embedding failed, storing chunks without vectors",
				zap.Uint("documentId", doc.ID), zap.Error(err))
			vectors = nil
		}
	}

	chunks := make([]model.DocumentChunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = model.DocumentChunk{
			DocumentID:   doc.ID,
			AssessmentID: doc.AssessmentID,
			Seq:          i,
			Content:      p,
		}
		if i < len(vectors) && len(vectors[i]) > 0 {
			b, err := json.Marshal(vectors[i])
			if err != nil {
				return err
			}
			chunks[i].Embedding = datatypes.JSON(b)
		}
	}
	if err := s.Repo.ReplaceChunks(doc.ID, chunks); err != nil {
		return err
	}
	doc.ChunkCount = len(chunks)
	return nil
}

func (s *DocumentService) List(actor Actor, assessmentID uint) ([]model.Document, error) {
	if _, err := s.ownedAssessment(actor, assessmentID); err != nil {
		return nil, err
	}
	return s.Repo.ListByAssessment(assessmentID)
}

func (s *DocumentService) Delete(ctx context.Context, actor Actor, documentID uint) error {
	doc, err := s.Repo.FindByID(documentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return util.ErrDocumentNotFound
	}
	if err != nil {
		return err
	}
	if _, err := s.ownedAssessment(actor, doc.AssessmentID); err != nil {
		return err
	}
	if err := s.Storage.Delete(ctx, doc.StorageKey); err != nil {
		logger.Log.Warn("Failed to delete stored document", zap.String("key", doc.StorageKey), zap.Error(err))
	}
	return s.Repo.Delete(doc)
}

// RetrieveContext 取与 query 最相近的 k 个文档块作为出题上下文
func (s *DocumentService) RetrieveContext(ctx context.Context, assessmentID uint, query string, k int) ([]string, error) {
	if k <= 0 {
		k = s.ContextChunks
	}
	chunks, err := s.Repo.ListChunks(assessmentID)
	if err != nil || len(chunks) == 0 {
		return nil, err
	}

	var queryVec []float64
	if s.Embedder != nil && strings.TrimSpace(query) != "" {
		vectors, err := s.Embedder.Embed(ctx, []string{query})
		if err != nil {
			logger.Log.Warn("Query embedding failed, using leading chunks", zap.Error(err))
		} else if len(vectors) == 1 {
			queryVec = vectors[0]
		}
	}

	type scored struct {
		content string
		score   float64
	}
	ranked := make([]scored, len(chunks))
	for i, c := range chunks {
		ranked[i] = scored{content: c.Content}
		if queryVec == nil || len(c.Embedding) == 0 {
			continue
		}
		var vec []float64
		if err := json.Unmarshal(c.Embedding, &vec); err == nil {
			ranked[i].score = cosine(queryVec, vec)
		}
	}
	if queryVec != nil {
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	}

	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = ranked[i].content
	}
	return out, nil
}
