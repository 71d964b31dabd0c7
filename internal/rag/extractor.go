package rag

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresfranco/portfolio-suite-sub002/internal/config"
	"github.com/andresfranco/portfolio-suite-sub002/internal/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/unidoc/unioffice/document"
	"github.com/unidoc/unipdf/v3/extractor"
	pdfmodel "github.com/unidoc/unipdf/v3/model"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Extractor 附件正文提取器。任何失败都只记录日志并返回空串，
// 附件不可读不能阻塞源记录其余字段的索引。
type Extractor struct {
	minioClient *minio.Client
	httpClient  *http.Client
}

// NewExtractor 创建提取器，minio仅在配置了对象存储时初始化
func NewExtractor(cfg *config.Config) *Extractor {
	e := &Extractor{
		httpClient: &http.Client{},
	}

	if cfg != nil && cfg.Storage.Provider == "minio" && cfg.Storage.Endpoint != "" {
		client, err := minio.New(cfg.Storage.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
			Secure: cfg.Storage.UseSSL,
		})
		if err != nil {
			logger.Warn("failed to initialize minio client, s3 uris will be skipped", zap.Error(err))
		} else {
			e.minioClient = client
		}
	}

	return e
}

// ExtractText 解析URI指向的附件并返回纯文本。失败返回空串。
func (e *Extractor) ExtractText(ctx context.Context, uri, mimeType string) string {
	if strings.TrimSpace(uri) == "" {
		return ""
	}

	data, err := e.fetch(ctx, uri)
	if err != nil {
		logger.Warn("failed to fetch attachment", zap.String("uri", uri), zap.Error(err))
		return ""
	}
	if len(data) == 0 {
		return ""
	}

	text, err := parseContent(data, uri, mimeType)
	if err != nil {
		logger.Warn("failed to parse attachment", zap.String("uri", uri), zap.Error(err))
		return ""
	}
	return text
}

func (e *Extractor) fetch(ctx context.Context, uri string) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, "s3://"):
		return e.fetchS3(ctx, uri)
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return e.fetchHTTP(ctx, uri)
	case strings.HasPrefix(uri, "file://"):
		return os.ReadFile(strings.TrimPrefix(uri, "file://"))
	default:
		return os.ReadFile(uri)
	}
}

func (e *Extractor) fetchS3(ctx context.Context, uri string) ([]byte, error) {
	if e.minioClient == nil {
		return nil, fmt.Errorf("object storage not configured")
	}

	trimmed := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid s3 uri: %s", uri)
	}

	obj, err := e.minioClient.GetObject(ctx, parts[0], parts[1], minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer obj.Close()

	return io.ReadAll(obj)
}

func (e *Extractor) fetchHTTP(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, uri)
	}
	return io.ReadAll(resp.Body)
}

func parseContent(data []byte, uri, mimeType string) (string, error) {
	switch detectFormat(uri, mimeType) {
	case "pdf":
		return parsePDF(data)
	case "docx":
		return parseDOCX(data)
	case "html":
		return parseHTML(data)
	default:
		return string(data), nil
	}
}

func detectFormat(uri, mimeType string) string {
	switch mimeType {
	case "application/pdf":
		return "pdf"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return "docx"
	case "text/html":
		return "html"
	}

	switch strings.ToLower(filepath.Ext(uri)) {
	case ".pdf":
		return "pdf"
	case ".docx":
		return "docx"
	case ".html", ".htm":
		return "html"
	default:
		return "text"
	}
}

func parsePDF(data []byte) (string, error) {
	pdfReader, err := pdfmodel.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("failed to get pdf page count: %w", err)
	}

	var textBuilder strings.Builder
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			continue
		}

		ex, err := extractor.New(page)
		if err != nil {
			continue
		}

		text, err := ex.ExtractText()
		if err != nil {
			continue
		}

		textBuilder.WriteString(text)
		textBuilder.WriteString("\n")
	}

	return textBuilder.String(), nil
}

func parseDOCX(data []byte) (string, error) {
	doc, err := document.Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open docx: %w", err)
	}
	defer doc.Close()

	var textBuilder strings.Builder
	for _, para := range doc.Paragraphs() {
		for _, run := range para.Runs() {
			textBuilder.WriteString(run.Text())
		}
		textBuilder.WriteString("\n")
	}

	return textBuilder.String(), nil
}

// parseHTML 去标签，保留文本节点，script/style整体丢弃
func parseHTML(data []byte) (string, error) {
	node, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	var textBuilder strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				textBuilder.WriteString(text)
				textBuilder.WriteString("\n")
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(node)

	return textBuilder.String(), nil
}
