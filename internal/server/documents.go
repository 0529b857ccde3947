package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"google.golang.org/grpc"

	"github.com/DracoR22/InvoiceIQ/constants"
	"github.com/DracoR22/InvoiceIQ/internal/common"
	"github.com/DracoR22/InvoiceIQ/internal/pdf"
)

const documentServiceName = "invoiceiq.v1.DocumentService"

type DocumentService interface {
	ParseUpload(context.Context, *ParseUploadRequest) (*ParseUploadResponse, error)
	ParseURL(context.Context, *ParseURLRequest) (*ParseURLResponse, error)
}

var documentServiceDesc = grpc.ServiceDesc{
	ServiceName: documentServiceName,
	HandlerType: (*DocumentService)(nil),
	Methods: []grpc.MethodDesc{
		unary(documentServiceName, "ParseUpload", DocumentService.ParseUpload),
		unary(documentServiceName, "ParseURL", DocumentService.ParseURL),
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterDocumentService(r grpc.ServiceRegistrar, srv DocumentService) {
	r.RegisterService(&documentServiceDesc, srv)
}

// DocumentServer turns PDF documents into text.
type DocumentServer struct {
	parser *pdf.Parser
	loader *pdf.Loader
	logger *slog.Logger
}

func NewDocumentServer(parser *pdf.Parser, loader *pdf.Loader, logger *slog.Logger) *DocumentServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentServer{parser: parser, loader: loader, logger: logger}
}

// ParseUpload fails with 422 for every document problem.
func (s *DocumentServer) ParseUpload(ctx context.Context, req *ParseUploadRequest) (*ParseUploadResponse, error) {
	text, err := parseUpload(ctx, s.parser, req.Filename, req.Data)
	if err != nil {
		return nil, err
	}
	return &ParseUploadResponse{OriginalFileName: req.Filename, Content: text}, nil
}

// ParseURL fails with 422 when the PDF has no text and 400 for anything else.
func (s *DocumentServer) ParseURL(ctx context.Context, req *ParseURLRequest) (*ParseURLResponse, error) {
	if err := common.NewValidator().Field("url", req.URL, common.Required).Err(); err != nil {
		return nil, err
	}
	data, err := s.loader.LoadFromURL(ctx, req.URL)
	if err != nil {
		return nil, &badDocumentURL{err: err}
	}
	text, err := s.parser.Parse(ctx, data)
	if err != nil {
		if errors.Is(err, pdf.ErrNotParsed) {
			return nil, err
		}
		return nil, &badDocumentURL{err: err}
	}
	return &ParseURLResponse{OriginalURL: req.URL, Content: text}, nil
}

func parseUpload(ctx context.Context, parser *pdf.Parser, filename string, data []byte) (string, error) {
	if err := common.NewValidator().
		Field("filename", filename, common.Required).
		Field("data", data, common.Required).
		Err(); err != nil {
		return "", err
	}
	if constants.NormalizeExt(path.Ext(strings.TrimSpace(filename))) != constants.PDFExtension {
		return "", pdf.ErrExtension
	}
	if err := parser.Validate(data); err != nil {
		return "", err
	}
	return parser.Parse(ctx, data)
}

// badDocumentURL reclassifies a URL download or validation failure as a bad
// request.
type badDocumentURL struct {
	err error
}

func (e *badDocumentURL) Error() string   { return e.err.Error() }
func (e *badDocumentURL) Unwrap() error   { return e.err }
func (e *badDocumentURL) HTTPStatus() int { return http.StatusBadRequest }
