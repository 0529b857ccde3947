package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/DracoR22/InvoiceIQ/constants"
	"github.com/DracoR22/InvoiceIQ/internal/async"
	"github.com/DracoR22/InvoiceIQ/internal/common"
	"github.com/DracoR22/InvoiceIQ/internal/entity"
	"github.com/DracoR22/InvoiceIQ/internal/export"
	"github.com/DracoR22/InvoiceIQ/internal/ingest"
	"github.com/DracoR22/InvoiceIQ/internal/llm"
	"github.com/DracoR22/InvoiceIQ/internal/pipeline"
	"github.com/DracoR22/InvoiceIQ/internal/repository"
)

const extractionServiceName = "invoiceiq.v1.ExtractionService"

type ExtractionService interface {
	Create(context.Context, *CreateExtractionRequest) (*entity.Extraction, error)
	Get(context.Context, *GetExtractionRequest) (*entity.Extraction, error)
	List(context.Context, *ListExtractionsRequest) (*ListExtractionsResponse, error)
	Process(context.Context, *ProcessExtractionRequest) (*entity.Extraction, error)
	Verify(context.Context, *VerifyExtractionRequest) (*entity.Extraction, error)
	Export(context.Context, *ExportExtractionsRequest) (*ExportExtractionsResponse, error)
}

var extractionServiceDesc = grpc.ServiceDesc{
	ServiceName: extractionServiceName,
	HandlerType: (*ExtractionService)(nil),
	Methods: []grpc.MethodDesc{
		unary(extractionServiceName, "Create", ExtractionService.Create),
		unary(extractionServiceName, "Get", ExtractionService.Get),
		unary(extractionServiceName, "List", ExtractionService.List),
		unary(extractionServiceName, "Process", ExtractionService.Process),
		unary(extractionServiceName, "Verify", ExtractionService.Verify),
		unary(extractionServiceName, "Export", ExtractionService.Export),
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterExtractionService(r grpc.ServiceRegistrar, srv ExtractionService) {
	r.RegisterService(&extractionServiceDesc, srv)
}

// ExtractionServer stores uploaded documents and walks them through
// recognition, extraction and verification.
type ExtractionServer struct {
	Repo      repository.ExtractionRepository
	Ingestor  *ingest.Ingestor
	Processor *pipeline.Processor
	// Queue runs async processing; nil processes inline.
	Queue        async.Queue
	Exporter     *export.Service
	Creds        Credentials
	DefaultModel llm.ModelName
	Logger       *slog.Logger
}

func (s *ExtractionServer) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *ExtractionServer) Create(ctx context.Context, req *CreateExtractionRequest) (*entity.Extraction, error) {
	res, err := s.Ingestor.Ingest(ctx, req.Filename, req.Data)
	if err != nil {
		return nil, err
	}
	e := res.Extraction
	s.logger().Info("extraction.created", "id", e.ID, "filename", e.Filename, "deduplicated", res.Deduplicated)

	if !req.Process {
		return e, nil
	}
	// the upload is stored either way; a processing failure leaves the
	// record where it stopped
	if err := s.enqueue(ctx, e.ID); err != nil {
		s.logger().Warn("extraction.process_failed", "id", e.ID, "error", err)
	}
	return s.Repo.Get(ctx, e.ID)
}

func (s *ExtractionServer) Get(ctx context.Context, req *GetExtractionRequest) (*entity.Extraction, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}
	return s.Repo.Get(ctx, id)
}

func (s *ExtractionServer) List(ctx context.Context, req *ListExtractionsRequest) (*ListExtractionsResponse, error) {
	if req.Status != "" && !req.Status.Valid() {
		return nil, &common.RequestError{Message: fmt.Sprintf("unknown status %q", req.Status)}
	}
	cat, err := parseCategory(req.Category)
	if err != nil {
		return nil, err
	}
	out, err := s.Repo.List(ctx, repository.ListFilter{Status: req.Status, Category: cat, Limit: req.Limit})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*entity.Extraction{}
	}
	return &ListExtractionsResponse{Extractions: out}, nil
}

func (s *ExtractionServer) Process(ctx context.Context, req *ProcessExtractionRequest) (*entity.Extraction, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}
	if req.Async {
		if req.Model != nil {
			return nil, &common.RequestError{Message: "async processing always uses the server model"}
		}
		if err := s.enqueue(ctx, id); err != nil {
			return nil, err
		}
		return s.Repo.Get(ctx, id)
	}

	var p ModelParam
	if req.Model != nil {
		p = *req.Model
	}
	ref, err := s.Creds.resolve(p, s.DefaultModel)
	if err != nil {
		return nil, err
	}
	return s.Processor.ProcessWithModel(ctx, id, ref)
}

func (s *ExtractionServer) Verify(ctx context.Context, req *VerifyExtractionRequest) (*entity.Extraction, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}
	if len(req.JSON) == 0 {
		return nil, &common.RequestError{Message: "json is required"}
	}
	return s.Processor.Verify(ctx, id, req.JSON)
}

func (s *ExtractionServer) Export(ctx context.Context, req *ExportExtractionsRequest) (*ExportExtractionsResponse, error) {
	cat, err := parseCategory(req.Category)
	if err != nil {
		return nil, err
	}
	xlsx, err := s.Exporter.ExportXLSX(ctx, cat)
	if err != nil {
		return nil, err
	}
	name := "extractions"
	if cat != "" {
		name += "-" + cat.Slug()
	}
	return &ExportExtractionsResponse{
		Filename: fmt.Sprintf("%s-%s.xlsx", name, time.Now().UTC().Format("20060102")),
		XLSX:     xlsx,
	}, nil
}

// enqueue hands id to the background queue, or processes it inline with the
// default model when no queue is configured.
func (s *ExtractionServer) enqueue(ctx context.Context, id uuid.UUID) error {
	if s.Queue == nil {
		_, err := s.Processor.Process(ctx, id)
		return err
	}
	return s.Queue.Enqueue(ctx, async.Job{
		ExtractionID: id,
		SubmittedAt:  time.Now().UTC(),
		TraceID:      common.RequestIDFromContext(ctx),
	})
}

func parseID(raw string) (uuid.UUID, error) {
	if err := common.NewValidator().Field("id", raw, common.Required, common.UUID).Err(); err != nil {
		return uuid.Nil, err
	}
	return uuid.MustParse(strings.TrimSpace(raw)), nil
}

// parseCategory accepts "" (any) or a label constants.Canonicalize knows.
func parseCategory(raw string) (constants.Category, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	cat, ok := constants.Canonicalize(raw)
	if !ok {
		return "", &common.RequestError{Message: fmt.Sprintf("unknown category %q", raw)}
	}
	return cat, nil
}
