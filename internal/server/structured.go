package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"

	"github.com/DracoR22/InvoiceIQ/constants"
	"github.com/DracoR22/InvoiceIQ/internal/common"
	"github.com/DracoR22/InvoiceIQ/internal/llm"
	"github.com/DracoR22/InvoiceIQ/internal/structured"
)

const structuredServiceName = "invoiceiq.v1.StructuredService"

type StructuredService interface {
	ExtractJSON(context.Context, *ExtractJSONRequest) (*ExtractJSONResponse, error)
	AnalyzeJSON(context.Context, *AnalyzeJSONRequest) (*AnalyzeJSONResponse, error)
	Classify(context.Context, *ClassifyRequest) (*ClassifyResponse, error)
	Generate(context.Context, *GenerateRequest) (*GenerateResponse, error)
}

var structuredServiceDesc = grpc.ServiceDesc{
	ServiceName: structuredServiceName,
	HandlerType: (*StructuredService)(nil),
	Methods: []grpc.MethodDesc{
		unary(structuredServiceName, "ExtractJSON", StructuredService.ExtractJSON),
		unary(structuredServiceName, "AnalyzeJSON", StructuredService.AnalyzeJSON),
		unary(structuredServiceName, "Classify", StructuredService.Classify),
		unary(structuredServiceName, "Generate", StructuredService.Generate),
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterStructuredService(r grpc.ServiceRegistrar, srv StructuredService) {
	r.RegisterService(&structuredServiceDesc, srv)
}

// StructuredServer exposes the structured output operations.
type StructuredServer struct {
	svc          *structured.Service
	creds        Credentials
	defaultModel llm.ModelName
	logger       *slog.Logger
}

func NewStructuredServer(svc *structured.Service, creds Credentials, defaultModel llm.ModelName, logger *slog.Logger) *StructuredServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StructuredServer{svc: svc, creds: creds, defaultModel: defaultModel, logger: logger}
}

func (s *StructuredServer) options(p ModelParam, debug, strict bool) (structured.Options, error) {
	ref, err := s.creds.resolve(p, s.defaultModel)
	if err != nil {
		return structured.Options{}, err
	}
	return structured.Options{Model: ref, Debug: debug, Strict: strict}, nil
}

// ExtractJSON extracts with a schema (optionally refined) or with a worked
// example. A schema wins when both are given.
func (s *StructuredServer) ExtractJSON(ctx context.Context, req *ExtractJSONRequest) (*ExtractJSONResponse, error) {
	opts, err := s.options(req.Model, req.Debug, req.Strict)
	if err != nil {
		return nil, err
	}

	var res *structured.ExtractionResult
	switch {
	case req.JSONSchema != "" && req.Refine.Enabled:
		res, err = s.svc.ExtractWithSchemaAndRefine(ctx, opts, req.Text, req.JSONSchema, req.Refine.Params)
	case req.JSONSchema != "":
		res, err = s.svc.ExtractWithSchema(ctx, opts, req.Text, req.JSONSchema)
	case req.ExampleInput != "" || req.ExampleOutput != "":
		res, err = s.svc.ExtractWithExample(ctx, opts, req.Text, structured.Example{
			Input:  req.ExampleInput,
			Output: req.ExampleOutput,
		})
	default:
		return nil, &common.RequestError{Message: "either jsonSchema or exampleInput and exampleOutput are required"}
	}
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(res.JSON)
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}
	resp := &ExtractJSONResponse{
		Model:  string(opts.Model.Name),
		Refine: false,
		Output: string(out),
		Debug:  res.Debug,
	}
	if res.Refine != nil {
		resp.Refine = res.Refine
	}
	return resp, nil
}

func (s *StructuredServer) AnalyzeJSON(ctx context.Context, req *AnalyzeJSONRequest) (*AnalyzeJSONResponse, error) {
	opts, err := s.options(req.Model, req.Debug, false)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.AnalyzeJSONOutput(ctx, opts, req.JSONOutput, req.OriginalText, req.JSONSchema)
	if err != nil {
		return nil, err
	}
	return &AnalyzeJSONResponse{
		Model: string(opts.Model.Name),
		Analysis: Analysis{
			Corrections:      res.Corrections,
			TextAnalysis:     res.TextAnalysis,
			TextAnalysisHTML: res.TextAnalysisHTML,
		},
		Debug: res.Debug,
	}, nil
}

func (s *StructuredServer) Classify(ctx context.Context, req *ClassifyRequest) (*ClassifyResponse, error) {
	opts, err := s.options(req.Model, req.Debug, false)
	if err != nil {
		return nil, err
	}
	categories := req.Categories
	if len(categories) == 0 {
		categories = constants.AsStringSlice()
	}
	res, err := s.svc.ClassifyText(ctx, opts, req.Text, categories)
	if err != nil {
		return nil, err
	}
	return &ClassifyResponse{
		Model:          string(opts.Model.Name),
		Classification: res.Classification,
		Confidence:     res.Confidence,
		Debug:          res.Debug,
	}, nil
}

func (s *StructuredServer) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	opts, err := s.options(req.Model, req.Debug, false)
	if err != nil {
		return nil, err
	}
	res, err := s.svc.HandleGenericPrompt(ctx, opts, req.Prompt)
	if err != nil {
		return nil, err
	}
	return &GenerateResponse{Model: string(opts.Model.Name), Output: res.Output, Debug: res.Debug}, nil
}
