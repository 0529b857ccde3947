package server

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/DracoR22/InvoiceIQ/internal/common"
)

const (
	headerRequestID  = "x-request-id"
	headerHTTPStatus = "x-http-status"
)

// unary builds the method descriptor protoc would generate for one RPC.
func unary[S, Req, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*Req))
			})
		},
	}
}

// UnaryInterceptor tags each call with a request id, logs it, and turns
// domain errors into status errors. The HTTP-like class of the outcome is
// sent back in the x-http-status header.
func UnaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		rid := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(headerRequestID); len(v) > 0 {
				rid = v[0]
			}
		}
		if rid == "" {
			rid = uuid.New().String()
		}
		ctx = common.WithRequestID(ctx, rid)

		resp, err := handler(ctx, req)
		class := common.HTTPStatus(err)
		if herr := grpc.SetHeader(ctx, metadata.Pairs(headerRequestID, rid, headerHTTPStatus, strconv.Itoa(class))); herr != nil {
			logger.Debug("grpc.set_header_error", "method", info.FullMethod, "error", herr)
		}

		if err != nil {
			log := logger.Warn
			if class >= 500 {
				log = logger.Error
			}
			log("grpc.request.error",
				"method", info.FullMethod,
				"req_id", rid,
				"status", class,
				"error", err,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return nil, common.GRPCError(err)
		}
		logger.Info("grpc.request.ok",
			"method", info.FullMethod,
			"req_id", rid,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return resp, nil
	}
}
