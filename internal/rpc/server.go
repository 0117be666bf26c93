package rpc

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"ecstore/internal/router"
)

// Metadata keys set by clients.
const (
	requestIDKey   = "ecstore-request-id"
	procedureIDKey = "ecstore-procedure-id"
)

// NewGRPCServer returns a gRPC server running ServerInterceptor.
func NewGRPCServer(table *ProcedureTable, logger zerolog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(ServerInterceptor(table, logger)))
	return grpc.NewServer(opts...)
}

// ServerInterceptor carries the caller's request id into the handler
// context, rejects object calls whose procedure id disagrees with table and
// logs every call.
func ServerInterceptor(table *ProcedureTable, logger zerolog.Logger) grpc.UnaryServerInterceptor {
	logger = logger.With().Str("component", "grpc").Logger()

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		md, _ := metadata.FromIncomingContext(ctx)

		reqID := first(md, requestIDKey)
		if reqID != "" {
			ctx = router.WithRequestID(ctx, reqID)
		}

		resp, err := func() (any, error) {
			if err := checkProcedure(table, info.FullMethod, first(md, procedureIDKey)); err != nil {
				return nil, err
			}
			return handler(ctx, req)
		}()

		logger.Debug().
			Str("method", info.FullMethod).
			Str("request_id", reqID).
			Stringer("code", status.Code(err)).
			Dur("elapsed", time.Since(started)).
			Msg("call")
		return resp, err
	}
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// checkProcedure verifies a procedure id sent with an object call. Calls
// without one, and calls to other services, pass.
func checkProcedure(table *ProcedureTable, fullMethod, raw string) error {
	if table == nil || raw == "" {
		return nil
	}
	method, ok := strings.CutPrefix(fullMethod, "/"+ObjectServiceName+"/")
	if !ok {
		return nil
	}
	name, ok := objectProcedures[method]
	if !ok {
		return status.Errorf(codes.Unimplemented, "method %s has no procedure", method)
	}
	want, err := table.ID(name)
	if err != nil {
		return toStatus(err)
	}
	got, err := strconv.ParseUint(raw, 0, 32)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "procedure id %q: %v", raw, err)
	}
	if uint32(got) != want {
		return status.Errorf(codes.Unimplemented, "procedure id 0x%08x is not %s (0x%08x)", got, name, want)
	}
	return nil
}
