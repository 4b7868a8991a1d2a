package grpc

import (
	"context"
	"encoding/base64"

	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/internal/usecase"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Сервис описан вручную: сообщения передаются как google.protobuf.Struct.
//
//	Match:  {image_data: base64, k} -> {candidates: [{product_id, url, title, score}], model_version, index_version}
//	Health: Empty -> {state, ready, index_version, model_version, entries, products}
const (
	MatcherServiceName = "matcher.v1.MatcherService"
	MatchMethod        = "/" + MatcherServiceName + "/Match"
	HealthMethod       = "/" + MatcherServiceName + "/Health"
)

type MatcherServer interface {
	Match(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Health(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

var MatcherServiceDesc = grpc.ServiceDesc{
	ServiceName: MatcherServiceName,
	HandlerType: (*MatcherServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Match", Handler: matchHandler},
		{MethodName: "Health", Handler: healthHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "matcher.proto",
}

func matchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MatcherServer).Match(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MatchMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MatcherServer).Match(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func healthHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MatcherServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: HealthMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MatcherServer).Health(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

type MatcherService struct {
	matcher usecase.MatcherUC
	topK    int
	logger  logger.Logger
}

func NewMatcherService(matcher usecase.MatcherUC, topK int, logger logger.Logger) *MatcherService {
	return &MatcherService{matcher: matcher, topK: topK, logger: logger}
}

func (g *MatcherService) Match(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	const op = "grpc.Match"

	fields := req.GetFields()
	data, err := base64.StdEncoding.DecodeString(fields["image_data"].GetStringValue())
	if err != nil {
		return nil, GRPCErrorResponse(e.Wrap(op, e.ErrStatusBadRequest))
	}
	if len(data) == 0 {
		return nil, GRPCErrorResponse(e.Wrap(op, e.ErrNoImages))
	}

	k := g.topK
	if v, ok := fields["k"]; ok && v.GetNumberValue() >= 1 {
		k = int(v.GetNumberValue())
	}

	res, err := g.matcher.Query(ctx, data, k)
	if err != nil {
		g.logger.Errorf(e.Wrap(op, err), "%s", op)
		return nil, GRPCErrorResponse(e.Wrap(op, err))
	}

	out, err := toGRPCMatchResult(res)
	if err != nil {
		return nil, GRPCErrorResponse(e.Wrap(op, err))
	}
	return out, nil
}

func (g *MatcherService) Health(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	h := g.matcher.Health()
	return structpb.NewStruct(map[string]any{
		"state":         h.State,
		"ready":         h.Ready,
		"index_version": h.IndexVersion,
		"model_version": h.ModelVersion,
		"entries":       h.Entries,
		"products":      h.Products,
	})
}

func toGRPCMatchResult(res *domain.MatchResult) (*structpb.Struct, error) {
	candidates := make([]any, len(res.Candidates))
	for i, c := range res.Candidates {
		candidates[i] = map[string]any{
			"product_id": c.ProductID,
			"url":        c.URL,
			"title":      c.Title,
			"score":      c.Score,
		}
	}
	return structpb.NewStruct(map[string]any{
		"candidates":    candidates,
		"model_version": res.ModelVersion,
		"index_version": res.IndexVersion,
	})
}
