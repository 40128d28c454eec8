package handler

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"vscan/internal/analyzer"
	"vscan/internal/detector"
	"vscan/internal/render"
	"vscan/internal/service"
	"vscan/internal/utils"
)

// AnalyzerServiceName gRPC 服务全名
const AnalyzerServiceName = "vscan.v1.AnalyzerService"

// AnalyzerServiceServer 分析服务接口, 请求与响应均为 google.protobuf.Struct
type AnalyzerServiceServer interface {
	Classify(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Preview(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Analyze(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type structMethod func(AnalyzerServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// unaryHandler 将方法包装成 grpc 方法处理函数 (grpc.MethodDesc.Handler)
func unaryHandler(name string, call structMethod) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AnalyzerServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + AnalyzerServiceName + "/" + name,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(AnalyzerServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AnalyzerServiceDesc 手写的服务描述
var AnalyzerServiceDesc = grpc.ServiceDesc{
	ServiceName: AnalyzerServiceName,
	HandlerType: (*AnalyzerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Classify",
			Handler:    unaryHandler("Classify", AnalyzerServiceServer.Classify),
		},
		{
			MethodName: "Preview",
			Handler:    unaryHandler("Preview", AnalyzerServiceServer.Preview),
		},
		{
			MethodName: "Analyze",
			Handler:    unaryHandler("Analyze", AnalyzerServiceServer.Analyze),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vscan/v1/analyzer.proto",
}

// RegisterAnalyzerService 注册分析服务与健康检查服务
func RegisterAnalyzerService(s *grpc.Server, srv AnalyzerServiceServer) *health.Server {
	s.RegisterService(&AnalyzerServiceDesc, srv)

	healthServer := health.NewServer()
	healthServer.SetServingStatus(AnalyzerServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, healthServer)
	return healthServer
}

// GRPCServer gRPC服务器
type GRPCServer struct {
	sessions *service.SessionService
	logger   *zap.Logger
}

// NewGRPCServer 创建gRPC服务器
func NewGRPCServer(sessions *service.SessionService, logger *zap.Logger) *GRPCServer {
	return &GRPCServer{
		sessions: sessions,
		logger:   logger,
	}
}

// requestURL 从请求中读取 url 字段
func requestURL(req *structpb.Struct) (string, error) {
	v, ok := req.GetFields()["url"]
	if !ok {
		return "", utils.ErrEmptyURL
	}
	url := utils.TrimURL(v.GetStringValue())
	if url == "" {
		return "", utils.ErrEmptyURL
	}
	return url, nil
}

// Classify 对URL进行分类
func (s *GRPCServer) Classify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	url, err := requestURL(req)
	if err != nil {
		return nil, mapErrorToGRPCStatus(err)
	}
	s.logger.Info("Classify request", zap.String("url", url))

	return classificationStruct(s.sessions.Classify(url))
}

// Preview 返回预览区域内容, 无法解析视频ID时返回 FailedPrecondition
func (s *GRPCServer) Preview(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	url, err := requestURL(req)
	if err != nil {
		return nil, mapErrorToGRPCStatus(err)
	}
	s.logger.Info("Preview request", zap.String("url", url))

	c := s.sessions.Classify(url)
	if c.Kind == detector.KindUnrecognizedID {
		return nil, mapErrorToGRPCStatus(utils.ErrUnrecognizedID)
	}

	view := render.Preview(s.sessions.Detector(), c, url)
	return structpb.NewStruct(map[string]interface{}{
		"kind": string(c.Kind),
		"mode": view.Mode,
		"src":  view.Src,
	})
}

// Analyze 返回模拟识别结果, 不等待
func (s *GRPCServer) Analyze(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	url, err := requestURL(req)
	if err != nil {
		return nil, mapErrorToGRPCStatus(err)
	}
	s.logger.Info("Analyze request", zap.String("url", url))

	set := s.sessions.AnalyzeURL(url)
	out, err := detectionsStruct(url, set)
	if err != nil {
		s.logger.Error("Analyze failed", zap.String("url", url), zap.Error(err))
		return nil, mapErrorToGRPCStatus(err)
	}
	return out, nil
}

func classificationStruct(c detector.Classification) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"kind":     string(c.Kind),
		"platform": c.Platform,
		"id":       c.ID,
	})
}

func detectionsStruct(url string, set analyzer.DetectionSet) (*structpb.Struct, error) {
	rows := render.Results(set).Rows
	list := make([]interface{}, len(set))
	for i, d := range set {
		list[i] = map[string]interface{}{
			"label":            d.Label,
			"start_seconds":    d.StartSeconds,
			"duration_seconds": d.DurationSeconds,
			"confidence":       d.Confidence,
			"start":            rows[i].Start,
		}
	}
	return structpb.NewStruct(map[string]interface{}{
		"url":        url,
		"seed":       analyzer.Seed(url),
		"detections": list,
	})
}

// mapErrorToGRPCStatus 将错误映射到gRPC状态码
func mapErrorToGRPCStatus(err error) error {
	switch {
	case errors.Is(err, utils.ErrEmptyURL):
		return status.Error(codes.InvalidArgument, utils.StatusMessage(utils.ErrEmptyURL))
	case errors.Is(err, utils.ErrUnrecognizedID):
		return status.Error(codes.FailedPrecondition, utils.StatusMessage(utils.ErrUnrecognizedID))
	default:
		return status.Error(codes.Internal, "internal server error")
	}
}

// AnalyzerClient gRPC 客户端
type AnalyzerClient struct {
	cc grpc.ClientConnInterface
}

// NewAnalyzerClient 创建客户端
func NewAnalyzerClient(cc grpc.ClientConnInterface) *AnalyzerClient {
	return &AnalyzerClient{cc: cc}
}

func (c *AnalyzerClient) invoke(ctx context.Context, method, url string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]interface{}{"url": url})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+AnalyzerServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Classify 远程分类
func (c *AnalyzerClient) Classify(ctx context.Context, url string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Classify", url, opts...)
}

// Preview 远程预览
func (c *AnalyzerClient) Preview(ctx context.Context, url string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Preview", url, opts...)
}

// Analyze 远程分析
func (c *AnalyzerClient) Analyze(ctx context.Context, url string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Analyze", url, opts...)
}
