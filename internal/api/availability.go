package api

import (
	"context"
	"errors"
	"strings"

	"kajabook/internal/domain"
	"kajabook/internal/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	availabilityServiceName = "kajabook.availability.v1.AvailabilityService"

	maxBulkSlotIDs = 200
)

// AvailabilityReader is the read side of the reservation service.
type AvailabilityReader interface {
	Availability(ctx context.Context, slotID string) (*models.SlotAvailability, error)
	AvailabilityBulk(ctx context.Context, ids []string) ([]models.SlotAvailability, error)
	DayView(ctx context.Context, dateKey string) ([]models.SlotAvailability, error)
}

// AvailabilityService answers seat questions over gRPC. Messages are
// protobuf well-known types: ids and date keys travel as StringValue, slots
// come back as Struct.
type AvailabilityService struct {
	reader AvailabilityReader
}

func NewAvailabilityService(reader AvailabilityReader) *AvailabilityService {
	return &AvailabilityService{reader: reader}
}

// GetSlotAvailability reports one slot.
func (s *AvailabilityService) GetSlotAvailability(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	slotID := strings.TrimSpace(req.GetValue())
	if slotID == "" {
		return nil, status.Error(codes.InvalidArgument, "slot_id is required")
	}
	view, err := s.reader.Availability(ctx, slotID)
	if err != nil {
		return nil, grpcError(err)
	}
	return availabilityStruct(*view)
}

// GetAvailabilityBulk reports every known slot among the ids; unknown ids are skipped.
func (s *AvailabilityService) GetAvailabilityBulk(ctx context.Context, req *structpb.ListValue) (*structpb.ListValue, error) {
	values := req.GetValues()
	if len(values) == 0 {
		return nil, status.Error(codes.InvalidArgument, "slot_ids is required")
	}
	if len(values) > maxBulkSlotIDs {
		return nil, status.Errorf(codes.InvalidArgument, "at most %d slot_ids per call", maxBulkSlotIDs)
	}
	ids := make([]string, 0, len(values))
	for _, v := range values {
		id, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok || strings.TrimSpace(id.StringValue) == "" {
			return nil, status.Error(codes.InvalidArgument, "slot_ids must be non-empty strings")
		}
		ids = append(ids, strings.TrimSpace(id.StringValue))
	}

	views, err := s.reader.AvailabilityBulk(ctx, ids)
	if err != nil {
		return nil, grpcError(err)
	}
	return availabilityList(views)
}

// ListDayAvailability reports every slot of a YYYY-MM-DD day.
func (s *AvailabilityService) ListDayAvailability(ctx context.Context, req *wrapperspb.StringValue) (*structpb.ListValue, error) {
	dateKey := strings.TrimSpace(req.GetValue())
	if dateKey == "" {
		return nil, status.Error(codes.InvalidArgument, "date_key is required")
	}
	views, err := s.reader.DayView(ctx, dateKey)
	if err != nil {
		return nil, grpcError(err)
	}
	return availabilityList(views)
}

func availabilityStruct(v models.SlotAvailability) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(map[string]any{
		"slotId":      v.ID,
		"dateKey":     v.DateKey,
		"startMin":    v.StartMin,
		"endMin":      v.EndMin,
		"capacity":    v.Capacity,
		"cancelled":   v.Cancelled,
		"bookedCount": v.BookedCount,
		"available":   v.Available,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode availability: %v", err)
	}
	return st, nil
}

func availabilityList(views []models.SlotAvailability) (*structpb.ListValue, error) {
	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(views))}
	for _, v := range views {
		st, err := availabilityStruct(v)
		if err != nil {
			return nil, err
		}
		out.Values = append(out.Values, structpb.NewStructValue(st))
	}
	return out, nil
}

// grpcError maps the service error taxonomy onto gRPC codes. Storage details stay in the logs.
func grpcError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrCapacityExceeded):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

type availabilityServer interface {
	GetSlotAvailability(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	GetAvailabilityBulk(context.Context, *structpb.ListValue) (*structpb.ListValue, error)
	ListDayAvailability(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error)
}

// RegisterAvailabilityService attaches svc to s under availabilityServiceName.
func RegisterAvailabilityService(s grpc.ServiceRegistrar, svc *AvailabilityService) {
	s.RegisterService(&availabilityServiceDesc, svc)
}

var availabilityServiceDesc = grpc.ServiceDesc{
	ServiceName: availabilityServiceName,
	HandlerType: (*availabilityServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSlotAvailability", Handler: unaryHandler(
			func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) },
			func(srv availabilityServer) func(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
				return srv.GetSlotAvailability
			},
			"GetSlotAvailability")},
		{MethodName: "GetAvailabilityBulk", Handler: unaryHandler(
			func() *structpb.ListValue { return new(structpb.ListValue) },
			func(srv availabilityServer) func(context.Context, *structpb.ListValue) (*structpb.ListValue, error) {
				return srv.GetAvailabilityBulk
			},
			"GetAvailabilityBulk")},
		{MethodName: "ListDayAvailability", Handler: unaryHandler(
			func() *wrapperspb.StringValue { return new(wrapperspb.StringValue) },
			func(srv availabilityServer) func(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error) {
				return srv.ListDayAvailability
			},
			"ListDayAvailability")},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "kajabook/availability/v1/availability.proto",
}

// unaryHandler builds the grpc.MethodDesc handler that decodes Req, runs the
// interceptor chain and calls the bound method.
func unaryHandler[Req, Resp any](
	newReq func() Req,
	bind func(availabilityServer) func(context.Context, Req) (Resp, error),
	method string,
) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		call := bind(srv.(availabilityServer))
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + availabilityServiceName + "/" + method,
		}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(ctx, req.(Req))
		})
	}
}
