// Package rpcservice exposes a clipboard.Clipboard as the sysclip.v1.Clipboard
// gRPC service. Messages are protobuf well-known types, so the service needs
// no generated code: the ServiceDesc below is written by hand.
package rpcservice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"go.klb.dev/sysclip/internal/clipboard"
	"go.klb.dev/sysclip/internal/format"
	"go.klb.dev/sysclip/internal/native"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "sysclip.v1.Clipboard"

const watchBuffer = 16

// ClipboardServer is the server side of sysclip.v1.Clipboard.
type ClipboardServer interface {
	Copy(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Paste(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	Formats(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	Watch(*emptypb.Empty, WatchServer) error
}

// WatchServer is the server stream of Watch.
type WatchServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

// Service implements ClipboardServer over a Clipboard.
type Service struct {
	c     *clipboard.Clipboard
	token string // empty = no auth
}

// New returns a Service backed by c. token may be empty to disable auth.
func New(c *clipboard.Clipboard, token string) *Service {
	return &Service{c: c, token: token}
}

// Register adds s to srv.
func (s *Service) Register(srv grpc.ServiceRegistrar) {
	srv.RegisterService(&ServiceDesc, s)
}

// Copy publishes the items in req. Each item is {"mime": ..., "data": base64}.
func (s *Service) Copy(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	entries, err := EntriesFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if len(entries) == 0 {
		return &emptypb.Empty{}, nil
	}
	res, err := s.c.SetContents(format.NewPayload(entries...), s)
	if err != nil {
		return nil, toStatus(err)
	}
	slog.Info("clipboard copied",
		"peer", addrFromCtx(ctx),
		"items", len(entries),
		"written", len(res.Written),
		"omitted", len(res.Omitted),
	)
	return &emptypb.Empty{}, nil
}

// LostOwnership is called when contents published through Copy are replaced.
func (s *Service) LostOwnership(c *clipboard.Clipboard, contents format.Payload) {
	slog.Debug("clipboard ownership lost", "clipboard", c.Name(), "flavors", len(contents.Flavors()))
}

// Paste returns the clipboard contents in the requested MIME type, text/plain
// when empty.
func (s *Service) Paste(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	mime := req.GetValue()
	if mime == "" {
		mime = format.TextFlavor.MIME
	}
	f, err := format.ParseFlavor(mime)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	snap, err := s.c.Contents()
	if err != nil {
		return nil, toStatus(err)
	}
	data, err := snap.Data(f)
	if errors.Is(err, format.ErrUnsupportedFlavor) {
		return nil, status.Errorf(codes.NotFound, "no %s on the clipboard", f)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(data), nil
}

// Formats lists the native formats currently on the clipboard.
func (s *Service) Formats(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	if err := s.auth(ctx); err != nil {
		return nil, err
	}
	ids, err := s.currentFormats()
	if err != nil {
		return nil, toStatus(err)
	}
	return s.formatList(ids), nil
}

func (s *Service) currentFormats() ([]native.FormatID, error) {
	var ids []native.FormatID
	err := s.c.With(false, func(sess *clipboard.Session) error {
		var err error
		ids, err = sess.EnumerateFormats()
		return err
	})
	return ids, err
}

func (s *Service) formatList(ids []native.FormatID) *structpb.ListValue {
	infos := Describe(s.c.Table(), ids)
	vals := make([]*structpb.Value, 0, len(infos))
	for _, fi := range infos {
		vals = append(vals, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"id":     structpb.NewNumberValue(float64(fi.ID)),
			"name":   structpb.NewStringValue(fi.Name),
			"flavor": structpb.NewStringValue(fi.Flavor),
		}}))
	}
	return &structpb.ListValue{Values: vals}
}

// Describe names ids using table. Formats without a flavor get an empty Flavor.
func Describe(table format.FlavorTable, ids []native.FormatID) []FormatInfo {
	out := make([]FormatInfo, len(ids))
	for i, id := range ids {
		out[i] = FormatInfo{ID: id, Name: table.Name(id)}
		if f, ok := table.FlavorForFormat(id); ok {
			out[i].Flavor = f.String()
		}
	}
	return out
}

// Watch streams the format set whenever the set of formats on the clipboard
// changes, until the client goes away.
func (s *Service) Watch(_ *emptypb.Empty, stream WatchServer) error {
	ctx := stream.Context()
	if err := s.auth(ctx); err != nil {
		return err
	}

	ch := make(chan []native.FormatID, watchBuffer)
	id, err := s.c.AddFlavorListener(func(formats []native.FormatID) {
		select {
		case ch <- formats:
		default:
			slog.Warn("watch stream behind, dropping change", "peer", addrFromCtx(ctx))
		}
	})
	if err != nil {
		return toStatus(err)
	}
	defer s.c.RemoveFlavorListener(id)

	slog.Info("watch started", "peer", addrFromCtx(ctx))
	defer slog.Info("watch ended", "peer", addrFromCtx(ctx))

	for {
		select {
		case <-ctx.Done():
			return nil
		case formats := <-ch:
			if err := stream.Send(s.changeEvent(formats, time.Now())); err != nil {
				return err
			}
		}
	}
}

func (s *Service) changeEvent(formats []native.FormatID, at time.Time) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"formats": structpb.NewListValue(s.formatList(formats)),
		"at":      structpb.NewStringValue(at.UTC().Format(time.RFC3339Nano)),
	}}
}

// auth validates the bearer token in ctx metadata. Skipped when s.token is empty.
func (s *Service) auth(ctx context.Context) error {
	if s.token == "" {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization header")
	}
	const prefix = "Bearer "
	tok := vals[0]
	if len(tok) > len(prefix) && tok[:len(prefix)] == prefix {
		tok = tok[len(prefix):]
	}
	if tok != s.token {
		return status.Error(codes.Unauthenticated, "invalid token")
	}
	return nil
}

func addrFromCtx(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return "unknown"
}

// toStatus maps clipboard errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, clipboard.ErrResourceBusy),
		errors.Is(err, clipboard.ErrDataUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, format.ErrUnsupportedFlavor),
		errors.Is(err, format.ErrUnsupportedFormat):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, clipboard.ErrClosed):
		return status.Error(codes.Aborted, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// EntriesToStruct encodes payload entries as a Copy request.
func EntriesToStruct(entries []format.Entry) *structpb.Struct {
	items := make([]*structpb.Value, len(entries))
	for i, e := range entries {
		items[i] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"mime": structpb.NewStringValue(e.Flavor.String()),
			"data": structpb.NewStringValue(base64.StdEncoding.EncodeToString(e.Data)),
		}})
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"items": structpb.NewListValue(&structpb.ListValue{Values: items}),
	}}
}

// EntriesFromStruct decodes a Copy request.
func EntriesFromStruct(req *structpb.Struct) ([]format.Entry, error) {
	items := req.GetFields()["items"].GetListValue().GetValues()
	entries := make([]format.Entry, 0, len(items))
	for i, v := range items {
		fields := v.GetStructValue().GetFields()
		f, err := format.ParseFlavor(fields["mime"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		data, err := base64.StdEncoding.DecodeString(fields["data"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("item %d: data: %w", i, err)
		}
		entries = append(entries, format.Entry{Flavor: f, Data: data})
	}
	return entries, nil
}
