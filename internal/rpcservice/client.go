package rpcservice

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"go.klb.dev/sysclip/internal/format"
	"go.klb.dev/sysclip/internal/native"
)

// Client calls sysclip.v1.Clipboard on a connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a Client using cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// FormatInfo describes one native format reported by Formats or Watch.
type FormatInfo struct {
	ID     native.FormatID `json:"id"`
	Name   string          `json:"name"`
	Flavor string          `json:"flavor,omitempty"`
}

// Change is one Watch event.
type Change struct {
	Formats []FormatInfo `json:"formats"`
	At      time.Time    `json:"at"`
}

// Copy publishes entries on the remote clipboard.
func (c *Client) Copy(ctx context.Context, entries []format.Entry, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, methodCopy, EntriesToStruct(entries), new(emptypb.Empty), opts...)
}

// Paste returns the remote clipboard in mime. found is false when the
// clipboard holds nothing in that type.
func (c *Client) Paste(ctx context.Context, mime string, opts ...grpc.CallOption) (data []byte, found bool, err error) {
	out := new(wrapperspb.BytesValue)
	err = c.cc.Invoke(ctx, methodPaste, wrapperspb.String(mime), out, opts...)
	if status.Code(err) == codes.NotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out.GetValue(), true, nil
}

// Formats lists the formats on the remote clipboard.
func (c *Client) Formats(ctx context.Context, opts ...grpc.CallOption) ([]FormatInfo, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, methodFormats, new(emptypb.Empty), out, opts...); err != nil {
		return nil, err
	}
	return formatInfos(out), nil
}

// Watch calls fn for every change until ctx is cancelled or the stream fails.
func (c *Client) Watch(ctx context.Context, fn func(Change), opts ...grpc.CallOption) error {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], methodWatch, opts...)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(new(emptypb.Empty)); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		ev := new(structpb.Struct)
		if err := stream.RecvMsg(ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fields := ev.GetFields()
		at, err := time.Parse(time.RFC3339Nano, fields["at"].GetStringValue())
		if err != nil {
			return fmt.Errorf("watch: bad timestamp: %w", err)
		}
		fn(Change{Formats: formatInfos(fields["formats"].GetListValue()), At: at})
	}
}

// IsBusy reports whether err means the clipboard was momentarily held and
// the call may be retried.
func IsBusy(err error) bool {
	return status.Code(err) == codes.Unavailable
}

func formatInfos(l *structpb.ListValue) []FormatInfo {
	vals := l.GetValues()
	out := make([]FormatInfo, 0, len(vals))
	for _, v := range vals {
		f := v.GetStructValue().GetFields()
		out = append(out, FormatInfo{
			ID:     native.FormatID(f["id"].GetNumberValue()),
			Name:   f["name"].GetStringValue(),
			Flavor: f["flavor"].GetStringValue(),
		})
	}
	return out
}

// TokenCredentials attaches a bearer token to every call.
type TokenCredentials string

func (t TokenCredentials) GetRequestMetadata(_ context.Context, _ ...string) (map[string]string, error) {
	if t == "" {
		return nil, nil
	}
	return map[string]string{"authorization": "Bearer " + string(t)}, nil
}

func (t TokenCredentials) RequireTransportSecurity() bool { return false }
