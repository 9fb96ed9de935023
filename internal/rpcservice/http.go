package rpcservice

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/soheilhy/cmux"
	"google.golang.org/genproto/googleapis/api/httpbody"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
)

// HTTPHandler serves /healthz and a read-only JSON view of the formats at
// /v1/formats on a grpc-gateway mux. Errors go through the gateway's error
// handler, so gRPC codes become the matching HTTP status.
func (s *Service) HTTPHandler() http.Handler {
	mux := gwruntime.NewServeMux()
	must(mux.HandlePath(http.MethodGet, "/healthz", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		respond(r.Context(), mux, w, r, &httpbody.HttpBody{ContentType: "text/plain", Data: []byte("ok\n")})
	}))
	must(mux.HandlePath(http.MethodGet, "/v1/formats", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		_, out := gwruntime.MarshalerForRequest(mux, r)
		ctx, err := gwruntime.AnnotateIncomingContext(r.Context(), mux, r, methodFormats)
		if err != nil {
			gwruntime.HTTPError(r.Context(), mux, out, w, r, err)
			return
		}
		if err := s.auth(ctx); err != nil {
			gwruntime.HTTPError(ctx, mux, out, w, r, err)
			return
		}
		ids, err := s.currentFormats()
		if err != nil {
			gwruntime.HTTPError(ctx, mux, out, w, r, toStatus(err))
			return
		}
		respond(ctx, mux, w, r, s.formatList(ids))
	}))
	return mux
}

func respond(ctx context.Context, mux *gwruntime.ServeMux, w http.ResponseWriter, r *http.Request, msg proto.Message) {
	_, out := gwruntime.MarshalerForRequest(mux, r)
	gwruntime.ForwardResponseMessage(ctx, mux, out, w, r, msg)
}

// must panics on a route registration error; the patterns are constants.
func must(err error) {
	if err != nil {
		panic(err)
	}
}

// ServeTCP splits ln between gRPC and HTTP/1.1 and serves both until ln is
// closed.
func ServeTCP(ln net.Listener, grpcSrv *grpc.Server, h http.Handler) error {
	m := cmux.New(ln)
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpL := m.Match(cmux.HTTP1Fast())

	httpSrv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := grpcSrv.Serve(grpcL); err != nil && !closedErr(err) {
			slog.Warn("grpc listener stopped", "err", err)
		}
	}()
	go func() {
		if err := httpSrv.Serve(httpL); err != nil && !closedErr(err) {
			slog.Warn("http listener stopped", "err", err)
		}
	}()
	defer httpSrv.Close()

	if err := m.Serve(); err != nil && !closedErr(err) {
		return err
	}
	return nil
}

func closedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, cmux.ErrListenerClosed) ||
		errors.Is(err, http.ErrServerClosed) ||
		errors.Is(err, grpc.ErrServerStopped)
}
