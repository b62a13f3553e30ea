package proxyhttp

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"
)

// ListenAndServe binds addr and runs the accept loop until ctx is
// cancelled: each accepted connection is classified and handled in its own
// goroutine, detached from the loop. It returns nil once the listener is
// closed (normally by ctx cancellation); any other Accept error is logged
// and the loop keeps accepting.
func (h *Handler) ListenAndServe(ctx context.Context, addr string) error {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	log := h.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("listening", zap.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		log.Info("shutting down listener", zap.String("addr", ln.Addr().String()))
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Error("accept failed", zap.Error(err))
			continue
		}
		go h.Serve(conn)
	}
}
