package handler

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/ringkv/internal/errors"
	"github.com/devrev/ringkv/internal/metrics"
	"github.com/devrev/ringkv/internal/model"
	"github.com/devrev/ringkv/internal/protocol"
	"github.com/devrev/ringkv/internal/service"
	"github.com/devrev/ringkv/internal/validation"
)

// ConnectionHandler serves the wire protocol on client connections
type ConnectionHandler struct {
	node      *service.StorageService
	validator *validation.Validator
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewConnectionHandler creates a handler backed by node
func NewConnectionHandler(node *service.StorageService, m *metrics.Metrics, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		node:      node,
		validator: validation.NewValidator(),
		metrics:   m,
		logger:    logger,
	}
}

// Serve answers requests on conn, one response per request frame, until
// the peer sends a blank frame, the connection fails, or ctx is done. conn
// is always closed on return.
func (h *ConnectionHandler) Serve(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	logger := h.logger.With(zap.String("remote", remote))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	frames := protocol.NewFrameReader(conn)
	for {
		frame, err := frames.ReadFrame()
		if err != nil {
			if stderrors.Is(err, io.EOF) || stderrors.Is(err, net.ErrClosed) {
				logger.Debug("Connection closed by peer")
			} else {
				logger.Warn("Connection lost", zap.Error(err))
			}
			return
		}
		if protocol.IsBlank(frame) {
			logger.Debug("Blank frame, closing connection")
			return
		}

		logger.Debug("RECEIVE", zap.ByteString("msg", trimForLog(frame)))
		resp := h.Handle(frame)

		payload, err := resp.Encode()
		if err != nil {
			logger.Error("Failed to encode response", zap.Error(err))
			return
		}
		if err := protocol.WriteFrame(conn, payload); err != nil {
			logger.Warn("Failed to send response", zap.Error(err))
			return
		}
		logger.Debug("SEND", zap.ByteString("msg", trimForLog(payload)))
	}
}

// Handle decodes one frame and dispatches it. Frames that do not decode are
// answered with the error status of their operation, or GET_ERROR when the
// operation is unknown.
func (h *ConnectionHandler) Handle(frame []byte) *protocol.Response {
	req, err := protocol.DecodeRequest(frame)
	if err != nil {
		h.logger.Warn("Malformed request", zap.Error(err))
		resp := &protocol.Response{Status: model.StatusGetError}
		if req != nil {
			resp.Key = req.Key
			resp.Status = req.Operation.ErrorStatus()
		}
		h.metrics.RecordRequest("UNKNOWN", string(resp.Status), 0)
		return resp
	}
	return h.Dispatch(req)
}

// Dispatch runs a decoded request against the node
func (h *ConnectionHandler) Dispatch(req *protocol.Request) *protocol.Response {
	start := time.Now()

	var resp *protocol.Response
	switch req.Operation {
	case model.OperationPut:
		resp = h.put(req)
	case model.OperationDelete:
		resp = h.delete(req)
	default:
		resp = h.get(req)
	}

	h.metrics.RecordRequest(string(req.Operation), string(resp.Status), time.Since(start).Seconds())
	return resp
}

func (h *ConnectionHandler) put(req *protocol.Request) *protocol.Response {
	resp := &protocol.Response{Key: req.Key, Value: req.Value}

	if err := h.validator.ValidateWrite(req.Key, req.Value); err != nil {
		h.logger.Warn("Rejected PUT", zap.String("key", req.Key), zap.Error(err))
		resp.Status = model.StatusPutError
		return resp
	}

	existed, err := h.node.Put(req.Key, req.Value)
	switch {
	case err != nil:
		h.logger.Error("PUT failed", zap.String("key", req.Key), zap.Error(err))
		resp.Status = model.StatusPutError
	case existed:
		resp.Status = model.StatusPutUpdate
	default:
		resp.Status = model.StatusPutSuccess
	}
	return resp
}

func (h *ConnectionHandler) get(req *protocol.Request) *protocol.Response {
	resp := &protocol.Response{Key: req.Key}

	if err := h.validator.ValidateKey(req.Key); err != nil {
		h.logger.Warn("Rejected GET", zap.String("key", req.Key), zap.Error(err))
		resp.Status = model.StatusGetError
		return resp
	}

	value, err := h.node.Get(req.Key)
	if err != nil {
		if !errors.IsNotFound(err) {
			h.logger.Error("GET failed", zap.String("key", req.Key), zap.Error(err))
		}
		resp.Status = model.StatusGetError
		return resp
	}

	resp.Status = model.StatusGetSuccess
	resp.Value = value
	return resp
}

func (h *ConnectionHandler) delete(req *protocol.Request) *protocol.Response {
	resp := &protocol.Response{Key: req.Key}

	if err := h.validator.ValidateKey(req.Key); err != nil {
		h.logger.Warn("Rejected DELETE", zap.String("key", req.Key), zap.Error(err))
		resp.Status = model.StatusDeleteError
		return resp
	}

	if _, err := h.node.Delete(req.Key); err != nil {
		h.logger.Error("DELETE failed", zap.String("key", req.Key), zap.Error(err))
		resp.Status = model.StatusDeleteError
		return resp
	}

	resp.Status = model.StatusDeleteSuccess
	return resp
}

const maxLoggedBytes = 256

func trimForLog(b []byte) []byte {
	if len(b) > maxLoggedBytes {
		return b[:maxLoggedBytes]
	}
	return b
}
