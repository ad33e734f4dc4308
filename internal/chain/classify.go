package chain

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"

	"github.com/MateoOdt/DigitalMedia2/pkg/errno"

	"github.com/ethereum/go-ethereum/rpc"
)

// Classify 把一次 RPC 调用的错误归类:
//   - 调用方 ctx 已取消/超时: 原样返回，交给调用方处理
//   - 单次调用超时: errno.ErrTimeout
//   - 节点返回的 JSON-RPC error 对象 / 非 429、5xx 的 HTTP 状态: errno.ErrRPCProtocol (致命)
//   - 连接拒绝、重置、EOF、429、5xx: errno.ErrTransientRPC (可重试)
func Classify(parent context.Context, method string, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errno.Wrap(method, errno.ErrTimeout, err)
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= http.StatusInternalServerError {
			return errno.Wrap(method, errno.ErrTransientRPC, err)
		}
		return errno.Wrap(method, errno.ErrRPCProtocol, err)
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return errno.Wrap(method, errno.ErrRPCProtocol, err)
	}

	if isTransport(err) {
		return errno.Wrap(method, errno.ErrTransientRPC, err)
	}

	return errno.Wrap(method, errno.ErrRPCProtocol, err)
}

func isTransport(err error) bool {
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, rpc.ErrClientQuit) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// IsRetryable 轮询时可以继续重试的错误
func IsRetryable(err error) bool {
	return errors.Is(err, errno.ErrTransientRPC) || errors.Is(err, errno.ErrTimeout)
}
