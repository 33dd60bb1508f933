package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	apperrors "github.com/offtrack/offtrack-core/internal/errors"
)

// Stream is an open response body positioned at Offset
type Stream struct {
	Body io.ReadCloser
	// Offset is where Body starts; 0 when the server ignored the range
	Offset int64
	// Total is the full resource size, or -1 when unknown
	Total int64
}

// Resumed reports whether the server honoured the requested range
func (s *Stream) Resumed() bool {
	return s.Offset > 0
}

// OpenStream issues a GET for url, asking for bytes from offset onwards when
// offset > 0. A server answering 200 to a range request restarts from zero.
func OpenStream(ctx context.Context, client *http.Client, url string, offset int64) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("failed to create request: %v", err))
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.NewCancelledError("stream request cancelled")
		}
		return nil, apperrors.NewNetworkError("stream request failed", err)
	}

	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		total := totalFromContentRange(resp.Header.Get("Content-Range"))
		if total < 0 && resp.ContentLength >= 0 {
			total = offset + resp.ContentLength
		}
		return &Stream{Body: resp.Body, Offset: offset, Total: total}, nil
	case resp.StatusCode == http.StatusOK:
		return &Stream{Body: resp.Body, Offset: 0, Total: resp.ContentLength}, nil
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// partial already holds the whole resource
		resp.Body.Close()
		total := totalFromContentRange(resp.Header.Get("Content-Range"))
		if total == offset {
			return &Stream{Body: http.NoBody, Offset: offset, Total: total}, nil
		}
		return nil, apperrors.NewRemoteError("range not satisfiable", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, apperrors.NewNotFoundError("stream not found")
	default:
		resp.Body.Close()
		return nil, apperrors.NewRemoteError(fmt.Sprintf("stream failed with status: %d", resp.StatusCode), resp.StatusCode)
	}
}

// totalFromContentRange parses the size of "bytes a-b/size" or "bytes */size"
func totalFromContentRange(header string) int64 {
	i := strings.LastIndexByte(header, '/')
	if i < 0 || header[i+1:] == "*" {
		return -1
	}
	n, err := strconv.ParseInt(header[i+1:], 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// ThrottledReader limits reads from R to the rate of Limiter in bytes
type ThrottledReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

// NewThrottledReader wraps r. A nil limiter returns r unchanged.
func NewThrottledReader(ctx context.Context, r io.Reader, limiter *rate.Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &ThrottledReader{ctx: ctx, r: r, limiter: limiter}
}

// NewBandwidthLimiter returns a limiter for kbps kilobytes per second, nil
// for no limit
func NewBandwidthLimiter(kbps int) *rate.Limiter {
	if kbps <= 0 {
		return nil
	}
	bytesPerSecond := kbps * 1024
	return rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)
}

func (t *ThrottledReader) Read(p []byte) (int, error) {
	if burst := t.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
