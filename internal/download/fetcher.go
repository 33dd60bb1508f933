package download

import (
	"context"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/offtrack/offtrack-core/internal/catalog"
	"github.com/offtrack/offtrack-core/internal/network"
)

// Fetcher opens the byte stream of a song, starting at offset when the
// source supports it
type Fetcher interface {
	Fetch(ctx context.Context, song catalog.Song, offset int64) (*network.Stream, error)
}

// URLFunc returns the address of a song's bytes
type URLFunc func(song catalog.Song) (string, error)

// HTTPFetcher fetches songs over HTTP with range resume
type HTTPFetcher struct {
	client  *http.Client
	url     URLFunc
	limiter *rate.Limiter
}

// NewHTTPFetcher creates a fetcher. bandwidthKBps caps the combined rate of
// all fetches; 0 means unlimited.
func NewHTTPFetcher(client *http.Client, url URLFunc, bandwidthKBps int) *HTTPFetcher {
	if client == nil {
		client = network.GetStreamClient(0)
	}
	return &HTTPFetcher{
		client:  client,
		url:     url,
		limiter: network.NewBandwidthLimiter(bandwidthKBps),
	}
}

// Fetch implements Fetcher
func (f *HTTPFetcher) Fetch(ctx context.Context, song catalog.Song, offset int64) (*network.Stream, error) {
	u, err := f.url(song)
	if err != nil {
		return nil, err
	}
	stream, err := network.OpenStream(ctx, f.client, u, offset)
	if err != nil {
		return nil, err
	}
	stream.Body = throttledBody{
		Reader: network.NewThrottledReader(ctx, stream.Body, f.limiter),
		Closer: stream.Body,
	}
	return stream, nil
}

type throttledBody struct {
	io.Reader
	io.Closer
}
