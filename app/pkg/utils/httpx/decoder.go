package httpx

import (
	"compress/flate"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// DecompressResponseBody wraps the response body with the decoder matching its
// Content-Encoding. cleanup must be called once the reader is drained.
func DecompressResponseBody(response *http.Response) (reader io.Reader, cleanup func(), err error) {
	cleanup = func() {}

	switch strings.ToLower(strings.TrimSpace(response.Header.Get("Content-Encoding"))) {
	case "gzip":
		gzReader, gzErr := gzip.NewReader(response.Body)
		if gzErr != nil {
			// an empty gzip body (redirects, 204s) is not an error
			if errors.Is(gzErr, io.EOF) {
				return strings.NewReader(""), cleanup, nil
			}
			return nil, cleanup, gzErr
		}
		return gzReader, func() { gzReader.Close() }, nil
	case "deflate":
		flReader := flate.NewReader(response.Body)
		return flReader, func() { flReader.Close() }, nil
	case "br":
		return brotli.NewReader(response.Body), cleanup, nil
	case "zstd":
		zsReader, zsErr := zstd.NewReader(response.Body)
		if zsErr != nil {
			return nil, cleanup, zsErr
		}
		return zsReader, zsReader.Close, nil
	default:
		return response.Body, cleanup, nil
	}
}

// ReadBody drains and decodes the response body.
func ReadBody(response *http.Response) ([]byte, error) {
	reader, cleanup, err := DecompressResponseBody(response)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return io.ReadAll(reader)
}
