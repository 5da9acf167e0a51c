package api

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

const maxBodySize = 64 << 10

// JSONSerializer encodes echo responses with sonic.
type JSONSerializer struct{}

func (JSONSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (JSONSerializer) Deserialize(c echo.Context, i any) error {
	err := sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(i)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body").SetInternal(err)
	}
	return nil
}

var (
	errEmptyBody    = errors.New("is required")
	errBadGzip      = errors.New("is not valid gzip")
	errBodyTooLarge = fmt.Errorf("exceeds %d bytes", maxBodySize)
)

// decodeBody strictly decodes a JSON request body into dst. Gzip encoded bodies
// are inflated first; the size limit applies to the inflated payload.
func decodeBody(c echo.Context, dst any) error {
	body, err := requestBody(c.Request())
	if err != nil {
		return err
	}
	lr := &io.LimitedReader{R: body, N: maxBodySize + 1}
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	err = dec.Decode(dst)
	switch {
	case lr.N <= 0:
		return errBodyTooLarge
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		return errEmptyBody
	case errors.Is(err, gzip.ErrChecksum), errors.Is(err, gzip.ErrHeader):
		return errBadGzip
	}
	return fmt.Errorf("is not valid JSON: %w", err)
}

func requestBody(r *http.Request) (io.Reader, error) {
	if r.Body == nil {
		return nil, errEmptyBody
	}
	if !hasGzipEncoding(r.Header.Get(echo.HeaderContentEncoding)) {
		return r.Body, nil
	}
	gr, err := gzip.NewReader(r.Body)
	switch {
	case errors.Is(err, io.EOF):
		return nil, errEmptyBody
	case err != nil:
		return nil, errBadGzip
	}
	return gr, nil
}

func hasGzipEncoding(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}
