package unstructured

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"docvault/internal/worker"
)

// ErrPartitionService covers transport and service-level failures
// (network, auth, quota) of the partition endpoint.
var ErrPartitionService = errors.New("partition service error")

// Client talks to an unstructured-api compatible partition endpoint.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

// Partition sends one file to the partition service and returns the
// extracted elements in document order. With SplitPDFAllowFailed set,
// the service returns whatever it extracted even if some pages failed;
// those partial failures are not surfaced as errors here.
func (c *Client) Partition(ctx context.Context, content []byte, filename string, opts worker.PartitionOptions) ([]worker.Element, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("files", filename)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(content); err != nil {
		return nil, err
	}

	if opts.Strategy != "" {
		if err := mw.WriteField("strategy", opts.Strategy); err != nil {
			return nil, err
		}
	}
	for _, lang := range opts.Languages {
		if err := mw.WriteField("languages", lang); err != nil {
			return nil, err
		}
	}
	if opts.SplitPDFPage {
		if err := mw.WriteField("split_pdf_page", "true"); err != nil {
			return nil, err
		}
		if err := mw.WriteField("split_pdf_allow_failed", strconv.FormatBool(opts.SplitPDFAllowFailed)); err != nil {
			return nil, err
		}
		if opts.SplitPDFConcurrency > 0 {
			if err := mw.WriteField("split_pdf_concurrency_level", strconv.Itoa(opts.SplitPDFConcurrency)); err != nil {
				return nil, err
			}
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("unstructured-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPartitionService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", ErrPartitionService, resp.StatusCode, body)
	}

	var elements []worker.Element
	if err := json.NewDecoder(resp.Body).Decode(&elements); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", ErrPartitionService, err)
	}

	return elements, nil
}
