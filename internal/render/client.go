package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the HTML to PDF rendering service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

type PageOptions struct {
	Format      string  `json:"format"`
	Orientation string  `json:"orientation"`
	MarginInch  float64 `json:"margin_in"`
}

type PDFRequest struct {
	Title string      `json:"title"`
	HTML  string      `json:"html"`
	Page  PageOptions `json:"page"`
}

// Letter portrait with one inch margins.
var DefaultPage = PageOptions{Format: "letter", Orientation: "portrait", MarginInch: 1}

// RenderPDF sends the document markup and returns the rendered PDF.
func (c *Client) RenderPDF(ctx context.Context, title, markup string) ([]byte, error) {
	url := fmt.Sprintf("%s/render/pdf", c.baseURL)

	body, err := json.Marshal(PDFRequest{Title: title, HTML: markup, Page: DefaultPage})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/pdf")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf(
			"renderer error: status=%d body=%s",
			resp.StatusCode,
			string(b),
		)
	}

	return io.ReadAll(resp.Body)
}

// Ping checks that the renderer answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("renderer health check: status=%d", resp.StatusCode)
	}
	return nil
}
