package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// DefaultPrintNodeURL is the public PrintNode API.
const DefaultPrintNodeURL = "https://api.printnode.com"

// Ticket is a document for the kitchen printer.
type Ticket struct {
	OrderID string
	Title   string
	Content string
}

// Printer prints kitchen tickets.
type Printer interface {
	PrintTicket(ctx context.Context, t Ticket) error
}

// PrintNodeConfig configures PrintNodeClient.
type PrintNodeConfig struct {
	BaseURL   string
	APIKey    string
	PrinterID int64
	// Source is shown as the job origin in the PrintNode dashboard.
	Source  string
	Timeout time.Duration
	// TracerProvider instruments outgoing requests. Optional.
	TracerProvider trace.TracerProvider
}

// PrintNodeClient submits raw print jobs to PrintNode.
type PrintNodeClient struct {
	baseURL   string
	apiKey    string
	printerID int64
	source    string
	client    *http.Client
}

// NewPrintNodeClient creates a client for cfg.
func NewPrintNodeClient(cfg PrintNodeConfig) (*PrintNodeClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("printnode api key is required")
	}
	if cfg.PrinterID == 0 {
		return nil, errors.New("printnode printer id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultPrintNodeURL
	}
	if cfg.Source == "" {
		cfg.Source = "ordergenie"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	var opts []otelhttp.Option
	if cfg.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}

	return &PrintNodeClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		printerID: cfg.PrinterID,
		source:    cfg.Source,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, opts...),
		},
	}, nil
}

type printJob struct {
	PrinterID   int64  `json:"printerId"`
	Title       string `json:"title"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
	Source      string `json:"source"`
}

// PrintTicket submits t as a raw job to the configured printer.
func (c *PrintNodeClient) PrintTicket(ctx context.Context, t Ticket) error {
	body, err := json.Marshal(printJob{
		PrinterID:   c.printerID,
		Title:       t.Title,
		ContentType: "raw_base64",
		Content:     base64.StdEncoding.EncodeToString([]byte(t.Content)),
		Source:      c.source,
	})
	if err != nil {
		return errors.Wrap(err, "marshal print job")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/printjobs", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.SetBasicAuth(c.apiKey, "")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "submit print job")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &PrintNodeError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// PrintNodeError is a non-2xx response from the PrintNode API.
type PrintNodeError struct {
	StatusCode int
	Message    string
}

func (e *PrintNodeError) Error() string {
	return fmt.Sprintf("printnode: status %d: %s", e.StatusCode, e.Message)
}
