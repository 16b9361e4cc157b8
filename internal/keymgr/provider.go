package keymgr

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Quote is the raw attestation evidence returned by a quote provider,
// together with the measurement it attests to.
type Quote struct {
	RawQuote    []byte
	Measurement string // hex digest
}

// QuoteProvider produces attestation quotes with caller-chosen report data.
// The hardware path and the deterministic dev/test path implement the same
// interface, so everything downstream treats attestation identically.
type QuoteProvider interface {
	Quote(ctx context.Context, reportData []byte) (*Quote, error)
}

// TDXProvider requests quotes from the TDX quote service over HTTP. The
// service is treated as opaque: it receives the report data and returns the
// quote bytes plus the measurement of the running environment.
type TDXProvider struct {
	Endpoint string
	Client   *http.Client
}

// NewTDXProvider creates a provider pointed at the quote service endpoint.
func NewTDXProvider(endpoint string, timeout time.Duration) *TDXProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TDXProvider{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: timeout},
	}
}

type quoteRequest struct {
	ReportData string `json:"report_data"` // hex
}

type quoteResponse struct {
	Quote       string `json:"quote"` // base64
	Measurement string `json:"measurement"`
}

// Quote requests an attestation quote embedding the given report data.
func (p *TDXProvider) Quote(ctx context.Context, reportData []byte) (*Quote, error) {
	body, err := json.Marshal(quoteRequest{ReportData: hex.EncodeToString(reportData)})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint+"/quote", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("quote service returned %d: %s", resp.StatusCode, b)
	}

	var qr quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, fmt.Errorf("invalid quote service response: %w", err)
	}

	raw, err := decodeB64(qr.Quote)
	if err != nil {
		return nil, fmt.Errorf("invalid quote encoding: %w", err)
	}

	return &Quote{RawQuote: raw, Measurement: qr.Measurement}, nil
}

// FakeProvider produces deterministic quotes for development and tests.
// The quote bytes embed the report data verbatim so the binding check is
// exercised exactly as with real hardware.
type FakeProvider struct {
	Measurement string
}

// Quote returns a synthetic quote carrying the report data.
func (p *FakeProvider) Quote(ctx context.Context, reportData []byte) (*Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw := fmt.Sprintf("fake-quote|%s|%s", p.Measurement, hex.EncodeToString(reportData))
	return &Quote{RawQuote: []byte(raw), Measurement: p.Measurement}, nil
}
