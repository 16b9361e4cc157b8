// Package boardroom provides a client for the boardroom agent trust hub.
package boardroom

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
)

// Client is a boardroom hub API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	Identity   string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	HTTPClient *http.Client
}

// Config holds agent credentials persisted between runs.
type Config struct {
	Identity  string `json:"identity"`
	PublicKey string `json:"public_key"`
}

// NewClient creates a new client. Credentials are loaded from the config
// directory if present.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("BOARDROOM_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".boardroom")
	}

	c := &Client{
		BaseURL:    baseURL,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadConfig()
	return c
}

// LoadConfig loads agent credentials from disk.
func (c *Client) LoadConfig() error {
	configFile := filepath.Join(c.ConfigDir, "agent.json")
	keyFile := filepath.Join(c.ConfigDir, "private.key")

	data, err := os.ReadFile(configFile)
	if err != nil {
		return err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}

	keyData, err := os.ReadFile(keyFile)
	if err != nil {
		return err
	}

	privBytes, err := base64.StdEncoding.DecodeString(string(keyData))
	if err != nil {
		return err
	}

	c.Identity = config.Identity
	c.PrivateKey = ed25519.NewKeyFromSeed(privBytes)
	c.PublicKey = c.PrivateKey.Public().(ed25519.PublicKey)

	return nil
}

// SaveConfig saves agent credentials to disk.
func (c *Client) SaveConfig() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	config := Config{
		Identity:  c.Identity,
		PublicKey: base64.StdEncoding.EncodeToString(c.PublicKey),
	}

	data, _ := json.MarshalIndent(config, "", "  ")
	if err := os.WriteFile(filepath.Join(c.ConfigDir, "agent.json"), data, 0600); err != nil {
		return err
	}

	seed := c.PrivateKey.Seed()
	keyData := base64.StdEncoding.EncodeToString(seed)
	return os.WriteFile(filepath.Join(c.ConfigDir, "private.key"), []byte(keyData), 0600)
}

// GenerateKeypair generates a new Ed25519 keypair.
func (c *Client) GenerateKeypair() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	c.PublicKey = pub
	c.PrivateKey = priv
	return nil
}

// signRequest creates authentication headers for a request.
func (c *Client) signRequest(body []byte) http.Header {
	hash := sha256.Sum256(body)
	hashHex := hex.EncodeToString(hash[:])

	nonceBytes := make([]byte, 16)
	rand.Read(nonceBytes)
	nonce := hex.EncodeToString(nonceBytes)

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	payload := fmt.Sprintf("%s|%s|%s", hashHex, nonce, timestamp)
	sig := ed25519.Sign(c.PrivateKey, []byte(payload))

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("X-Boardroom-Agent", c.Identity)
	headers.Set("X-Boardroom-Nonce", nonce)
	headers.Set("X-Boardroom-Timestamp", timestamp)
	headers.Set("X-Boardroom-Signature", base64.StdEncoding.EncodeToString(sig))
	return headers
}

// doRequest performs an HTTP request.
func (c *Client) doRequest(method, path string, body []byte, signed bool) ([]byte, error) {
	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	if signed {
		req.Header = c.signRequest(body)
	} else {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("hub error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

// AttestationStatement is the evidence submitted at registration.
type AttestationStatement struct {
	Measurement    string    `json:"measurement"`
	BoundPublicKey string    `json:"bound_public_key"`
	ReportData     string    `json:"report_data"`
	RawQuote       string    `json:"raw_quote"`
	IssuedAt       time.Time `json:"issued_at"`
}

// QuoteFunc obtains raw quote bytes and a measurement for the given
// report data, typically from a local TEE quote service.
type QuoteFunc func(reportData []byte) (rawQuote []byte, measurement string, err error)

// DevQuote returns a QuoteFunc that fabricates quotes carrying the given
// measurement. It matches the hub's development quote provider and is
// only useful against a hub running without real attestation hardware.
func DevQuote(measurement string) QuoteFunc {
	return func(reportData []byte) ([]byte, string, error) {
		raw := fmt.Sprintf("fake-quote|%s|%s", measurement, hex.EncodeToString(reportData))
		return []byte(raw), measurement, nil
	}
}

// Attest produces an attestation statement binding the client's public key.
func (c *Client) Attest(quote QuoteFunc) (*AttestationStatement, error) {
	if c.PublicKey == nil {
		return nil, fmt.Errorf("no keypair; call GenerateKeypair first")
	}

	digest := sha256.Sum256(c.PublicKey)
	reportData := digest[:]

	raw, measurement, err := quote(reportData)
	if err != nil {
		return nil, fmt.Errorf("quote failed: %w", err)
	}

	return &AttestationStatement{
		Measurement:    measurement,
		BoundPublicKey: base64.StdEncoding.EncodeToString(c.PublicKey),
		ReportData:     hex.EncodeToString(reportData),
		RawQuote:       base64.StdEncoding.EncodeToString(raw),
		IssuedAt:       time.Now().UTC(),
	}, nil
}

// RegisterRequest is the request body for agent registration.
type RegisterRequest struct {
	Identity     string                `json:"identity"`
	AgentType    string                `json:"agent_type"`
	Capabilities []string              `json:"capabilities"`
	Endpoint     string                `json:"endpoint"`
	Attestation  *AttestationStatement `json:"attestation"`
}

// RegisterResponse is the response from agent registration.
type RegisterResponse struct {
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	Identity   string `json:"identity,omitempty"`
	ExpiresAt  string `json:"expires_at,omitempty"`
	ProfileURL string `json:"profile_url,omitempty"`
}

// Register generates a keypair if needed, attests it and registers with
// the hub. On success credentials are persisted to the config directory.
func (c *Client) Register(identity, agentType string, capabilities []string, endpoint string, quote QuoteFunc) (*RegisterResponse, error) {
	if c.PrivateKey == nil {
		if err := c.GenerateKeypair(); err != nil {
			return nil, err
		}
	}

	stmt, err := c.Attest(quote)
	if err != nil {
		return nil, err
	}

	req := RegisterRequest{
		Identity:     identity,
		AgentType:    agentType,
		Capabilities: capabilities,
		Endpoint:     endpoint,
		Attestation:  stmt,
	}

	body, _ := json.Marshal(req)
	respBody, err := c.doRequest("POST", "/register", body, false)
	if err != nil {
		return nil, err
	}

	var resp RegisterResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}

	c.Identity = identity
	if err := c.SaveConfig(); err != nil {
		return nil, err
	}

	return &resp, nil
}

// Heartbeat refreshes the agent's last-seen time at the hub.
func (c *Client) Heartbeat() error {
	_, err := c.doRequest("POST", "/agents/"+c.Identity+"/heartbeat", nil, true)
	return err
}

// Deregister removes the agent from the registry.
func (c *Client) Deregister() error {
	_, err := c.doRequest("DELETE", "/agents/"+c.Identity, nil, true)
	return err
}

// AgentProfile represents a verified agent's public profile.
type AgentProfile struct {
	Identity     string   `json:"identity"`
	AgentType    string   `json:"agent_type"`
	Capabilities []string `json:"capabilities"`
	Endpoint     string   `json:"endpoint"`
	PublicKey    string   `json:"public_key"`
	VerifiedAt   string   `json:"verified_at"`
	ExpiresAt    string   `json:"expires_at"`
	Online       bool     `json:"online"`
}

// GetAgent gets an agent's profile.
func (c *Client) GetAgent(identity string) (*AgentProfile, error) {
	respBody, err := c.doRequest("GET", "/who/"+identity, nil, false)
	if err != nil {
		return nil, err
	}

	var resp AgentProfile
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DirectoryEntry is one row of the agent directory.
type DirectoryEntry struct {
	Identity     string   `json:"identity"`
	AgentType    string   `json:"agent_type"`
	Capabilities []string `json:"capabilities"`
	Endpoint     string   `json:"endpoint"`
	Online       bool     `json:"online"`
}

// DirectoryResponse is the response from the directory endpoint.
type DirectoryResponse struct {
	Agents []DirectoryEntry `json:"agents"`
	Total  int              `json:"total"`
}

// Directory lists verified agents, optionally filtered by capability.
func (c *Client) Directory(capability string) (*DirectoryResponse, error) {
	path := "/directory"
	if capability != "" {
		path += "?capability=" + url.QueryEscape(capability)
	}

	respBody, err := c.doRequest("GET", path, nil, false)
	if err != nil {
		return nil, err
	}

	var resp DirectoryResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RouteResponse is a routing decision from the hub.
type RouteResponse struct {
	RoutingID string   `json:"routing_id"`
	Target    string   `json:"target"`
	AgentType string   `json:"agent_type"`
	Endpoint  string   `json:"endpoint"`
	Score     float64  `json:"score"`
	Chain     []string `json:"chain"`
}

// Route asks the hub for the best agent for a capability.
func (c *Client) Route(capability string, chain []string) (*RouteResponse, error) {
	body, _ := json.Marshal(map[string]interface{}{
		"capability": capability,
		"chain":      chain,
	})

	respBody, err := c.doRequest("POST", "/route", body, true)
	if err != nil {
		return nil, err
	}

	var resp RouteResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RouteResult reports the outcome of a routed collaboration.
func (c *Client) RouteResult(routingID string, success bool) error {
	body, _ := json.Marshal(map[string]bool{"success": success})
	_, err := c.doRequest("POST", "/route/"+routingID+"/result", body, true)
	return err
}

// SignedMessage is the envelope exchanged through the hub relay.
type SignedMessage struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Payload   string `json:"payload"`
	Encrypted bool   `json:"encrypted"`
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"ts"`
	Signature string `json:"sig"`
}

// envelopePayload is the canonical signed data for an envelope.
func envelopePayload(sender, recipient, kind, payloadHash, nonce string, timestamp int64) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s|%s|%d", sender, recipient, kind, payloadHash, nonce, timestamp))
}

// Send encrypts a payload for the recipient's verified key, signs the
// envelope and submits it to the hub relay. The hub queues the envelope
// without being able to read it.
func (c *Client) Send(recipient, kind string, payload []byte) (*SignedMessage, error) {
	profile, err := c.GetAgent(recipient)
	if err != nil {
		return nil, fmt.Errorf("recipient lookup: %w", err)
	}

	ciphertext, err := EncryptPayload(payload, profile.PublicKey)
	if err != nil {
		return nil, err
	}

	nonceBytes := make([]byte, 16)
	rand.Read(nonceBytes)
	nonce := hex.EncodeToString(nonceBytes)
	ts := time.Now().UnixMilli()

	hash := sha256.Sum256([]byte(ciphertext))
	payloadHash := hex.EncodeToString(hash[:])
	sig := ed25519.Sign(c.PrivateKey, envelopePayload(c.Identity, recipient, kind, payloadHash, nonce, ts))

	msg := &SignedMessage{
		ID:        ulid.Make().String(),
		Kind:      kind,
		Sender:    c.Identity,
		Recipient: recipient,
		Payload:   ciphertext,
		Encrypted: true,
		Nonce:     nonce,
		Timestamp: ts,
		Signature: base64.StdEncoding.EncodeToString(sig),
	}

	body, _ := json.Marshal(msg)
	if _, err := c.doRequest("POST", "/relay", body, true); err != nil {
		return nil, err
	}
	return msg, nil
}

// Inbox drains envelopes queued for this agent at the hub.
func (c *Client) Inbox() ([]SignedMessage, error) {
	respBody, err := c.doRequest("GET", "/inbox", nil, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Messages []SignedMessage `json:"messages"`
		Count    int             `json:"count"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Open verifies an envelope against the sender's registered key and
// decrypts the payload. The sender's key is fetched from the hub, so a
// sender whose registration expired fails verification here too.
func (c *Client) Open(msg *SignedMessage) ([]byte, error) {
	profile, err := c.GetAgent(msg.Sender)
	if err != nil {
		return nil, fmt.Errorf("sender unverified: %w", err)
	}

	senderPub, err := base64.StdEncoding.DecodeString(profile.PublicKey)
	if err != nil || len(senderPub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("sender has invalid registered key")
	}

	hash := sha256.Sum256([]byte(msg.Payload))
	payloadHash := hex.EncodeToString(hash[:])
	signed := envelopePayload(msg.Sender, msg.Recipient, msg.Kind, payloadHash, msg.Nonce, msg.Timestamp)

	sig, err := base64.StdEncoding.DecodeString(msg.Signature)
	if err != nil || !ed25519.Verify(ed25519.PublicKey(senderPub), signed, sig) {
		return nil, fmt.Errorf("envelope signature invalid")
	}

	if !msg.Encrypted {
		return []byte(msg.Payload), nil
	}
	return DecryptPayload(msg.Payload, c.PrivateKey)
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Agents    int                    `json:"agents"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks hub health.
func (c *Client) Health() (*HealthResponse, error) {
	respBody, err := c.doRequest("GET", "/health", nil, false)
	if err != nil {
		return nil, err
	}

	var resp HealthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
