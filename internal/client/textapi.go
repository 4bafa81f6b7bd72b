package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/r-file/rfile/internal/textshare"
)

// TextClient talks to the server's text-share JSON API.
type TextClient struct {
	baseURL string
	http    *http.Client
}

func NewTextClient(baseURL string) *TextClient {
	return &TextClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type textEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Share uploads content and returns the retrieval code.
func (c *TextClient) Share(content string, expiresIn int, password string) (textshare.CreateResponse, error) {
	var out textshare.CreateResponse

	body, err := json.Marshal(textshare.CreateRequest{
		Content:   content,
		ExpiresIn: expiresIn,
		Password:  password,
	})
	if err != nil {
		return out, err
	}

	resp, err := c.http.Post(c.baseURL+"/api/text", "application/json", bytes.NewReader(body))
	if err != nil {
		return out, err
	}
	defer func() { _ = resp.Body.Close() }()

	return out, decodeEnvelope(resp, &out)
}

// Fetch retrieves a shared text by code.
func (c *TextClient) Fetch(code, password string) (textshare.GetResponse, error) {
	var out textshare.GetResponse

	target := c.baseURL + "/api/text/" + code
	if password != "" {
		target += "?password=" + url.QueryEscape(password)
	}
	resp, err := c.http.Get(target)
	if err != nil {
		return out, err
	}
	defer func() { _ = resp.Body.Close() }()

	return out, decodeEnvelope(resp, &out)
}

func decodeEnvelope(resp *http.Response, out any) error {
	var envelope textEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decoding server response: %w", err)
	}
	if !envelope.Success {
		if envelope.Error != nil {
			return fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return json.Unmarshal(envelope.Data, out)
}
