package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/warp/relief-engine/reasoning"
)

// HTTP calls a remote model that accepts Readings as JSON and answers with a
// reasoning.Prediction.
type HTTP struct {
	url    string
	client *http.Client
}

// NewHTTP creates a client for url. A nil client uses http.DefaultClient;
// deadlines come from the request context.
func NewHTTP(url string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{url: url, client: client}
}

func (h *HTTP) Predict(ctx context.Context, r Readings) (reasoning.Prediction, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return reasoning.Prediction{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return reasoning.Prediction{}, fmt.Errorf("build predictor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return reasoning.Prediction{}, fmt.Errorf("call predictor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return reasoning.Prediction{}, fmt.Errorf("predictor returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var p reasoning.Prediction
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return reasoning.Prediction{}, fmt.Errorf("decode prediction: %w", err)
	}
	return p, nil
}
