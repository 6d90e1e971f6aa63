package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/npezzotti/go-roomrelay/internal/types"
)

// HTTPClassifier asks an external service for a verdict. The service
// receives {"text": ...} and answers with a classification document. When
// the answer cannot be decoded and a Fallback is set, the fallback decides.
type HTTPClassifier struct {
	URL      string
	Client   *http.Client
	Fallback Classifier
}

var _ Classifier = (*HTTPClassifier)(nil)

type classifyRequest struct {
	Text string `json:"text"`
}

func (h *HTTPClassifier) Classify(ctx context.Context, text string) (types.Classification, error) {
	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return types.Classification{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return types.Classification{}, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return types.Classification{}, fmt.Errorf("classify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return types.Classification{}, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var c types.Classification
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		if h.Fallback != nil {
			return h.Fallback.Classify(ctx, text)
		}
		return types.Classification{}, fmt.Errorf("decode classification: %w", err)
	}
	return c, nil
}
