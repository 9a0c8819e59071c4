package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/text/language"
)

const googleTranslateEndpoint = "https://translation.googleapis.com/language/translate/v2"

// GoogleTranslator implements Translator against the Google Cloud
// Translation REST API v2 — the post-step providers without built-in
// translation (Deepgram) fall back to.
type GoogleTranslator struct {
	apiKey string
	client *http.Client
}

// NewGoogleTranslator builds a translator bound to one API key.
func NewGoogleTranslator(apiKey string) *GoogleTranslator {
	return &GoogleTranslator{apiKey: apiKey, client: &http.Client{}}
}

type googleTranslateRequest struct {
	Q      string `json:"q"`
	Target string `json:"target"`
	Format string `json:"format"`
}

type googleTranslateResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText string `json:"translatedText"`
		} `json:"translations"`
	} `json:"data"`
}

// Translate posts text to the Translation API and returns the
// translated text for target. Callers (Worker.maybeTranslate) already
// bound ctx to a 5s timeout.
func (g *GoogleTranslator) Translate(ctx context.Context, text string, target language.Tag) (string, error) {
	body, err := json.Marshal(googleTranslateRequest{Q: text, Target: target.String(), Format: "text"})
	if err != nil {
		return "", fmt.Errorf("transcribe: marshal translate request: %w", err)
	}

	reqURL := googleTranslateEndpoint + "?key=" + url.QueryEscape(g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("transcribe: build translate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: translate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcribe: translate API status %d", resp.StatusCode)
	}

	var result googleTranslateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("transcribe: decode translate response: %w", err)
	}
	if len(result.Data.Translations) == 0 {
		return "", fmt.Errorf("transcribe: translate API returned no translations")
	}
	return result.Data.Translations[0].TranslatedText, nil
}
