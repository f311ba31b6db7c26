// Package tts synthesizes speech through the Sarvam AI text-to-speech API.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const sarvamURL = "https://api.sarvam.ai/text-to-speech"

// maxChunkChars is the per-input character limit accepted by the API.
const maxChunkChars = 500

// v2Speakers maps the public voice names to the legacy speakers the
// bulbul:v2 model actually supports.
var v2Speakers = map[string]string{
	"priya": "anushka", "ritu": "anushka", "pooja": "manisha",
	"neha": "vidya", "simran": "arya", "kavya": "anushka",
	"rohan": "abhilash", "aditya": "abhilash", "rahul": "karun",
	"amit": "hitesh", "dev": "karun", "varun": "hitesh",
}

const defaultSpeaker = "anushka"

// Client calls the Sarvam text-to-speech endpoint.
type Client struct {
	apiKey string
	http   *http.Client
}

// NewClient creates a TTS client. The key is trimmed and stripped of
// surrounding quotes, which some deploy environments add to env vars.
func NewClient(apiKey string) *Client {
	apiKey = strings.TrimSpace(apiKey)
	apiKey = strings.Trim(apiKey, `"'`)
	return &Client{
		apiKey: apiKey,
		http:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type sarvamRequest struct {
	Inputs             []string `json:"inputs"`
	TargetLanguageCode string   `json:"target_language_code"`
	Speaker            string   `json:"speaker"`
	Model              string   `json:"model"`
	Pace               float64  `json:"pace"`
	SpeechSampleRate   int      `json:"speech_sample_rate"`
}

type sarvamResponse struct {
	Audios []string `json:"audios"`
}

// Synthesize converts text into one or more base64 audio payloads, in
// playback order. Long texts are split into sentence-aligned chunks under
// the API's per-input limit.
func (c *Client) Synthesize(ctx context.Context, text, languageCode, speaker string) ([]string, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("tts: api key missing")
	}

	cleaned := CleanText(text)
	if strings.TrimSpace(cleaned) == "" {
		return nil, fmt.Errorf("tts: nothing to speak after sanitization")
	}
	if languageCode == "" {
		languageCode = "hi-IN"
	}

	body, err := json.Marshal(sarvamRequest{
		Inputs:             ChunkText(cleaned, maxChunkChars),
		TargetLanguageCode: languageCode,
		Speaker:            MapSpeaker(speaker),
		Model:              "bulbul:v2",
		Pace:               1.1,
		SpeechSampleRate:   16000,
	})
	if err != nil {
		return nil, fmt.Errorf("tts: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sarvamURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tts: build request: %w", err)
	}
	req.Header.Set("api-subscription-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out sarvamResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("tts: decode response: %w", err)
	}
	if len(out.Audios) == 0 {
		return nil, fmt.Errorf("tts: empty audio in response")
	}
	return out.Audios, nil
}

// MapSpeaker resolves a public voice name to a bulbul:v2 speaker,
// defaulting when unknown.
func MapSpeaker(speaker string) string {
	if mapped, ok := v2Speakers[strings.ToLower(speaker)]; ok {
		return mapped
	}
	return defaultSpeaker
}

var (
	urlTagPattern = regexp.MustCompile(`(?is)<URL>.*?</URL>`)
	nakedURL      = regexp.MustCompile(`(?i)https?://\S+`)
	brackets      = regexp.MustCompile(`[\[\]()]`)
)

// tldReplacer spells out common domain endings so the voice does not read
// them letter by letter.
var tldReplacer = strings.NewReplacer(
	".com", " dot com", ".Com", " dot com", ".COM", " dot com",
	".in", " dot in", ".In", " dot in",
	".org", " dot org", ".Org", " dot org",
	".net", " dot net", ".Net", " dot net",
	".app", " dot app", ".App", " dot app",
	".vercel", " dot vercel",
	".ai", " dot ai", ".Ai", " dot ai",
)

// CleanText strips markup and URLs that sound robotic when spoken.
func CleanText(text string) string {
	if text == "" {
		return text
	}
	text = urlTagPattern.ReplaceAllString(text, "Link")
	text = nakedURL.ReplaceAllString(text, "")
	text = brackets.ReplaceAllString(text, " ")
	text = tldReplacer.Replace(text)
	text = strings.ReplaceAll(text, "/", " ")
	text = strings.ReplaceAll(text, "-", " ")
	text = strings.ReplaceAll(text, "_", " ")
	return text
}

// sentenceEnd marks characters that close a sentence for chunking purposes.
func sentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '\n' || r == '।'
}

// ChunkText splits text into pieces of at most limit characters, preferring
// sentence boundaries and falling back to word boundaries, then a hard cut.
func ChunkText(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := -1
		for i, r := range text[:limit] {
			if sentenceEnd(r) {
				cut = i + len(string(r))
			}
		}
		if cut <= 0 {
			if i := strings.LastIndexByte(text[:limit], ' '); i > 0 {
				cut = i
			} else {
				cut = limit
			}
		}
		piece := strings.TrimSpace(text[:cut])
		if piece != "" {
			chunks = append(chunks, piece)
		}
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
