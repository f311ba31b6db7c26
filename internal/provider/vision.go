package provider

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// visionPrompt instructs the model to describe the image for the companion.
const visionPrompt = `You are the HIGH-PRECISION eyes of NIRA, a warm Indian female friend.
Look AT EVERY DETAIL of this image and describe it for her.

RULES:
1. Be EXTREMELY SPECIFIC. (Mention colors, specific objects, lighting, facial expressions, or text you see).
2. Describe it in warm but clear Hinglish (Mix 70% Hindi, 30% English).
3. Keep it to 2-3 sentences max.
4. NO GENERIC PHRASES like "ye sundar hai" unless you've mentioned specifics first.

Example: "Yaar, ye dark room mein ek blue color ki bottle table par hai, aur lights thodi dim lag rahi hain."
Talk in the present tense as if seeing it right now.`

// minImagePayload is the smallest base64 payload considered a real image.
const minImagePayload = 100

var dataURIPattern = regexp.MustCompile(`^data:(image/[a-zA-Z+]+);base64,`)

// Vision describes images through a Gemini vision model.
type Vision struct {
	gemini *geminiProvider
}

// NewVision creates a vision client sharing the Gemini REST transport.
func NewVision(apiKey string) *Vision {
	return &Vision{gemini: NewGemini(apiKey).(*geminiProvider)}
}

// ParseDataURI splits a data-URI image into its MIME type and cleaned base64
// payload. Payloads without a recognisable header default to image/jpeg.
// Payloads below a minimum plausible size are rejected as malformed.
func ParseDataURI(dataURI string) (ImagePayload, error) {
	mime := "image/jpeg"
	if m := dataURIPattern.FindStringSubmatch(dataURI); m != nil {
		mime = m[1]
	}

	payload := dataURI
	if i := strings.Index(dataURI, ","); i >= 0 {
		payload = dataURI[i+1:]
	}
	payload = strings.Join(strings.Fields(payload), "")

	if len(payload) < minImagePayload {
		return ImagePayload{}, fmt.Errorf("vision: image data too small or malformed")
	}
	return ImagePayload{MIME: mime, Base64: payload}, nil
}

// Describe analyses a base64 image and returns a natural description.
// Provider failures are returned to the caller (diagnostic path).
func (v *Vision) Describe(ctx context.Context, dataURI string) (string, error) {
	img, err := ParseDataURI(dataURI)
	if err != nil {
		return "", err
	}

	parts := []geminiPart{
		{Text: visionPrompt},
		{InlineData: &geminiInlineData{MIMEType: img.MIME, Data: img.Base64}},
	}
	text, err := v.gemini.generateContent(ctx, "gemini-1.5-flash-latest", parts)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("vision: empty description")
	}
	return text, nil
}
