package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode"
)

const (
	defaultGoogleBaseURL = "https://translate.google.com"
	googleChunkLimit     = 100
)

// googleBackend speaks through the public Translate TTS endpoint. Long text
// is split into chunks the endpoint accepts and the MP3 frames are written
// back to back.
type googleBackend struct {
	baseURL string
	http    *http.Client
}

func NewGoogleBackend(baseURL string, client *http.Client) Backend {
	if baseURL == "" {
		baseURL = defaultGoogleBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &googleBackend{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

func (g *googleBackend) Format() string { return "mp3" }

func (g *googleBackend) Render(ctx context.Context, req Request, w io.Writer) error {
	lang := req.Language
	if lang == "" {
		lang = "ko"
	}
	speed := "1"
	if req.Slow {
		speed = "0.3"
	}
	chunks := splitText(req.Text, googleChunkLimit)
	for i, chunk := range chunks {
		q := url.Values{}
		q.Set("ie", "UTF-8")
		q.Set("client", "tw-ob")
		q.Set("tl", lang)
		q.Set("q", chunk)
		q.Set("ttsspeed", speed)
		q.Set("total", strconv.Itoa(len(chunks)))
		q.Set("idx", strconv.Itoa(i))
		q.Set("textlen", strconv.Itoa(len([]rune(chunk))))

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/translate_tts?"+q.Encode(), nil)
		if err != nil {
			return err
		}
		httpReq.Header.Set("User-Agent", "Mozilla/5.0 (compatible; loqa-voice)")
		httpReq.Header.Set("Referer", g.baseURL+"/")

		if err := g.fetch(httpReq, w); err != nil {
			return fmt.Errorf("google tts chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

func (g *googleBackend) fetch(req *http.Request, w io.Writer) error {
	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// splitText cuts text into pieces of at most limit runes, preferring to break
// after punctuation, then at whitespace.
func splitText(text string, limit int) []string {
	var out []string
	rest := []rune(strings.TrimSpace(text))
	for len(rest) > limit {
		cut := -1
		for i := limit - 1; i > 0; i-- {
			if strings.ContainsRune(".,!?;:。！？、\n", rest[i]) {
				cut = i + 1
				break
			}
		}
		if cut < 0 {
			for i := limit; i > 0; i-- {
				if unicode.IsSpace(rest[i]) {
					cut = i
					break
				}
			}
		}
		if cut < 0 {
			cut = limit
		}
		if piece := strings.TrimSpace(string(rest[:cut])); piece != "" {
			out = append(out, piece)
		}
		rest = []rune(strings.TrimSpace(string(rest[cut:])))
	}
	if len(rest) > 0 {
		out = append(out, string(rest))
	}
	return out
}
