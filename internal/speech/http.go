package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OutputFormat is the audio encoding requested from the TTS sidecar.
const OutputFormat = "audio-24khz-48kbitrate-mono-mp3"

type synthRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice"`
	Lang   string `json:"lang"`
	Format string `json:"format"`
}

// synthResponse carries base64 audio; alignment is kept raw and written to
// the side file untouched.
type synthResponse struct {
	Audio     []byte          `json:"audio"`
	Alignment json.RawMessage `json:"alignment"`
}

// HTTPSynthesizer calls a TTS sidecar over HTTP and stores its output in dir.
type HTTPSynthesizer struct {
	client *http.Client
	url    string
	dir    string
	voice  string
	now    func() time.Time
}

func NewHTTPSynthesizer(url, dir, voice string) (*HTTPSynthesizer, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("tts url is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	if voice == "" {
		voice = DefaultVoice
	}
	return &HTTPSynthesizer{
		client: &http.Client{},
		url:    url,
		dir:    dir,
		voice:  voice,
		now:    time.Now,
	}, nil
}

// Synthesize has no timeout of its own; callers bound it through ctx.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) (Speech, error) {
	voice, lang := SelectVoice(text, s.voice)

	body, err := json.Marshal(synthRequest{
		Text:   text,
		Voice:  voice,
		Lang:   lang.String(),
		Format: OutputFormat,
	})
	if err != nil {
		return Speech{}, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return Speech{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Speech{}, fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Speech{}, fmt.Errorf("tts returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out synthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Speech{}, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Audio) == 0 {
		return Speech{}, errors.New("tts returned no audio")
	}

	name := fmt.Sprintf("speech_%d_%s.mp3", s.now().UnixMilli(), uuid.NewString()[:8])
	sp := Speech{AudioPath: filepath.Join(s.dir, name), Voice: voice}
	if err := os.WriteFile(sp.AudioPath, out.Audio, 0o644); err != nil {
		return Speech{}, fmt.Errorf("write audio: %w", err)
	}

	if hasAlignment(out.Alignment) {
		sp.AlignmentPath = sp.AudioPath + ".json"
		if err := os.WriteFile(sp.AlignmentPath, out.Alignment, 0o644); err != nil {
			_ = os.Remove(sp.AudioPath)
			return Speech{}, fmt.Errorf("write alignment: %w", err)
		}
	}
	return sp, nil
}

func hasAlignment(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && !bytes.Equal(t, []byte("null"))
}
