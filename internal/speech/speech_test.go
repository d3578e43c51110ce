package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func ttsServer(t *testing.T, handler func(req synthRequest) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req synthRequest
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &req)
		code, body := handler(req)
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPSynthesizer_WritesAudioAndAlignment(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte("ID3-fake-mp3"))
	reqs := make(chan synthRequest, 1)
	srv := ttsServer(t, func(req synthRequest) (int, string) {
		reqs <- req
		return http.StatusOK, `{"audio":"` + audio + `","alignment":[{"part":"Hello","start":0,"end":400}]}`
	})

	dir := t.TempDir()
	s, err := NewHTTPSynthesizer(srv.URL, dir, "")
	require.NoError(t, err)

	sp, err := s.Synthesize(context.Background(), "Hello")
	require.NoError(t, err)

	got := <-reqs
	assert.Equal(t, "Hello", got.Text)
	assert.Equal(t, DefaultVoice, got.Voice)
	assert.Equal(t, "en-US", got.Lang)
	assert.Equal(t, OutputFormat, got.Format)

	assert.True(t, strings.HasPrefix(sp.AudioPath, dir))
	assert.Equal(t, sp.AudioPath+".json", sp.AlignmentPath)
	data, err := os.ReadFile(sp.AudioPath)
	require.NoError(t, err)
	assert.Equal(t, "ID3-fake-mp3", string(data))

	side, err := os.ReadFile(sp.AlignmentPath)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"part":"Hello","start":0,"end":400}]`, string(side))
	assert.Len(t, sp.Files(), 2)
}

func TestHTTPSynthesizer_NoAlignment(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte("mp3"))
	srv := ttsServer(t, func(req synthRequest) (int, string) {
		return http.StatusOK, `{"audio":"` + audio + `","alignment":null}`
	})

	s, err := NewHTTPSynthesizer(srv.URL, t.TempDir(), "")
	require.NoError(t, err)
	sp, err := s.Synthesize(context.Background(), "Hello world")
	require.NoError(t, err)
	assert.Empty(t, sp.AlignmentPath)
	assert.Equal(t, []string{sp.AudioPath}, sp.Files())
}

func TestHTTPSynthesizer_Errors(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		srv := ttsServer(t, func(req synthRequest) (int, string) {
			return http.StatusBadGateway, "voice unavailable"
		})
		s, err := NewHTTPSynthesizer(srv.URL, t.TempDir(), "")
		require.NoError(t, err)
		_, err = s.Synthesize(context.Background(), "x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
		assert.Contains(t, err.Error(), "voice unavailable")
	})
	t.Run("empty audio", func(t *testing.T) {
		srv := ttsServer(t, func(req synthRequest) (int, string) {
			return http.StatusOK, `{"audio":""}`
		})
		s, err := NewHTTPSynthesizer(srv.URL, t.TempDir(), "")
		require.NoError(t, err)
		_, err = s.Synthesize(context.Background(), "x")
		require.Error(t, err)
	})
	t.Run("cancelled", func(t *testing.T) {
		srv := ttsServer(t, func(req synthRequest) (int, string) { return http.StatusOK, `{}` })
		s, err := NewHTTPSynthesizer(srv.URL, t.TempDir(), "")
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = s.Synthesize(ctx, "x")
		require.ErrorIs(t, err, context.Canceled)
	})
	t.Run("missing url", func(t *testing.T) {
		_, err := NewHTTPSynthesizer("", t.TempDir(), "")
		require.Error(t, err)
	})
}

func TestSelectVoice(t *testing.T) {
	t.Run("short text keeps fallback", func(t *testing.T) {
		v, tag := SelectVoice("Hola", "")
		assert.Equal(t, DefaultVoice, v)
		assert.Equal(t, language.AmericanEnglish, tag)
	})
	t.Run("english keeps configured voice", func(t *testing.T) {
		v, _ := SelectVoice("The quick brown fox jumps over the lazy dog while the sun sets slowly.", "en-US-GuyNeural")
		assert.Equal(t, "en-US-GuyNeural", v)
	})
	t.Run("spanish switches voice", func(t *testing.T) {
		v, tag := SelectVoice("El rápido zorro marrón salta sobre el perro perezoso mientras el sol se pone lentamente detrás de las montañas.", "")
		assert.Equal(t, "es-ES-ElviraNeural", v)
		base, _ := tag.Base()
		assert.Equal(t, "es", base.String())
	})
}

func TestVoiceLocale(t *testing.T) {
	assert.Equal(t, language.MustParse("fr-FR"), VoiceLocale("fr-FR-DeniseNeural"))
	assert.Equal(t, language.AmericanEnglish, VoiceLocale("weird"))
}
