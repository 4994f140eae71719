package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TIANLI0/ToonKit/apperrors"
	"github.com/TIANLI0/ToonKit/config"
	"github.com/TIANLI0/ToonKit/model"
	"github.com/TIANLI0/ToonKit/service"
	"github.com/TIANLI0/ToonKit/utils"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fakePNG = []byte("\x89PNG\r\n\x1a\nfake")

type fakeProcessor struct {
	mu       sync.Mutex
	calls    int
	variants []service.Variant
	err      error
}

func (p *fakeProcessor) Process(_ context.Context, data []byte, v service.Variant) (*model.CartoonResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.variants = append(p.variants, v)
	if p.err != nil {
		return nil, p.err
	}
	return &model.CartoonResult{MD5: utils.BytesMD5(data), Variant: string(v), PNG: fakePNG}, nil
}

func (p *fakeProcessor) DefaultVariant() service.Variant {
	return service.VariantVibrant
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string][]byte{}}
}

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memoryCache) Set(_ context.Context, key string, png []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = png
	return nil
}

type uploadPart struct {
	field       string
	filename    string
	contentType string
	body        []byte
}

func newUpload(t *testing.T, target string, part *uploadPart, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}

	if part != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+part.field+`"; filename="`+part.filename+`"`)
		ct := part.contentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		pw, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = pw.Write(part.body)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Mode: gin.TestMode},
		Upload: config.UploadConfig{MaxSize: 1024 * 1024},
	}
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) model.ErrorResponse {
	t.Helper()
	var resp model.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	return resp
}

func TestCartoonize_Rejections(t *testing.T) {
	payload := []byte("some image bytes")

	tests := []struct {
		name      string
		cfg       func(*config.Config)
		part      *uploadPart
		fields    map[string]string
		procErr   error
		status    int
		errType   apperrors.ErrorType
		message   string
		processed bool
	}{
		{
			name:    "missing file field",
			part:    nil,
			fields:  map[string]string{"variant": "simple"},
			status:  http.StatusBadRequest,
			errType: apperrors.ErrorTypeInputMissing,
			message: "no image file provided",
		},
		{
			name:    "wrong field name",
			part:    &uploadPart{field: "photo", filename: "a.png", body: payload},
			status:  http.StatusBadRequest,
			errType: apperrors.ErrorTypeInputMissing,
		},
		{
			name:    "empty filename",
			part:    &uploadPart{field: "image", filename: "", body: payload},
			status:  http.StatusBadRequest,
			errType: apperrors.ErrorTypeInputMissing,
		},
		{
			name:    "too large",
			cfg:     func(c *config.Config) { c.Upload.MaxSize = 4 },
			part:    &uploadPart{field: "image", filename: "a.png", body: payload},
			status:  http.StatusRequestEntityTooLarge,
			errType: apperrors.ErrorTypeTooLarge,
		},
		{
			name:    "disallowed content type",
			cfg:     func(c *config.Config) { c.Upload.AllowedTypes = []string{"image/png"} },
			part:    &uploadPart{field: "image", filename: "a.gif", contentType: "image/gif", body: payload},
			status:  http.StatusUnsupportedMediaType,
			errType: apperrors.ErrorTypeUnsupported,
		},
		{
			name:    "unknown variant",
			part:    &uploadPart{field: "image", filename: "a.png", body: payload},
			fields:  map[string]string{"variant": "sepia"},
			status:  http.StatusBadRequest,
			errType: apperrors.ErrorTypeValidation,
		},
		{
			name:      "decode failure",
			part:      &uploadPart{field: "image", filename: "a.png", body: payload},
			procErr:   apperrors.NewDecodeError("could not read image", nil),
			status:    http.StatusBadRequest,
			errType:   apperrors.ErrorTypeDecode,
			message:   "could not read image",
			processed: true,
		},
		{
			name:      "encode failure",
			part:      &uploadPart{field: "image", filename: "a.png", body: payload},
			procErr:   apperrors.NewEncodeError("could not encode result", nil),
			status:    http.StatusInternalServerError,
			errType:   apperrors.ErrorTypeEncode,
			processed: true,
		},
		{
			name:      "busy",
			part:      &uploadPart{field: "image", filename: "a.png", body: payload},
			procErr:   apperrors.NewBusyError("processing queue is full, try again later", nil),
			status:    http.StatusServiceUnavailable,
			errType:   apperrors.ErrorTypeBusy,
			processed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.cfg != nil {
				tt.cfg(cfg)
			}
			proc := &fakeProcessor{err: tt.procErr}
			r := NewRouter(cfg, NewCartoonHandler(cfg, proc, nil), BuildInfo{})

			w := serve(r, newUpload(t, "/api/v1/cartoonize", tt.part, tt.fields))

			assert.Equal(t, tt.status, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, string(tt.errType), resp.Type)
			if tt.message != "" {
				assert.Equal(t, tt.message, resp.Message)
			}
			if tt.processed {
				assert.Equal(t, 1, proc.calls)
			} else {
				assert.Zero(t, proc.calls, "processor must not run for rejected uploads")
			}
		})
	}
}

func TestCartoonize_SuccessAndCache(t *testing.T) {
	cfg := testConfig()
	proc := &fakeProcessor{}
	cache := newMemoryCache()
	r := NewRouter(cfg, NewCartoonHandler(cfg, proc, cache), BuildInfo{})

	body := []byte("pretend this is a jpeg")
	md5 := utils.BytesMD5(body)

	first := serve(r, newUpload(t, "/cartoonize", &uploadPart{field: "image", filename: "cat.jpg", body: body}, nil))
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "image/png", first.Header().Get("Content-Type"))
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.Equal(t, "vibrant", first.Header().Get("X-Variant"))
	assert.Equal(t, md5, first.Header().Get("X-Image-MD5"))
	assert.NotEmpty(t, first.Header().Get("X-Request-ID"))
	assert.Equal(t, fakePNG, first.Body.Bytes())

	second := serve(r, newUpload(t, "/api/v1/cartoonize", &uploadPart{field: "image", filename: "cat.jpg", body: body}, nil))
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, fakePNG, second.Body.Bytes())
	assert.Equal(t, 1, proc.calls)

	// 不同变体对应不同的缓存条目
	third := serve(r, newUpload(t, "/api/v1/cartoonize?variant=simple", &uploadPart{field: "image", filename: "cat.jpg", body: body}, nil))
	require.Equal(t, http.StatusOK, third.Code)
	assert.Equal(t, "MISS", third.Header().Get("X-Cache"))
	assert.Equal(t, "simple", third.Header().Get("X-Variant"))
	assert.Equal(t, []service.Variant{service.VariantVibrant, service.VariantSimple}, proc.variants)
}

func TestGetByMD5(t *testing.T) {
	md5 := utils.BytesMD5([]byte("cached"))
	cache := newMemoryCache()
	require.NoError(t, cache.Set(context.Background(), service.CacheKey(service.VariantSimple, md5), fakePNG))

	cfg := testConfig()
	withCache := NewRouter(cfg, NewCartoonHandler(cfg, &fakeProcessor{}, cache), BuildInfo{})
	withoutCache := NewRouter(cfg, NewCartoonHandler(cfg, &fakeProcessor{}, nil), BuildInfo{})

	tests := []struct {
		name   string
		router http.Handler
		path   string
		status int
	}{
		{name: "hit", router: withCache, path: "/api/v1/cartoon/" + md5 + "?variant=simple", status: http.StatusOK},
		{name: "other variant misses", router: withCache, path: "/api/v1/cartoon/" + md5, status: http.StatusNotFound},
		{name: "bad md5", router: withCache, path: "/api/v1/cartoon/xyz", status: http.StatusBadRequest},
		{name: "non-hex md5", router: withCache, path: "/api/v1/cartoon/" + strings.Repeat("z", 32), status: http.StatusBadRequest},
		{name: "md5 with separators", router: withCache, path: "/api/v1/cartoon/" + strings.Repeat("ab:c", 8), status: http.StatusBadRequest},
		{name: "uppercase md5", router: withCache, path: "/api/v1/cartoon/" + strings.ToUpper(md5) + "?variant=simple", status: http.StatusOK},
		{name: "bad variant", router: withCache, path: "/api/v1/cartoon/" + md5 + "?variant=sepia", status: http.StatusBadRequest},
		{name: "cache disabled", router: withoutCache, path: "/api/v1/cartoon/" + md5, status: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(tt.router, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, fakePNG, w.Body.Bytes())
				assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
			}
		})
	}
}

func TestBodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Upload.MaxSize = 1
	proc := &fakeProcessor{}
	r := NewRouter(cfg, NewCartoonHandler(cfg, proc, nil), BuildInfo{})

	req := newUpload(t, "/cartoonize", &uploadPart{field: "image", filename: "a.png", body: make([]byte, 2<<20)}, nil)
	w := serve(r, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Zero(t, proc.calls)
}

func TestHealthAndVersion(t *testing.T) {
	cfg := testConfig()
	r := NewRouter(cfg, NewCartoonHandler(cfg, &fakeProcessor{}, nil), BuildInfo{Version: "1.2.3", GitCommit: "abc"})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","version":"1.2.3"}`, w.Body.String())

	w = serve(r, httptest.NewRequest(http.MethodGet, "/version", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"git_commit":"abc"`)
}

func TestCartoonize_EndToEnd(t *testing.T) {
	cfg := testConfig()
	svc, err := service.NewCartoonService(&config.CartoonConfig{
		Variant:       "vibrant",
		MaxConcurrent: 2,
		QueueTimeout:  time.Second,
	})
	require.NoError(t, err)
	r := NewRouter(cfg, NewCartoonHandler(cfg, svc, nil), BuildInfo{})

	src := image.NewRGBA(image.Rect(0, 0, 900, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 900; x++ {
			src.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y * 4), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	w := serve(r, newUpload(t, "/cartoonize", &uploadPart{field: "image", filename: "in.png", contentType: "image/png", body: buf.Bytes()}, nil))
	require.Equal(t, http.StatusOK, w.Code)

	out, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 800, out.Bounds().Dx())
	assert.Equal(t, 53, out.Bounds().Dy())

	w = serve(r, newUpload(t, "/cartoonize", &uploadPart{field: "image", filename: "in.png", body: []byte("not an image")}, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "could not read image", resp.Message)
	assert.Equal(t, string(apperrors.ErrorTypeDecode), resp.Type)
}
