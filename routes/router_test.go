package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/storefront/config"
	"github.com/cppla/storefront/models"
	"github.com/cppla/storefront/storage"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR-fake-image")

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type harness struct {
	t      *testing.T
	router http.Handler
	db     *gorm.DB
	store  *storage.LocalStore
}

func newHarness(t *testing.T, mutate ...func(*config.AppConfig)) *harness {
	t.Helper()
	cfg := config.AppConfig{
		JWTSecret:          "test-secret",
		TokenTTLSeconds:    1800,
		RateLimitPerMinute: 1000,
		BcryptCost:         4,
		GinMode:            "test",
		DBDriver:           "sqlite",
		DatabaseURI:        filepath.Join(t.TempDir(), "shop.db"),
		LogLevel:           "silent",
		MaxUploadMB:        1,
		AllowedOrigins:     []string{"*"},
		AdminEmails:        []string{"admin@shop.io"},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	db, err := config.OpenDatabase(cfg, models.All()...)
	require.NoError(t, err)
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	r := SetupRouter(Deps{Config: cfg, DB: db, Store: store, Logger: zap.NewNop()})
	return &harness{t: t, router: r, db: db, store: store}
}

func (h *harness) do(method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *harness) json(method, path, token string, payload interface{}) *httptest.ResponseRecorder {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(h.t, err)
		body = bytes.NewReader(b)
	}
	return h.do(method, path, token, body, "application/json")
}

func (h *harness) multipart(method, path, token string, fields map[string]string, fileField, filename string, content []byte) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(h.t, mw.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, filename)
		require.NoError(h.t, err)
		_, err = fw.Write(content)
		require.NoError(h.t, err)
	}
	require.NoError(h.t, mw.Close())
	return h.do(method, path, token, &buf, mw.FormDataContentType())
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if out != nil {
		require.NoError(t, json.Unmarshal(env.Data, out), string(env.Data))
	}
}

type userBody struct {
	ID          uint    `json:"id"`
	Email       string  `json:"email"`
	Name        string  `json:"name"`
	Image       *string `json:"image"`
	IsAdmin     bool    `json:"is_admin"`
	AccessToken string  `json:"accessToken"`
}

func (h *harness) register(email string) userBody {
	h.t.Helper()
	w := h.json(http.MethodPost, "/api/users", "", map[string]interface{}{
		"email": email, "name": strings.Split(email, "@")[0], "password": "password123", "is_admin": true,
	})
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
	var u userBody
	decode(h.t, w, &u)
	return u
}

func TestHealthAndUnknownRoutes(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/health", "", nil, "").Code)
	assert.Equal(t, http.StatusNotImplemented, h.do(http.MethodGet, "/api/users/1/orders/2", "", nil, "").Code)
	assert.Equal(t, http.StatusNotImplemented, h.do(http.MethodPut, "/api/catalog/1", "", nil, "").Code)
	assert.Equal(t, http.StatusNotImplemented, h.do(http.MethodDelete, "/api/orders/1", "", nil, "").Code)
	assert.Equal(t, http.StatusNotImplemented, h.do(http.MethodGet, "/api/assets/1/preview", "", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/unknown", "", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/nope", "", nil, "").Code)
}

func TestRegisterAndLogin(t *testing.T) {
	h := newHarness(t)

	u := h.register("ana@shop.io")
	assert.NotZero(t, u.ID)
	assert.NotEmpty(t, u.AccessToken)
	assert.False(t, u.IsAdmin, "clients cannot grant themselves admin")
	assert.Nil(t, u.Image)

	admin := h.register("admin@shop.io")
	assert.True(t, admin.IsAdmin)

	w := h.json(http.MethodPost, "/api/users", "", map[string]string{"email": "ANA@shop.io", "password": "password123"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "duplicate email")
	w = h.json(http.MethodPost, "/api/users", "", map[string]string{"email": "short@shop.io", "password": "1234567"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "short password")
	w = h.json(http.MethodPost, "/api/users", "", map[string]string{"email": "not-an-email", "password": "password123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.json(http.MethodPost, "/api/users/login", "", map[string]string{"email": "ana@shop.io"})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "missing password")
	w = h.json(http.MethodPost, "/api/users/login", "", map[string]string{"email": "ana@shop.io", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = h.json(http.MethodPost, "/api/users/login", "", map[string]string{"email": "ghost@shop.io", "password": "password123"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.json(http.MethodPost, "/api/users/login", "", map[string]string{"email": "ana@shop.io", "password": "password123"})
	require.Equal(t, http.StatusOK, w.Code)
	var logged userBody
	decode(t, w, &logged)
	assert.Equal(t, u.ID, logged.ID)
	assert.NotEmpty(t, logged.AccessToken)
	assert.NotContains(t, w.Body.String(), "password")

	w = h.json(http.MethodGet, "/api/users/me", logged.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me userBody
	decode(t, w, &me)
	assert.Equal(t, "ana@shop.io", me.Email)
}

func TestLogoutRevokesToken(t *testing.T) {
	h := newHarness(t)
	u := h.register("ana@shop.io")

	assert.Equal(t, http.StatusUnauthorized, h.json(http.MethodGet, "/api/users/me", "", nil).Code)
	assert.Equal(t, http.StatusOK, h.json(http.MethodGet, "/api/users/me", u.AccessToken, nil).Code)
	assert.Equal(t, http.StatusNoContent, h.json(http.MethodPost, "/api/users/logout", u.AccessToken, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.json(http.MethodGet, "/api/users/me", u.AccessToken, nil).Code)
}

func TestUserListPagination(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 6; i++ {
		h.register(fmt.Sprintf("user%d@shop.io", i))
	}

	var page struct {
		Users []struct {
			ID    uint   `json:"id"`
			Email string `json:"email"`
		} `json:"users"`
		Page       int   `json:"page"`
		TotalPages int   `json:"totalPages"`
		TotalUsers int64 `json:"totalUsers"`
	}
	w := h.json(http.MethodGet, "/api/users?page=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &page)
	assert.Len(t, page.Users, 1)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, int64(6), page.TotalUsers)
	assert.NotContains(t, w.Body.String(), "is_admin")
}

func TestUpdateProfile(t *testing.T) {
	h := newHarness(t)
	ana := h.register("ana@shop.io")
	bob := h.register("bob@shop.io")

	w := h.json(http.MethodPatch, fmt.Sprintf("/api/users/%d", bob.ID), ana.AccessToken, map[string]string{"name": "pwned"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.json(http.MethodPatch, fmt.Sprintf("/api/users/%d", ana.ID), ana.AccessToken, map[string]string{"password": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.json(http.MethodPatch, fmt.Sprintf("/api/users/%d", ana.ID), ana.AccessToken, map[string]string{"email": "bob@shop.io"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "email taken")

	w = h.json(http.MethodPatch, fmt.Sprintf("/api/users/%d", ana.ID), ana.AccessToken, map[string]string{"name": "<i>Ana</i> Maria", "password": "new-password"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got userBody
	decode(t, w, &got)
	assert.Equal(t, "Ana Maria", got.Name)

	w = h.json(http.MethodPost, "/api/users/login", "", map[string]string{"email": "ana@shop.io", "password": "new-password"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDeleteUser(t *testing.T) {
	h := newHarness(t)
	admin := h.register("admin@shop.io")
	ana := h.register("ana@shop.io")
	bob := h.register("bob@shop.io")

	assert.Equal(t, http.StatusForbidden, h.json(http.MethodDelete, fmt.Sprintf("/api/users/%d", bob.ID), ana.AccessToken, nil).Code)

	w := h.multipart(http.MethodPost, "/api/assets/upload", bob.AccessToken, map[string]string{"visibility": "PUBLIC"}, "file", "a.txt", []byte("x"))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, http.StatusBadRequest, h.json(http.MethodDelete, fmt.Sprintf("/api/users/%d", bob.ID), admin.AccessToken, nil).Code)

	assert.Equal(t, http.StatusNoContent, h.json(http.MethodDelete, fmt.Sprintf("/api/users/%d", ana.ID), admin.AccessToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.json(http.MethodGet, fmt.Sprintf("/api/users/%d", ana.ID), "", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.json(http.MethodDelete, fmt.Sprintf("/api/users/%d", ana.ID), admin.AccessToken, nil).Code)
}

func TestRegisterWithPrivateImage(t *testing.T) {
	h := newHarness(t)

	w := h.multipart(http.MethodPost, "/api/users", "", map[string]string{
		"email": "pic@shop.io", "name": "Pic", "password": "password123",
	}, "image", "avatar.png", pngBytes)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var u userBody
	decode(t, w, &u)
	require.NotNil(t, u.Image)
	assert.True(t, strings.HasPrefix(*u.Image, "data:image/png;base64,"), *u.Image)

	// the same resolution applies when the user is read back
	w = h.json(http.MethodGet, fmt.Sprintf("/api/users/%d", u.ID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got userBody
	decode(t, w, &got)
	assert.Equal(t, *u.Image, *got.Image)
}

type assetBody struct {
	ID         uint   `json:"id"`
	Filename   string `json:"filename"`
	Mimetype   string `json:"mimetype"`
	Size       int64  `json:"size"`
	Path       string `json:"path"`
	Visibility string `json:"visibility"`
	UploadedBy uint   `json:"uploaded_by"`
}

func (h *harness) upload(token, vis, filename string, content []byte) assetBody {
	h.t.Helper()
	w := h.multipart(http.MethodPost, "/api/assets/upload", token, map[string]string{"visibility": vis}, "file", filename, content)
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
	var a assetBody
	decode(h.t, w, &a)
	return a
}

func TestAssetAccess(t *testing.T) {
	h := newHarness(t)
	admin := h.register("admin@shop.io")
	owner := h.register("owner@shop.io")
	other := h.register("other@shop.io")

	private := h.upload(owner.AccessToken, "PRIVATE", "notes.txt", []byte("top secret"))
	public := h.upload(owner.AccessToken, "public", "menu.txt", []byte("pizza"))
	assert.Equal(t, "PRIVATE", private.Visibility)
	assert.Equal(t, "PUBLIC", public.Visibility)
	assert.Equal(t, owner.ID, private.UploadedBy)
	assert.Equal(t, "text/plain", private.Mimetype)
	assert.Equal(t, int64(10), private.Size)

	dl := func(id uint, token string) *httptest.ResponseRecorder {
		return h.do(http.MethodGet, fmt.Sprintf("/api/assets/%d/download", id), token, nil, "")
	}

	w := dl(private.ID, owner.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "top secret", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "notes.txt")

	assert.Equal(t, http.StatusForbidden, dl(private.ID, other.AccessToken).Code)
	assert.Equal(t, http.StatusUnauthorized, dl(private.ID, "").Code)
	assert.Equal(t, http.StatusOK, dl(private.ID, admin.AccessToken).Code)
	assert.Equal(t, http.StatusOK, dl(public.ID, other.AccessToken).Code)
	assert.Equal(t, http.StatusNotFound, dl(9999, owner.AccessToken).Code)

	alias := h.do(http.MethodGet, fmt.Sprintf("/api/assets/uploads/%d", private.ID), other.AccessToken, nil, "")
	assert.Equal(t, http.StatusForbidden, alias.Code)

	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, fmt.Sprintf("/api/assets/uploads/public/%d", private.ID), "", nil, "").Code)
	w = h.do(http.MethodGet, fmt.Sprintf("/api/assets/uploads/public/%d", public.ID), "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pizza", w.Body.String())

	var list []assetBody
	w = h.json(http.MethodGet, "/api/assets/public", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, public.ID, list[0].ID)

	w = h.json(http.MethodGet, "/api/assets/private", other.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	assert.Empty(t, list)
	w = h.json(http.MethodGet, "/api/assets/private", owner.AccessToken, nil)
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, private.ID, list[0].ID)
}

func TestAssetLegacyAdminPrecedence(t *testing.T) {
	h := newHarness(t, func(c *config.AppConfig) { c.LegacyAdminPrecedence = true })
	admin := h.register("admin@shop.io")
	owner := h.register("owner@shop.io")

	private := h.upload(owner.AccessToken, "PRIVATE", "notes.txt", []byte("x"))
	mine := h.upload(admin.AccessToken, "PUBLIC", "mine.txt", []byte("y"))

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, fmt.Sprintf("/api/assets/%d/download", private.ID), owner.AccessToken, nil, "").Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, fmt.Sprintf("/api/assets/%d/download", private.ID), admin.AccessToken, nil, "").Code)
	assert.Equal(t, http.StatusForbidden, h.do(http.MethodGet, fmt.Sprintf("/api/assets/%d/download", mine.ID), admin.AccessToken, nil, "").Code)
}

func TestAssetUploadValidation(t *testing.T) {
	h := newHarness(t)
	u := h.register("ana@shop.io")

	w := h.multipart(http.MethodPost, "/api/assets/upload", u.AccessToken, nil, "file", "a.txt", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, w.Code, "visibility is required")
	w = h.multipart(http.MethodPost, "/api/assets/upload", u.AccessToken, map[string]string{"visibility": "SHARED"}, "file", "a.txt", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = h.multipart(http.MethodPost, "/api/assets/upload", u.AccessToken, map[string]string{"visibility": "PUBLIC"}, "", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "file is required")
	w = h.multipart(http.MethodPost, "/api/assets/upload", u.AccessToken, map[string]string{"visibility": "PUBLIC"}, "file", "big.bin", bytes.Repeat([]byte("a"), 2<<20))
	assert.Equal(t, http.StatusBadRequest, w.Code, "over the upload limit")
	w = h.multipart(http.MethodPost, "/api/assets/upload", "", map[string]string{"visibility": "PUBLIC"}, "file", "a.txt", []byte("x"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAssetDelete(t *testing.T) {
	h := newHarness(t)
	admin := h.register("admin@shop.io")
	owner := h.register("owner@shop.io")
	other := h.register("other@shop.io")
	ctx := context.Background()

	a := h.upload(owner.AccessToken, "PRIVATE", "a.txt", []byte("a"))
	b := h.upload(owner.AccessToken, "PUBLIC", "b.txt", []byte("b"))

	assert.Equal(t, http.StatusForbidden, h.json(http.MethodDelete, fmt.Sprintf("/api/assets/%d", a.ID), other.AccessToken, nil).Code)

	assert.Equal(t, http.StatusNoContent, h.json(http.MethodDelete, fmt.Sprintf("/api/assets/%d", a.ID), owner.AccessToken, nil).Code)
	exists, err := h.store.Exists(ctx, models.VisibilityPrivate, a.Path)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.Equal(t, http.StatusNoContent, h.json(http.MethodDelete, fmt.Sprintf("/api/assets/%d", b.ID), admin.AccessToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.json(http.MethodDelete, fmt.Sprintf("/api/assets/%d", b.ID), admin.AccessToken, nil).Code)

	var stale int64
	require.NoError(t, h.db.Model(&models.StaleFile{}).Count(&stale).Error)
	assert.Zero(t, stale)
	var left int64
	require.NoError(t, h.db.Model(&models.Asset{}).Count(&left).Error)
	assert.Zero(t, left)
}

type offeringBody struct {
	ID          uint        `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Price       float64     `json:"price"`
	Image       *string     `json:"image"`
	Enabled     bool        `json:"enabled"`
	Assets      []assetBody `json:"assets"`
}

func (h *harness) createOffering(token string, payload map[string]interface{}) offeringBody {
	h.t.Helper()
	w := h.json(http.MethodPost, "/api/catalog", token, payload)
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
	var o offeringBody
	decode(h.t, w, &o)
	return o
}

func TestCatalog(t *testing.T) {
	h := newHarness(t)
	admin := h.register("admin@shop.io")
	user := h.register("ana@shop.io")

	w := h.json(http.MethodPost, "/api/catalog", user.AccessToken, map[string]interface{}{"name": "x", "price": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = h.json(http.MethodPost, "/api/catalog", "", map[string]interface{}{"name": "x", "price": 1})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = h.json(http.MethodPost, "/api/catalog", admin.AccessToken, map[string]interface{}{"name": "no price"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	asset := h.upload(admin.AccessToken, "PUBLIC", "photo.txt", []byte("p"))
	w = h.json(http.MethodPost, "/api/catalog", admin.AccessToken, map[string]interface{}{"name": "x", "price": 1, "assetIds": []uint{asset.ID, 999}})
	assert.Equal(t, http.StatusBadRequest, w.Code, "unknown asset")

	margherita := h.createOffering(admin.AccessToken, map[string]interface{}{
		"name": "Margherita", "description": "<p>Basil</p><script>x</script>", "price": 10.5, "assetIds": []uint{asset.ID},
	})
	assert.True(t, margherita.Enabled)
	assert.NotContains(t, margherita.Description, "script")
	require.Len(t, margherita.Assets, 1)
	hidden := h.createOffering(admin.AccessToken, map[string]interface{}{"name": "Secret menu", "price": 99, "enabled": false})

	list := func(token string) []offeringBody {
		var page struct {
			Catalog    []offeringBody `json:"catalog"`
			TotalItems int64          `json:"totalItems"`
		}
		w := h.json(http.MethodGet, "/api/catalog", token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		decode(t, w, &page)
		return page.Catalog
	}
	assert.Len(t, list(""), 1)
	assert.Len(t, list(user.AccessToken), 1)
	assert.Len(t, list(admin.AccessToken), 2)

	w = h.json(http.MethodPatch, fmt.Sprintf("/api/catalog/%d", hidden.ID), admin.AccessToken, map[string]interface{}{"enabled": true, "price": 12.349, "assetIds": []uint{}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var patched offeringBody
	decode(t, w, &patched)
	assert.True(t, patched.Enabled)
	assert.Equal(t, 12.35, patched.Price)
	assert.Len(t, list(""), 2)

	assert.Equal(t, http.StatusForbidden, h.json(http.MethodPatch, fmt.Sprintf("/api/catalog/%d", hidden.ID), user.AccessToken, map[string]interface{}{"price": 1}).Code)
	assert.Equal(t, http.StatusNotFound, h.json(http.MethodPatch, "/api/catalog/999", admin.AccessToken, map[string]interface{}{"price": 1}).Code)

	assert.Equal(t, http.StatusNoContent, h.json(http.MethodDelete, fmt.Sprintf("/api/catalog/%d", margherita.ID), admin.AccessToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.json(http.MethodDelete, "/api/catalog/999", admin.AccessToken, nil).Code)

	w = h.json(http.MethodGet, fmt.Sprintf("/api/catalog/%d", margherita.ID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got offeringBody
	decode(t, w, &got)
	assert.False(t, got.Enabled, "delete is logical")
	assert.Equal(t, http.StatusNotFound, h.json(http.MethodGet, "/api/catalog/999", "", nil).Code)
}

func TestCatalogPublicImageURL(t *testing.T) {
	h := newHarness(t)
	admin := h.register("admin@shop.io")

	w := h.multipart(http.MethodPost, "/api/catalog", admin.AccessToken, map[string]string{
		"name": "Calabresa", "price": "11.9",
	}, "image", "calabresa.png", pngBytes)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var o offeringBody
	decode(t, w, &o)
	require.NotNil(t, o.Image)
	assert.True(t, strings.HasPrefix(*o.Image, "http://example.com/uploads/"), *o.Image)
	assert.True(t, strings.HasSuffix(*o.Image, "-calabresa.png"), *o.Image)

	w = h.do(http.MethodGet, strings.TrimPrefix(*o.Image, "http://example.com"), "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pngBytes, w.Body.Bytes())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/uploads/missing.png", "", nil, "").Code)
}

type orderBody struct {
	ID            uint    `json:"id"`
	TotalPrice    float64 `json:"total_price"`
	CustomerPhone string  `json:"customer_phone"`
	Status        string  `json:"status"`
	UserID        *uint   `json:"user_id"`
	Items         []struct {
		OfferingID uint    `json:"offering_id"`
		Quantity   int     `json:"quantity"`
		Subtotal   float64 `json:"subtotal"`
	} `json:"items"`
}

func TestOrders(t *testing.T) {
	h := newHarness(t)
	admin := h.register("admin@shop.io")
	ana := h.register("ana@shop.io")
	bob := h.register("bob@shop.io")

	pizza := h.createOffering(admin.AccessToken, map[string]interface{}{"name": "Pizza", "price": 10.5})
	soda := h.createOffering(admin.AccessToken, map[string]interface{}{"name": "Soda", "price": 3.25})
	gone := h.createOffering(admin.AccessToken, map[string]interface{}{"name": "Gone", "price": 1, "enabled": false})

	order := func(token string, items ...map[string]interface{}) *httptest.ResponseRecorder {
		return h.json(http.MethodPost, "/api/orders", token, map[string]interface{}{
			"customerName": "Ana", "customerPhone": "555-0100", "customerAddress": "1 Main St",
			"items": items,
		})
	}

	w := order(ana.AccessToken,
		map[string]interface{}{"id": pizza.ID, "quantity": 2, "price": 0.01},
		map[string]interface{}{"id": soda.ID, "quantity": 3},
	)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var placed orderBody
	decode(t, w, &placed)
	assert.Equal(t, 30.75, placed.TotalPrice, "prices come from the catalog")
	assert.Equal(t, "PENDING", placed.Status)
	require.NotNil(t, placed.UserID)
	assert.Equal(t, ana.ID, *placed.UserID)
	require.Len(t, placed.Items, 2)

	w = order("", map[string]interface{}{"id": soda.ID, "quantity": 1})
	require.Equal(t, http.StatusCreated, w.Code)
	var guest orderBody
	decode(t, w, &guest)
	assert.Nil(t, guest.UserID)

	assert.Equal(t, http.StatusBadRequest, order("", map[string]interface{}{"id": gone.ID, "quantity": 1}).Code)
	assert.Equal(t, http.StatusBadRequest, order("", map[string]interface{}{"id": 999, "quantity": 1}).Code)
	assert.Equal(t, http.StatusBadRequest, order("", map[string]interface{}{"id": soda.ID, "quantity": 0}).Code)
	assert.Equal(t, http.StatusBadRequest, order("").Code, "no items")

	// lookups
	path := fmt.Sprintf("/api/orders/%d", placed.ID)
	assert.Equal(t, http.StatusOK, h.json(http.MethodGet, path, ana.AccessToken, nil).Code)
	assert.Equal(t, http.StatusOK, h.json(http.MethodGet, path, admin.AccessToken, nil).Code)
	assert.Equal(t, http.StatusForbidden, h.json(http.MethodGet, path, bob.AccessToken, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, h.json(http.MethodGet, path, "", nil).Code)
	assert.Equal(t, http.StatusOK, h.json(http.MethodGet, path+"/555-0100", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.json(http.MethodGet, path+"/555-9999", "", nil).Code)

	listCount := func(token string) int {
		var page struct {
			Orders     []orderBody `json:"orders"`
			TotalItems int64       `json:"totalItems"`
		}
		w := h.json(http.MethodGet, "/api/orders", token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		decode(t, w, &page)
		return len(page.Orders)
	}
	assert.Equal(t, 2, listCount(admin.AccessToken))
	assert.Equal(t, 1, listCount(ana.AccessToken))
	assert.Equal(t, 0, listCount(bob.AccessToken))

	// status changes
	assert.Equal(t, http.StatusForbidden, h.json(http.MethodPatch, path, ana.AccessToken, map[string]string{"status": "DELIVERED"}).Code)
	assert.Equal(t, http.StatusBadRequest, h.json(http.MethodPatch, path, admin.AccessToken, map[string]string{"status": "LOST"}).Code)
	w = h.json(http.MethodPatch, path, admin.AccessToken, map[string]string{"status": "in_transit"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var moved orderBody
	decode(t, w, &moved)
	assert.Equal(t, "IN_TRANSIT", moved.Status)
	assert.Equal(t, http.StatusNotFound, h.json(http.MethodPatch, "/api/orders/999", admin.AccessToken, map[string]string{"status": "DELIVERED"}).Code)
}

func TestOrderCustomerIDForAdminsOnly(t *testing.T) {
	h := newHarness(t)
	admin := h.register("admin@shop.io")
	ana := h.register("ana@shop.io")
	bob := h.register("bob@shop.io")
	pizza := h.createOffering(admin.AccessToken, map[string]interface{}{"name": "Pizza", "price": 10})

	place := func(token string, customerID uint) orderBody {
		w := h.json(http.MethodPost, "/api/orders", token, map[string]interface{}{
			"customerName": "X", "customerPhone": "1", "customerAddress": "Y", "customerId": customerID,
			"items": []map[string]interface{}{{"id": pizza.ID, "quantity": 1}},
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var o orderBody
		decode(t, w, &o)
		return o
	}

	o := place(ana.AccessToken, bob.ID)
	require.NotNil(t, o.UserID)
	assert.Equal(t, ana.ID, *o.UserID, "non-admins cannot order on behalf of others")

	o = place(admin.AccessToken, bob.ID)
	require.NotNil(t, o.UserID)
	assert.Equal(t, bob.ID, *o.UserID)

	// deleting a customer keeps the order but drops the link
	assert.Equal(t, http.StatusNoContent, h.json(http.MethodDelete, fmt.Sprintf("/api/users/%d", bob.ID), admin.AccessToken, nil).Code)
	w := h.json(http.MethodGet, fmt.Sprintf("/api/orders/%d", o.ID), admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var after orderBody
	decode(t, w, &after)
	assert.Nil(t, after.UserID)
}

func TestOrderImagesResolved(t *testing.T) {
	h := newHarness(t)
	admin := h.register("admin@shop.io")

	w := h.multipart(http.MethodPost, "/api/users", "", map[string]string{
		"email": "pic@shop.io", "name": "Pic", "password": "password123",
	}, "image", "me.png", pngBytes)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var customer userBody
	decode(t, w, &customer)

	w = h.multipart(http.MethodPost, "/api/catalog", admin.AccessToken, map[string]string{
		"name": "Portuguesa", "price": "12",
	}, "image", "p.png", pngBytes)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var pizza offeringBody
	decode(t, w, &pizza)

	type detailed struct {
		ID   uint `json:"id"`
		User *struct {
			Image *string `json:"image"`
		} `json:"user"`
		Items []struct {
			Offering struct {
				Image *string `json:"image"`
			} `json:"offering"`
		} `json:"items"`
	}
	check := func(o detailed, withUser bool) {
		t.Helper()
		require.Len(t, o.Items, 1)
		require.NotNil(t, o.Items[0].Offering.Image)
		assert.True(t, strings.HasPrefix(*o.Items[0].Offering.Image, "http://"), *o.Items[0].Offering.Image)
		assert.Equal(t, *pizza.Image, *o.Items[0].Offering.Image)
		if !withUser {
			assert.Nil(t, o.User)
			return
		}
		require.NotNil(t, o.User)
		require.NotNil(t, o.User.Image)
		assert.True(t, strings.HasPrefix(*o.User.Image, "data:image/png;base64,"), *o.User.Image)
	}

	w = h.json(http.MethodPost, "/api/orders", customer.AccessToken, map[string]interface{}{
		"customerName": "Pic", "customerPhone": "555-0101", "customerAddress": "2 Main St",
		"items": []map[string]interface{}{{"id": pizza.ID, "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var placed detailed
	decode(t, w, &placed)
	check(placed, true)

	path := fmt.Sprintf("/api/orders/%d", placed.ID)
	for _, tc := range []struct {
		name     string
		method   string
		path     string
		token    string
		payload  interface{}
		withUser bool
	}{
		{"get", http.MethodGet, path, customer.AccessToken, nil, true},
		{"by phone", http.MethodGet, path + "/555-0101", "", nil, false},
		{"status", http.MethodPatch, path, admin.AccessToken, map[string]string{"status": "PREPARING"}, true},
	} {
		w := h.json(tc.method, tc.path, tc.token, tc.payload)
		require.Equal(t, http.StatusOK, w.Code, "%s: %s", tc.name, w.Body.String())
		var got detailed
		decode(t, w, &got)
		check(got, tc.withUser)
	}

	w = h.json(http.MethodGet, "/api/orders", customer.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Orders []detailed `json:"orders"`
	}
	decode(t, w, &page)
	require.Len(t, page.Orders, 1)
	check(page.Orders[0], true)
}

func TestTextFieldsKeepPunctuation(t *testing.T) {
	h := newHarness(t)

	w := h.json(http.MethodPost, "/api/users", "", map[string]interface{}{
		"email": "obrien@shop.io", "name": "O'Brien & Sons", "password": "password123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var u userBody
	decode(t, w, &u)
	assert.Equal(t, "O'Brien & Sons", u.Name)

	admin := h.register("admin@shop.io")
	pizza := h.createOffering(admin.AccessToken, map[string]interface{}{"name": "Mac & Cheese <b>XL</b>", "price": 9})
	assert.Equal(t, "Mac & Cheese XL", pizza.Name)

	w = h.json(http.MethodPost, "/api/orders", "", map[string]interface{}{
		"customerName": "Ana & Bob's", "customerPhone": "555", "customerAddress": `Rua "Sete", 7`,
		"items": []map[string]interface{}{{"id": pizza.ID, "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var o struct {
		CustomerName    string `json:"customer_name"`
		CustomerAddress string `json:"customer_address"`
	}
	decode(t, w, &o)
	assert.Equal(t, "Ana & Bob's", o.CustomerName)
	assert.Equal(t, `Rua "Sete", 7`, o.CustomerAddress)
}
