package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"sokoni/internal/config"
	"sokoni/internal/models"
	"sokoni/internal/service"
	"sokoni/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type testServer struct {
	srv    *Server
	app    *fiber.App
	db     *gorm.DB
	mr     *miniredis.Miniredis
	tokens *service.TokenIssuer
	cfg    *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	t.Setenv("APP_ENV", "test")

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		Env:              "test",
		JWTSecret:        "test-access-secret",
		JWTRefreshSecret: "test-refresh-secret",
		JWTAccessTTL:     15 * time.Minute,
		JWTRefreshTTL:    24 * time.Hour,
		OTPTTL:           10 * time.Minute,
		UploadDir:        t.TempDir(),
		StorySweepMode:   config.SweepModeInline,
		FeatureFlags:     "follow_notifications=off",
	}
	db := testutil.NewTestDB(t)
	srv, err := NewServerWithDeps(cfg, db, rdb)
	require.NoError(t, err)

	return &testServer{
		srv:    srv,
		app:    srv.NewApp(),
		db:     db,
		mr:     mr,
		tokens: service.NewTokenIssuer(cfg.JWTSecret, cfg.RefreshSecret(), cfg.JWTAccessTTL, cfg.JWTRefreshTTL),
		cfg:    cfg,
	}
}

func (ts *testServer) tokenFor(t *testing.T, u *models.User) string {
	t.Helper()
	pair, err := ts.tokens.Issue(u)
	require.NoError(t, err)
	return pair.AccessToken
}

func (ts *testServer) do(t *testing.T, req *http.Request, token string) (int, map[string]interface{}) {
	t.Helper()
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := ts.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := map[string]interface{}{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	}
	return resp.StatusCode, body
}

func (ts *testServer) doJSON(t *testing.T, method, path string, payload interface{}, token string) (int, map[string]interface{}) {
	t.Helper()
	var rdr io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if payload != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	return ts.do(t, req, token)
}

// getList issues an authenticated GET against an endpoint that answers with a
// JSON array.
func (ts *testServer) getList(t *testing.T, path, token string) (int, []map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	resp, err := ts.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out []map[string]interface{}
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func pngFixture(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for x := 0; x < 64; x++ {
		img.Set(x, x%48, color.RGBA{R: 200, G: 90, B: 20, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func storyUpload(t *testing.T, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if content != nil {
		part, err := w.CreateFormFile("media", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/stories", &body)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	return req
}

func idPath(prefix string, id uint, suffix string) string {
	return prefix + strconv.FormatUint(uint64(id), 10) + suffix
}

func TestHealthProbes(t *testing.T) {
	ts := newTestServer(t)

	status, body := ts.doJSON(t, http.MethodGet, "/health/live", nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "up", body["status"])

	status, body = ts.doJSON(t, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, status)
	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "healthy", checks["database"])
	assert.Equal(t, "healthy", checks["redis"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/api/stories", "/api/stories/my/stories", "/api/users/me", "/api/notifications"} {
		status, body := ts.doJSON(t, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusUnauthorized, status, path)
		assert.Equal(t, models.CodeUnauthorized, body["code"], path)
	}

	status, _ := ts.doJSON(t, http.MethodGet, "/api/stories", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestStoryLifecycle(t *testing.T) {
	ts := newTestServer(t)
	seller := testutil.CreateUser(t, ts.db, models.RoleRetailer)
	buyer := testutil.CreateUser(t, ts.db, models.RoleCustomer)
	product := testutil.CreateProduct(t, ts.db, seller.ID)
	sellerTok, buyerTok := ts.tokenFor(t, seller), ts.tokenFor(t, buyer)

	status, body := ts.do(t, storyUpload(t, "stall.png", pngFixture(t), map[string]string{
		"product":   strconv.FormatUint(uint64(product.ID), 10),
		"caption":   "Fresh stock",
		"ctaButton": "{not json",
	}), sellerTok)
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, "Story created successfully", body["message"])
	data := body["data"].(map[string]interface{})
	storyID := uint(data["id"].(float64))
	assert.Equal(t, "image", data["mediaType"])
	assert.Equal(t, float64(5000), data["duration"])
	assert.NotEmpty(t, data["thumbnail"])
	assert.Nil(t, data["ctaButton"], "malformed ctaButton is ignored")

	status, body = ts.doJSON(t, http.MethodPost, idPath("/api/users/follow/", seller.ID, ""), nil, buyerTok)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, float64(1), body["followingCount"])

	status, body = ts.doJSON(t, http.MethodGet, "/api/stories", nil, buyerTok)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, float64(1), body["count"])
	group := body["data"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, true, group["hasUnviewed"])

	for i := 0; i < 2; i++ {
		status, body = ts.doJSON(t, http.MethodPost, idPath("/api/stories/", storyID, "/view"), nil, buyerTok)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "View added", body["message"])
		assert.Equal(t, float64(1), body["viewCount"], "repeat views are not counted")
	}

	_, body = ts.doJSON(t, http.MethodGet, "/api/stories", nil, buyerTok)
	group = body["data"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, false, group["hasUnviewed"])

	status, body = ts.doJSON(t, http.MethodPost, idPath("/api/stories/", storyID, "/like"), nil, buyerTok)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Story liked", body["message"])
	assert.Equal(t, true, body["isLiked"])
	assert.Equal(t, float64(1), body["likeCount"])

	status, body = ts.doJSON(t, http.MethodGet, idPath("/api/stories/", storyID, ""), nil, "")
	assert.Equal(t, http.StatusOK, status, "single story read is public")
	assert.Equal(t, float64(1), body["data"].(map[string]interface{})["likeCount"])

	status, body = ts.doJSON(t, http.MethodGet, idPath("/api/stories/user/", seller.ID, ""), nil, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["count"])

	status, _ = ts.doJSON(t, http.MethodGet, idPath("/api/stories/", storyID, "/views"), nil, buyerTok)
	assert.Equal(t, http.StatusForbidden, status)
	status, body = ts.doJSON(t, http.MethodGet, idPath("/api/stories/", storyID, "/views"), nil, sellerTok)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["viewCount"])

	status, _ = ts.doJSON(t, http.MethodDelete, idPath("/api/stories/", storyID, ""), nil, buyerTok)
	assert.Equal(t, http.StatusForbidden, status)
	status, body = ts.doJSON(t, http.MethodDelete, idPath("/api/stories/", storyID, ""), nil, sellerTok)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Story deleted successfully", body["message"])

	status, body = ts.doJSON(t, http.MethodGet, idPath("/api/stories/", storyID, ""), nil, "")
	assert.Equal(t, http.StatusGone, status)
	assert.Equal(t, models.CodeGone, body["code"])
	status, _ = ts.doJSON(t, http.MethodPost, idPath("/api/stories/", storyID, "/view"), nil, buyerTok)
	assert.Equal(t, http.StatusGone, status)

	_, body = ts.doJSON(t, http.MethodGet, "/api/stories", nil, buyerTok)
	assert.Equal(t, float64(0), body["count"])
}

func TestPublicStoryReadsHidePrivateAuthorFields(t *testing.T) {
	ts := newTestServer(t)
	seller := testutil.CreateUser(t, ts.db, models.RoleRetailer)
	viewer := testutil.CreateUser(t, ts.db, models.RoleCustomer)
	require.NoError(t, ts.db.Model(&models.User{}).Where("id IN ?", []uint{seller.ID, viewer.ID}).
		UpdateColumn("phone", "+255700000001").Error)
	product := testutil.CreateProduct(t, ts.db, seller.ID)
	story := testutil.CreateStory(t, ts.db, seller.ID, time.Now().UTC(), 24*time.Hour)

	status, body := ts.doJSON(t, http.MethodPost, idPath("/api/stories/", story.ID, "/view"), nil, ts.tokenFor(t, viewer))
	require.Equal(t, http.StatusOK, status, body)

	assertPublicUser := func(t *testing.T, raw interface{}) {
		t.Helper()
		u, ok := raw.(map[string]interface{})
		require.True(t, ok, "user object present")
		assert.NotEmpty(t, u["name"])
		for _, private := range []string{"phone", "isVerified", "isActive", "createdAt", "updatedAt"} {
			assert.NotContains(t, u, private)
		}
	}

	status, body = ts.doJSON(t, http.MethodGet, idPath("/api/stories/", story.ID, ""), nil, "")
	require.Equal(t, http.StatusOK, status, body)
	assertPublicUser(t, body["data"].(map[string]interface{})["user"])

	status, body = ts.doJSON(t, http.MethodGet, idPath("/api/stories/user/", seller.ID, ""), nil, "")
	require.Equal(t, http.StatusOK, status, body)
	assertPublicUser(t, body["data"].([]interface{})[0].(map[string]interface{})["user"])

	status, body = ts.doJSON(t, http.MethodGet, idPath("/api/stories/", story.ID, "/views"), nil, ts.tokenFor(t, seller))
	require.Equal(t, http.StatusOK, status, body)
	assertPublicUser(t, body["views"].([]interface{})[0].(map[string]interface{})["user"])

	status, body = ts.doJSON(t, http.MethodGet, idPath("/api/products/", product.ID, ""), nil, "")
	require.Equal(t, http.StatusOK, status, body)
	assertPublicUser(t, body["seller"])
}

func TestCreateStoryRejections(t *testing.T) {
	ts := newTestServer(t)
	seller := testutil.CreateUser(t, ts.db, models.RoleRetailer)
	tok := ts.tokenFor(t, seller)

	status, body := ts.do(t, storyUpload(t, "", nil, map[string]string{"caption": "x"}), tok)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "No media file uploaded", body["error"])

	status, _ = ts.do(t, storyUpload(t, "notes.txt", []byte("plain text, not media"), nil), tok)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = ts.do(t, storyUpload(t, "a.png", pngFixture(t), map[string]string{"duration": "soon"}), tok)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = ts.do(t, storyUpload(t, "a.png", pngFixture(t), map[string]string{"product": "9999"}), tok)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, models.CodeNotFound, body["code"])

	var leftovers []string
	_ = filepath.WalkDir(ts.cfg.UploadDir, func(p string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			leftovers = append(leftovers, p)
		}
		return nil
	})
	assert.Empty(t, leftovers, "rejected stories leave no files behind")
}

func TestFollowEndpoints(t *testing.T) {
	ts := newTestServer(t)
	a := testutil.CreateUser(t, ts.db, models.RoleCustomer)
	b := testutil.CreateUser(t, ts.db, models.RoleWholesaler)
	tok := ts.tokenFor(t, a)

	status, body := ts.doJSON(t, http.MethodPost, idPath("/api/users/follow/", a.ID, ""), nil, tok)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, models.CodeValidation, body["code"])

	status, body = ts.doJSON(t, http.MethodPost, "/api/users/follow/abc", nil, tok)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid user ID", body["error"])

	status, _ = ts.doJSON(t, http.MethodPost, "/api/users/follow/9999", nil, tok)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = ts.doJSON(t, http.MethodPost, idPath("/api/users/follow/", b.ID, ""), nil, tok)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "User followed successfully", body["message"])

	_, body = ts.doJSON(t, http.MethodGet, idPath("/api/users/check-following/", b.ID, ""), nil, tok)
	assert.Equal(t, true, body["isFollowing"])

	_, body = ts.doJSON(t, http.MethodGet, idPath("/api/users/followers/", b.ID, ""), nil, tok)
	assert.Equal(t, float64(1), body["count"])
	followers := body["followers"].([]interface{})
	assert.Equal(t, float64(a.ID), followers[0].(map[string]interface{})["id"])

	_, body = ts.doJSON(t, http.MethodGet, "/api/users/following", nil, tok)
	assert.Equal(t, float64(1), body["count"])

	status, body = ts.doJSON(t, http.MethodDelete, idPath("/api/users/follow/", b.ID, ""), nil, tok)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "User unfollowed successfully", body["message"])
	assert.Equal(t, float64(0), body["followingCount"])

	_, body = ts.doJSON(t, http.MethodGet, idPath("/api/users/check-following/", b.ID, ""), nil, tok)
	assert.Equal(t, false, body["isFollowing"])
}

func TestLoginAndLogoutRevokesToken(t *testing.T) {
	ts := newTestServer(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("Sokoni#2026"), bcrypt.MinCost)
	require.NoError(t, err)
	u := &models.User{Name: "Wanjiru", Email: "wanjiru@example.test", Password: string(hash),
		Role: models.RoleRetailer, IsVerified: true, IsActive: true}
	require.NoError(t, ts.db.Create(u).Error)

	status, _ := ts.doJSON(t, http.MethodPost, "/api/auth/login",
		map[string]string{"email": u.Email, "password": "wrong-password"}, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := ts.doJSON(t, http.MethodPost, "/api/auth/login",
		map[string]string{"email": "WANJIRU@example.test", "password": "Sokoni#2026"}, "")
	require.Equal(t, http.StatusOK, status, body)
	access := body["accessToken"].(string)
	refresh := body["refreshToken"].(string)
	assert.Equal(t, "Login successful", body["message"])

	status, body = ts.doJSON(t, http.MethodGet, "/api/users/me", nil, access)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, u.Email, body["email"])

	status, body = ts.doJSON(t, http.MethodPost, "/api/auth/refresh",
		map[string]string{"refreshToken": refresh}, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.NotEmpty(t, body["accessToken"])

	status, _ = ts.doJSON(t, http.MethodPost, "/api/auth/refresh-token",
		map[string]string{"refreshToken": refresh}, "")
	assert.Equal(t, http.StatusUnauthorized, status, "rotated refresh token is single use on either path")

	status, _ = ts.doJSON(t, http.MethodPost, "/api/auth/logout", nil, access)
	require.Equal(t, http.StatusOK, status)

	status, body = ts.doJSON(t, http.MethodGet, "/api/users/me", nil, access)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Token has been revoked", body["error"])
}

func TestRegisterEndpoint(t *testing.T) {
	ts := newTestServer(t)

	status, _ := ts.doJSON(t, http.MethodPost, "/api/auth/register", map[string]string{"email": "x@example.test"}, "")
	assert.Equal(t, http.StatusBadRequest, status)

	payload := map[string]string{
		"name": "Otieno", "email": "otieno@example.test", "password": "Str0ng!pass", "role": "wholesaler",
		"businessName": "Otieno Grains",
	}
	status, body := ts.doJSON(t, http.MethodPost, "/api/auth/register", payload, "")
	require.Equal(t, http.StatusCreated, status, body)
	assert.NotZero(t, body["userId"])

	status, _ = ts.doJSON(t, http.MethodPost, "/api/auth/register", payload, "")
	assert.Equal(t, http.StatusConflict, status)

	status, body = ts.doJSON(t, http.MethodPost, "/api/auth/login",
		map[string]string{"email": payload["email"], "password": payload["password"]}, "")
	assert.Equal(t, http.StatusForbidden, status, "unverified accounts cannot log in")
	assert.Equal(t, models.CodeForbidden, body["code"])
}

func TestRoleGuards(t *testing.T) {
	ts := newTestServer(t)
	customer := testutil.CreateUser(t, ts.db, models.RoleCustomer)
	admin := testutil.CreateUser(t, ts.db, models.RoleAdmin)

	status, _ := ts.doJSON(t, http.MethodGet, "/api/admin/feature-flags", nil, ts.tokenFor(t, customer))
	assert.Equal(t, http.StatusForbidden, status)

	status, body := ts.doJSON(t, http.MethodGet, "/api/admin/feature-flags", nil, ts.tokenFor(t, admin))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "off", body["flags"].(map[string]interface{})["follow_notifications"])
	assert.Equal(t, false, body["evaluated"].(map[string]interface{})["follow_notifications"])

	status, _ = ts.doJSON(t, http.MethodPut, idPath("/api/users/", customer.ID, "/role"),
		map[string]string{"role": "retailer"}, ts.tokenFor(t, customer))
	assert.Equal(t, http.StatusForbidden, status)

	status, body = ts.doJSON(t, http.MethodPut, idPath("/api/users/", customer.ID, "/role"),
		map[string]string{"role": "retailer"}, ts.tokenFor(t, admin))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "retailer", body["role"])
}

func TestProductEndpoints(t *testing.T) {
	ts := newTestServer(t)
	customer := testutil.CreateUser(t, ts.db, models.RoleCustomer)
	seller := testutil.CreateUser(t, ts.db, models.RoleRetailer)
	other := testutil.CreateUser(t, ts.db, models.RoleRetailer)
	item := map[string]interface{}{"title": "Kiondo basket", "price": 850, "category": "Crafts", "stock": 4}

	status, _ := ts.doJSON(t, http.MethodPost, "/api/products", item, ts.tokenFor(t, customer))
	assert.Equal(t, http.StatusForbidden, status)

	status, body := ts.doJSON(t, http.MethodPost, "/api/products", item, ts.tokenFor(t, seller))
	require.Equal(t, http.StatusCreated, status, body)
	productID := uint(body["product"].(map[string]interface{})["id"].(float64))

	status, body = ts.doJSON(t, http.MethodGet, "/api/products?category=crafts", nil, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["total"])

	status, _ = ts.doJSON(t, http.MethodPut, idPath("/api/products/", productID, ""),
		map[string]interface{}{"price": 900}, ts.tokenFor(t, other))
	assert.Equal(t, http.StatusForbidden, status)

	status, body = ts.doJSON(t, http.MethodPut, idPath("/api/products/", productID, ""),
		map[string]interface{}{"price": 900}, ts.tokenFor(t, seller))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(900), body["product"].(map[string]interface{})["price"])

	status, _ = ts.doJSON(t, http.MethodDelete, idPath("/api/products/", productID, ""), nil, ts.tokenFor(t, seller))
	require.Equal(t, http.StatusOK, status)
	status, _ = ts.doJSON(t, http.MethodGet, idPath("/api/products/", productID, ""), nil, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestNotificationEndpoints(t *testing.T) {
	ts := newTestServer(t)
	u := testutil.CreateUser(t, ts.db, models.RoleCustomer)
	tok := ts.tokenFor(t, u)

	for _, title := range []string{"Welcome", "New follower"} {
		require.NoError(t, ts.db.Create(&models.Notification{
			RecipientID: u.ID, Type: models.NotificationSystem, Title: title, Message: title,
		}).Error)
	}

	_, body := ts.doJSON(t, http.MethodGet, "/api/notifications/unread-count", nil, tok)
	assert.Equal(t, float64(2), body["count"])

	var first models.Notification
	require.NoError(t, ts.db.Where("recipient_id = ?", u.ID).Order("id").First(&first).Error)
	status, _ := ts.doJSON(t, http.MethodPut, idPath("/api/notifications/", first.ID, "/read"), nil, tok)
	require.Equal(t, http.StatusOK, status)

	_, body = ts.doJSON(t, http.MethodGet, "/api/notifications/unread-count", nil, tok)
	assert.Equal(t, float64(1), body["count"])

	status, body = ts.doJSON(t, http.MethodPut, "/api/notifications/read-all", nil, tok)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["updated"])

	req := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
	status, _ = ts.do(t, req, tok)
	assert.Equal(t, http.StatusUpgradeRequired, status, "plain GET on the websocket route is refused")
}
