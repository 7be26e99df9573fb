package service

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/dirk.krummacker/contact-directory/internal/model"
)

var testRouterConfig = RouterConfig{
	MaxPhotoBytes:   1 << 20,
	DefaultPageSize: 10,
	MaxPageSize:     100,
	AllowedOrigins:  []string{"http://localhost:3000"},
}

// initializeRouter sets up the REST API on top of the test environment and returns a handle to
// the gin engine against which requests can be executed.
func initializeRouter(env *testEnv, cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	return SetupHttpRouter(env.dir, env.photos, cfg)
}

// runRequest executes the HTTP request and returns the response.
func runRequest(router *gin.Engine, request *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func jsonRequest(method, url, body string) *http.Request {
	request := httptest.NewRequest(method, url, strings.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	return request
}

// multipartRequest builds a request like a browser does: the contact JSON as a Blob part and an
// optional photo file.
func multipartRequest(t *testing.T, method, url, contact string, photoName string, photo []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="contact"; filename="blob"`)
	header.Set("Content-Type", "application/json")
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte(contact))
	require.NoError(t, err)

	if photo != nil {
		part, err = writer.CreateFormFile("photo", photoName)
		require.NoError(t, err)
		_, err = part.Write(photo)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	request := httptest.NewRequest(method, url, body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	return request
}

func decodeContact(t *testing.T, recorder *httptest.ResponseRecorder) model.Contact {
	t.Helper()
	var c model.Contact
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &c))
	return c
}

func decodePage(t *testing.T, recorder *httptest.ResponseRecorder) model.Page[model.Contact] {
	t.Helper()
	var p model.Page[model.Contact]
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &p))
	return p
}

const janeJSON = `{"firstName": "Jane", "lastName": "Smith", "email": "jane.smith@example.com", "company": "Tech Corp"}`

// TestHealth expects the health endpoint to answer.
func TestHealth(t *testing.T) {
	router := initializeRouter(newTestEnv(t), testRouterConfig)
	recorder := runRequest(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"status": "ok"}`, recorder.Body.String())
}

// TestCreateJSON executes a POST request with a plain JSON body. It expects the stored contact with
// a new id to be returned.
func TestCreateJSON(t *testing.T) {
	router := initializeRouter(newTestEnv(t), testRouterConfig)

	recorder := runRequest(router, jsonRequest(http.MethodPost, "/contacts", janeJSON))

	assert.Equal(t, http.StatusCreated, recorder.Code)
	c := decodeContact(t, recorder)
	assert.Equal(t, int64(1), c.Id)
	assert.Equal(t, "Jane", c.FirstName)
	assert.Equal(t, "Tech Corp", c.Company)
	assert.Nil(t, c.PhotoPath)
	assert.False(t, c.CreatedAt.IsZero())
}

// TestCreateMultipartWithPhoto executes a POST request like the browser frontend sends it. It
// expects the photo to be stored and downloadable.
func TestCreateMultipartWithPhoto(t *testing.T) {
	env := newTestEnv(t)
	router := initializeRouter(env, testRouterConfig)

	recorder := runRequest(router, multipartRequest(t, http.MethodPost, "/contacts", janeJSON, "face.jpg", []byte("jpeg bytes")))

	require.Equal(t, http.StatusCreated, recorder.Code)
	c := decodeContact(t, recorder)
	require.NotNil(t, c.PhotoPath)
	assert.True(t, strings.HasSuffix(*c.PhotoFileName, "_face.jpg"))
	assert.True(t, fileExists(*c.PhotoPath))

	recorder = runRequest(router, httptest.NewRequest(http.MethodGet, "/contacts/1/photo", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "jpeg bytes", recorder.Body.String())
	assert.Equal(t, "image/jpeg", recorder.Header().Get("Content-Type"))
}

// TestCreateMultipartContactAsValue expects the contact part to be accepted as a plain form value.
func TestCreateMultipartContactAsValue(t *testing.T) {
	router := initializeRouter(newTestEnv(t), testRouterConfig)
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("contact", janeJSON))
	require.NoError(t, writer.Close())
	request := httptest.NewRequest(http.MethodPost, "/contacts", body)
	request.Header.Set("Content-Type", writer.FormDataContentType())

	recorder := runRequest(router, request)

	assert.Equal(t, http.StatusCreated, recorder.Code)
	assert.Equal(t, "Jane", decodeContact(t, recorder).FirstName)
}

// TestCreateInvalid expects a 400 response listing the offending fields, and nothing stored.
func TestCreateInvalid(t *testing.T) {
	env := newTestEnv(t)
	router := initializeRouter(env, testRouterConfig)

	recorder := runRequest(router, jsonRequest(http.MethodPost, "/contacts", `{"firstName": " ", "email": "nope"}`))

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	var body struct {
		Message string             `json:"message"`
		Errors  []model.FieldError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	var fields []string
	for _, e := range body.Errors {
		fields = append(fields, e.Field)
	}
	assert.Contains(t, fields, "firstName")
	assert.Contains(t, fields, "lastName")
	assert.Contains(t, fields, "email")
	assert.Equal(t, 0, env.store.Count())
}

// TestCreateMalformed expects a 400 response for bodies that cannot be decoded.
func TestCreateMalformed(t *testing.T) {
	router := initializeRouter(newTestEnv(t), testRouterConfig)

	recorder := runRequest(router, jsonRequest(http.MethodPost, "/contacts", `{"firstName": `))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("other", "x"))
	require.NoError(t, writer.Close())
	request := httptest.NewRequest(http.MethodPost, "/contacts", body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	recorder = runRequest(router, request)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "contact part missing")
}

// TestCreatePhotoTooLarge expects a 413 response and no photo written when the photo exceeds the
// configured limit.
func TestCreatePhotoTooLarge(t *testing.T) {
	env := newTestEnv(t)
	cfg := testRouterConfig
	cfg.MaxPhotoBytes = 16
	router := initializeRouter(env, cfg)

	recorder := runRequest(router, multipartRequest(t, http.MethodPost, "/contacts", janeJSON, "big.png", bytes.Repeat([]byte("x"), 64)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, recorder.Code)
	assert.Equal(t, 0, env.photos.saves)
	assert.Equal(t, 0, env.store.Count())
}

// TestGetByID expects existing contacts to be returned and unknown or malformed ids to answer 404.
func TestGetByID(t *testing.T) {
	router := initializeRouter(newTestEnv(t), testRouterConfig)
	runRequest(router, jsonRequest(http.MethodPost, "/contacts", janeJSON))

	recorder := runRequest(router, httptest.NewRequest(http.MethodGet, "/contacts/1", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "Smith", decodeContact(t, recorder).LastName)

	recorder = runRequest(router, httptest.NewRequest(http.MethodGet, "/contacts/2", nil))
	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.JSONEq(t, `{"message": "contact not found"}`, recorder.Body.String())

	recorder = runRequest(router, httptest.NewRequest(http.MethodGet, "/contacts/abc", nil))
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

// TestPhotoOfContactWithoutPhoto expects a 404 response.
func TestPhotoOfContactWithoutPhoto(t *testing.T) {
	router := initializeRouter(newTestEnv(t), testRouterConfig)
	runRequest(router, jsonRequest(http.MethodPost, "/contacts", janeJSON))

	recorder := runRequest(router, httptest.NewRequest(http.MethodGet, "/contacts/1/photo", nil))
	assert.Equal(t, http.StatusNotFound, recorder.Code)
	recorder = runRequest(router, httptest.NewRequest(http.MethodGet, "/contacts/9/photo", nil))
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

// TestUpdate executes a PUT request with a new photo. It expects the values to be replaced, the
// identity to be kept and the old photo file to be removed.
func TestUpdate(t *testing.T) {
	env := newTestEnv(t)
	router := initializeRouter(env, testRouterConfig)
	created := decodeContact(t, runRequest(router, multipartRequest(t, http.MethodPost, "/contacts", janeJSON, "old.jpg", []byte("old"))))

	recorder := runRequest(router, multipartRequest(t, http.MethodPut, "/contacts/1",
		`{"firstName": "Janet", "lastName": "Smith", "email": "janet@example.com"}`, "new.png", []byte("new")))

	require.Equal(t, http.StatusOK, recorder.Code)
	updated := decodeContact(t, recorder)
	assert.Equal(t, created.Id, updated.Id)
	assert.True(t, created.CreatedAt.Equal(updated.CreatedAt))
	assert.Equal(t, "Janet", updated.FirstName)
	assert.Equal(t, "", updated.Company)
	assert.False(t, fileExists(*created.PhotoPath))
	assert.True(t, fileExists(*updated.PhotoPath))
}

// TestUpdateJSONKeepsPhoto expects an update without photo part to keep the current photo.
func TestUpdateJSONKeepsPhoto(t *testing.T) {
	router := initializeRouter(newTestEnv(t), testRouterConfig)
	created := decodeContact(t, runRequest(router, multipartRequest(t, http.MethodPost, "/contacts", janeJSON, "face.jpg", []byte("face"))))

	recorder := runRequest(router, jsonRequest(http.MethodPut, "/contacts/1", `{"firstName": "Jane", "lastName": "Doe", "email": "jane@example.com"}`))

	require.Equal(t, http.StatusOK, recorder.Code)
	updated := decodeContact(t, recorder)
	assert.Equal(t, *created.PhotoPath, *updated.PhotoPath)
	assert.True(t, fileExists(*updated.PhotoPath))
}

// TestUpdateUnknown expects a 404 response for unknown ids and a 400 response for invalid values.
func TestUpdateUnknown(t *testing.T) {
	router := initializeRouter(newTestEnv(t), testRouterConfig)

	recorder := runRequest(router, jsonRequest(http.MethodPut, "/contacts/5", janeJSON))
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	recorder = runRequest(router, jsonRequest(http.MethodPut, "/contacts/5", `{"firstName": "Jane"}`))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

// TestDelete executes a DELETE request. It expects a 204 response, the photo file to be removed
// and the contact to be gone.
func TestDelete(t *testing.T) {
	router := initializeRouter(newTestEnv(t), testRouterConfig)
	created := decodeContact(t, runRequest(router, multipartRequest(t, http.MethodPost, "/contacts", janeJSON, "face.jpg", []byte("face"))))

	recorder := runRequest(router, httptest.NewRequest(http.MethodDelete, "/contacts/1", nil))
	assert.Equal(t, http.StatusNoContent, recorder.Code)
	assert.False(t, fileExists(*created.PhotoPath))

	recorder = runRequest(router, httptest.NewRequest(http.MethodDelete, "/contacts/1", nil))
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

// TestDeletePhotoFailure expects a 500 response when the photo file cannot be removed.
func TestDeletePhotoFailure(t *testing.T) {
	env := newTestEnv(t)
	router := initializeRouter(env, testRouterConfig)
	runRequest(router, multipartRequest(t, http.MethodPost, "/contacts", janeJSON, "face.jpg", []byte("face")))
	env.photos.deleteErr = &model.StorageError{Op: "delete", Path: "x", Err: io.ErrUnexpectedEOF}

	recorder := runRequest(router, httptest.NewRequest(http.MethodDelete, "/contacts/1", nil))

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.Equal(t, 0, env.store.Count())
}

// TestListPaging expects pages of the requested size in name order.
func TestListPaging(t *testing.T) {
	router := initializeRouter(newTestEnv(t), testRouterConfig)
	for _, first := range []string{"Carl", "Anna", "Bert"} {
		runRequest(router, jsonRequest(http.MethodPost, "/contacts",
			`{"firstName": "`+first+`", "lastName": "X", "email": "`+strings.ToLower(first)+`@example.com"}`))
	}

	recorder := runRequest(router, httptest.NewRequest(http.MethodGet, "/contacts?page=0&size=2", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	page := decodePage(t, recorder)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Anna", page.Items[0].FirstName)
	assert.Equal(t, "Bert", page.Items[1].FirstName)
	assert.Equal(t, 3, page.TotalElements)
	assert.Equal(t, 2, page.TotalPages)

	page = decodePage(t, runRequest(router, httptest.NewRequest(http.MethodGet, "/contacts?page=1&size=2", nil)))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Carl", page.Items[0].FirstName)

	recorder = runRequest(router, httptest.NewRequest(http.MethodGet, "/contacts?page=5", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"items": []`)
}

// TestListHugePageRoute expects a 200 response with an empty page for page numbers whose offset exceeds
// the int range.
func TestListHugePageRoute(t *testing.T) {
	router := initializeRouter(newTestEnv(t), testRouterConfig)
	runRequest(router, jsonRequest(http.MethodPost, "/contacts", janeJSON))

	recorder := runRequest(router, httptest.NewRequest(http.MethodGet, "/contacts?page=922337203685477581&size=10", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	page := decodePage(t, recorder)
	assert.Empty(t, page.Items)
	assert.Equal(t, 1, page.TotalElements)
	assert.Equal(t, 922337203685477581, page.Page)

	recorder = runRequest(router, httptest.NewRequest(http.MethodGet, "/contacts/search?searchTerm=jane&page=922337203685477581", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Empty(t, decodePage(t, recorder).Items)
}

// TestListDefaultsAndLimits expects the default page size, the maximum page size and 400 responses
// for invalid parameters.
func TestListDefaultsAndLimits(t *testing.T) {
	cfg := testRouterConfig
	cfg.DefaultPageSize = 2
	cfg.MaxPageSize = 3
	router := initializeRouter(newTestEnv(t), cfg)

	page := decodePage(t, runRequest(router, httptest.NewRequest(http.MethodGet, "/contacts", nil)))
	assert.Equal(t, 0, page.Page)
	assert.Equal(t, 2, page.Size)

	page = decodePage(t, runRequest(router, httptest.NewRequest(http.MethodGet, "/contacts?size=50", nil)))
	assert.Equal(t, 3, page.Size)

	for _, query := range []string{"page=-1", "page=x", "size=0", "size=-3", "size=y"} {
		recorder := runRequest(router, httptest.NewRequest(http.MethodGet, "/contacts?"+query, nil))
		assert.Equal(t, http.StatusBadRequest, recorder.Code, query)
	}
}

// TestSearchRoutes expects both search routes to return the matching contacts only.
func TestSearchRoutes(t *testing.T) {
	router := initializeRouter(newTestEnv(t), testRouterConfig)
	runRequest(router, jsonRequest(http.MethodPost, "/contacts", janeJSON))
	runRequest(router, jsonRequest(http.MethodPost, "/contacts", `{"firstName": "John", "lastName": "Doe", "email": "john@example.com", "company": "Acme"}`))

	page := decodePage(t, runRequest(router, httptest.NewRequest(http.MethodGet, "/contacts/search?searchTerm=TECH", nil)))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Jane", page.Items[0].FirstName)

	page = decodePage(t, runRequest(router, httptest.NewRequest(http.MethodGet, "/contacts?search=acme", nil)))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "John", page.Items[0].FirstName)

	page = decodePage(t, runRequest(router, httptest.NewRequest(http.MethodGet, "/contacts/search?searchTerm=%20", nil)))
	assert.Equal(t, 2, page.TotalElements)
}

// TestCORS expects allowed origins to be echoed and preflight requests to be answered.
func TestCORS(t *testing.T) {
	router := initializeRouter(newTestEnv(t), testRouterConfig)

	request := httptest.NewRequest(http.MethodOptions, "/contacts", nil)
	request.Header.Set("Origin", "http://localhost:3000")
	recorder := runRequest(router, request)
	assert.Equal(t, http.StatusNoContent, recorder.Code)
	assert.Equal(t, "http://localhost:3000", recorder.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, recorder.Header().Get("Access-Control-Allow-Methods"), "DELETE")

	request = httptest.NewRequest(http.MethodGet, "/contacts", nil)
	request.Header.Set("Origin", "http://evil.example.com")
	recorder = runRequest(router, request)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Empty(t, recorder.Header().Get("Access-Control-Allow-Origin"))
}

// TestRequestID expects a generated request id unless the caller sends one.
func TestRequestID(t *testing.T) {
	router := initializeRouter(newTestEnv(t), testRouterConfig)

	recorder := runRequest(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Len(t, recorder.Header().Get("X-Request-ID"), 36)

	request := httptest.NewRequest(http.MethodGet, "/health", nil)
	request.Header.Set("X-Request-ID", "abc-123")
	recorder = runRequest(router, request)
	assert.Equal(t, "abc-123", recorder.Header().Get("X-Request-ID"))
}
