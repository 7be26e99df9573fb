package service

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"gitlab.com/dirk.krummacker/contact-directory/internal/model"
)

// PhotoReader opens stored photo files for download.
type PhotoReader interface {
	Open(path string) (*os.File, error)
}

// RouterConfig holds the settings of the REST API.
type RouterConfig struct {
	RequestLogging   bool
	MaxPhotoBytes    int64
	DefaultPageSize  int
	MaxPageSize      int
	AllowedOrigins   []string
	AllowCredentials bool
}

// handler serves the REST API on top of a Directory.
type handler struct {
	dir    *Directory
	photos PhotoReader
	cfg    RouterConfig
	log    *slog.Logger
}

// SetupHttpRouter initializes the REST API router and registers all endpoints.
func SetupHttpRouter(dir *Directory, photos PhotoReader, cfg RouterConfig) *gin.Engine {
	var router *gin.Engine
	if cfg.RequestLogging {
		router = gin.Default()
	} else {
		router = gin.New()
		router.Use(gin.Recovery())
	}
	router.MaxMultipartMemory = cfg.MaxPhotoBytes
	router.Use(requestID(), cors(cfg.AllowedOrigins, cfg.AllowCredentials))

	h := &handler{dir: dir, photos: photos, cfg: cfg, log: dir.log.With("component", "http")}
	router.GET("/health", h.health)
	router.GET("/contacts", h.findContacts)
	router.GET("/contacts/search", h.searchContacts)
	router.POST("/contacts", h.createContact)
	router.GET("/contacts/:id", h.findContactByID)
	router.GET("/contacts/:id/photo", h.findPhotoByContactID)
	router.PUT("/contacts/:id", h.updateContactByID)
	router.DELETE("/contacts/:id", h.deleteContactByID)
	return router
}

// health answers as long as the process serves requests.
//
//	> curl http://localhost:8080/health
func (h *handler) health(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, gin.H{"status": "ok"})
}

// findContacts responds with one page of contacts as JSON, ordered by first name and last name.
//
// The URL parameters 'page' (zero-based, default 0) and 'size' (default 10) select the page. Sizes
// above the configured maximum are reduced to it. If the URL parameter 'search' is not blank, only
// contacts whose name, email, phone or company contain it are returned.
//
// REST API calls:
//
//	> curl "http://localhost:8080/contacts"
//	> curl "http://localhost:8080/contacts?page=2&size=20"
//	> curl "http://localhost:8080/contacts?search=smi"
func (h *handler) findContacts(c *gin.Context) {
	h.respondWithPage(c, c.Query("search"))
}

// searchContacts responds with one page of the contacts matching the URL parameter 'searchTerm'.
// Paging works as for findContacts.
//
// Example REST API call:
//
//	> curl "http://localhost:8080/contacts/search?searchTerm=tech&page=0&size=10"
func (h *handler) searchContacts(c *gin.Context) {
	h.respondWithPage(c, c.Query("searchTerm"))
}

func (h *handler) respondWithPage(c *gin.Context, term string) {
	page, size, success := h.parsePageAndSize(c)
	if !success {
		return
	}
	result, err := h.dir.Search(c.Request.Context(), term, page, size)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, result)
}

// parsePageAndSize inspects the URL parameters and determines the requested page and page size.
func (h *handler) parsePageAndSize(c *gin.Context) (page int, size int, success bool) {
	page, size = 0, h.cfg.DefaultPageSize
	if s := c.Query("page"); s != "" {
		var err error
		page, err = strconv.Atoi(s)
		if err != nil || page < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid page parameter"})
			return 0, 0, false
		}
	}
	if s := c.Query("size"); s != "" {
		var err error
		size, err = strconv.Atoi(s)
		if err != nil || size < 1 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid size parameter"})
			return 0, 0, false
		}
	}
	return page, min(size, h.cfg.MaxPageSize), true
}

// createContact stores the contact specified in the request and responds with the full contact
// data including the newly assigned id.
//
// The request is either plain JSON or a multipart form with the JSON in the part 'contact' and an
// optional image in the part 'photo'.
//
// Example REST API calls:
//
//	> curl http://localhost:8080/contacts --request "POST" --include --header "Content-Type: application/json" --data '{"firstName": "Erika", "lastName": "Mustermann", "email": "erika@example.com"}'
//	> curl http://localhost:8080/contacts --include --form 'contact={"firstName": "Erika", "lastName": "Mustermann", "email": "erika@example.com"};type=application/json' --form photo=@erika.jpg
func (h *handler) createContact(c *gin.Context) {
	in, upload, success := h.bindContact(c)
	if !success {
		return
	}
	created, err := h.dir.Create(c.Request.Context(), in, upload)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, created)
}

// findContactByID locates the contact whose ID value matches the id parameter of the request URL,
// then returns that contact as a response.
//
// Example REST API call:
//
//	> curl http://localhost:8080/contacts/56
func (h *handler) findContactByID(c *gin.Context) {
	id, success := parseID(c)
	if !success {
		return
	}
	contact, err := h.dir.Get(c.Request.Context(), id)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, contact)
}

// findPhotoByContactID responds with the photo file of the contact.
//
// Example REST API call:
//
//	> curl http://localhost:8080/contacts/56/photo --output photo.jpg
func (h *handler) findPhotoByContactID(c *gin.Context) {
	id, success := parseID(c)
	if !success {
		return
	}
	contact, err := h.dir.Get(c.Request.Context(), id)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	if !contact.HasPhoto() {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "photo not found"})
		return
	}
	f, err := h.photos.Open(*contact.PhotoPath)
	if err != nil {
		h.log.WarnContext(c.Request.Context(), "photo file missing",
			slog.Int64("contact_id", id),
			slog.String("error", err.Error()),
		)
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "photo not found"})
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	http.ServeContent(c.Writer, c.Request, *contact.PhotoFileName, info.ModTime(), f)
}

// updateContactByID replaces the values of the contact whose ID value matches the id parameter of
// the request URL and responds with the new version of the contact. The request has the same form
// as for createContact. Without a photo part the current photo is kept.
//
// Example REST API call:
//
//	> curl http://localhost:8080/contacts/56 --request "PUT" --include --header "Content-Type: application/json" --data '{"firstName": "Rudi", "lastName": "Völler", "email": "rudi@example.com"}'
func (h *handler) updateContactByID(c *gin.Context) {
	id, success := parseID(c)
	if !success {
		return
	}
	in, upload, success := h.bindContact(c)
	if !success {
		return
	}
	updated, err := h.dir.Update(c.Request.Context(), id, in, upload)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, updated)
}

// deleteContactByID deletes the contact whose ID value matches the id parameter of the request URL,
// together with its photo.
//
// Example REST API call:
//
//	> curl http://localhost:8080/contacts/56 --request "DELETE"
func (h *handler) deleteContactByID(c *gin.Context) {
	id, success := parseID(c)
	if !success {
		return
	}
	if err := h.dir.Delete(c.Request.Context(), id); err != nil {
		h.abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// parseID reads the id parameter of the request URL. Ids that are not numbers cannot exist.
func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "invalid id parameter"})
		return 0, false
	}
	return id, true
}

// bindContact decodes the contact values and the optional photo of a create or update request.
func (h *handler) bindContact(c *gin.Context) (model.ContactInput, *model.PhotoUpload, bool) {
	var in model.ContactInput
	if c.ContentType() != binding.MIMEMultipartPOSTForm {
		if err := c.ShouldBindJSON(&in); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid JSON"})
			return in, nil, false
		}
		return in, nil, true
	}

	// Leave room for the contact part and the multipart framing.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxPhotoBytes+1<<20)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"message": "request too large"})
		} else {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid multipart form"})
		}
		return in, nil, false
	}

	raw, err := contactPart(form)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return in, nil, false
	}
	if err := binding.JSON.BindBody(raw, &in); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid JSON"})
		return in, nil, false
	}

	files := form.File["photo"]
	if len(files) == 0 {
		return in, nil, true
	}
	if files[0].Size > h.cfg.MaxPhotoBytes {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"message": "photo too large"})
		return in, nil, false
	}
	data, err := readPart(files[0])
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid photo part"})
		return in, nil, false
	}
	return in, &model.PhotoUpload{Filename: files[0].Filename, Data: data}, true
}

// contactPart returns the JSON of the 'contact' part. Browsers send it either as a plain value or,
// when appended as a Blob, as a file.
func contactPart(form *multipart.Form) ([]byte, error) {
	if values := form.Value["contact"]; len(values) > 0 {
		return []byte(values[0]), nil
	}
	if files := form.File["contact"]; len(files) > 0 {
		return readPart(files[0])
	}
	return nil, errors.New("contact part missing")
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// abortWithError maps service errors to HTTP responses.
func (h *handler) abortWithError(c *gin.Context, err error) {
	var validationErr *model.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"message": "validation failed",
			"errors":  validationErr.Errors,
		})
	case IsNotFound(err):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "contact not found"})
	case errors.Is(err, model.ErrStorage):
		h.log.ErrorContext(c.Request.Context(), "photo storage failed",
			slog.String("request_id", c.GetString(requestIDKey)),
			slog.String("error", err.Error()),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "photo storage failed"})
	default:
		h.log.ErrorContext(c.Request.Context(), "request failed",
			slog.String("request_id", c.GetString(requestIDKey)),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
	}
}

const requestIDKey = "requestID"

// requestID keeps the caller's X-Request-ID or assigns a new one, and echoes it in the response.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// cors answers preflight requests and sets the CORS headers for the allowed origins.
func cors(origins []string, allowCredentials bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && isAllowedOrigin(origin, origins) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			if allowCredentials {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			c.Header("Access-Control-Max-Age", "86400")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func isAllowedOrigin(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a = strings.TrimSpace(a); a == "*" || a == origin {
			return true
		}
	}
	return false
}
