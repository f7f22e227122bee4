// Package http exposes the grievance service over Fiber.
package http

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"grievance_server/adapter/out/storage"
	"grievance_server/core/domain"
	"grievance_server/core/port/in"
	"grievance_server/core/port/out"
	"grievance_server/pkg/apperr"
	"grievance_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// GrievanceHandler serves processing, query and download endpoints.
type GrievanceHandler struct {
	svc         in.GrievanceService
	parser      out.EmailParser
	sources     map[string]out.MailSource
	producer    out.JobProducer // nil: async requests run inline
	attachments out.AttachmentStore
	rawStore    out.RawEmailStore
}

// GrievanceHandlerDeps holds the handler's collaborators. Optional ones
// may be nil.
type GrievanceHandlerDeps struct {
	Service     in.GrievanceService
	Parser      out.EmailParser
	Sources     []out.MailSource
	Producer    out.JobProducer
	Attachments out.AttachmentStore
	RawStore    out.RawEmailStore
}

func NewGrievanceHandler(deps GrievanceHandlerDeps) *GrievanceHandler {
	h := &GrievanceHandler{
		svc:         deps.Service,
		parser:      deps.Parser,
		sources:     make(map[string]out.MailSource, len(deps.Sources)),
		producer:    deps.Producer,
		attachments: deps.Attachments,
		rawStore:    deps.RawStore,
	}
	for _, src := range deps.Sources {
		if src != nil {
			h.sources[src.Name()] = src
		}
	}
	return h
}

// Register mounts the routes. admin guards the mutating ones.
func (h *GrievanceHandler) Register(app fiber.Router, admin ...fiber.Handler) {
	guarded := func(handler fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, admin...), handler)
	}

	app.Post("/process", guarded(h.Process)...)
	app.Post("/reprocess", guarded(h.Reprocess)...)
	app.Post("/emails", guarded(h.Upload)...)

	app.Get("/categories", h.Categories)
	app.Get("/emails", h.EmailsByCategory)
	app.Get("/emails/:id/thread", h.Thread)
	app.Get("/emails/:id", h.Email)
	app.Get("/dashboard", h.Dashboard)
	app.Get("/senders", h.Senders)

	app.Post("/classify", h.Classify)
	app.Post("/resolve", h.Resolve)

	app.Get("/download/attachment/:key", h.DownloadAttachment)
	app.Get("/download/email/:file", h.DownloadEmail)
}

// wantsAsync reports whether the caller asked for queued processing and a
// queue exists.
func (h *GrievanceHandler) wantsAsync(c *fiber.Ctx) bool {
	return h.producer != nil && c.QueryBool("async", false)
}

// Process runs a batch over a mail source (default "dir").
func (h *GrievanceHandler) Process(c *fiber.Ctx) error {
	name := c.Query("source", "dir")
	src, ok := h.sources[name]
	if !ok {
		return apperr.BadRequest(fmt.Sprintf("unknown source %q", name))
	}

	if h.wantsAsync(c) {
		job := &out.BatchJob{ID: uuid.New().String(), Source: name, CreatedAt: time.Now().UTC()}
		if err := h.producer.PublishBatch(c.UserContext(), job); err != nil {
			return apperr.ExternalError("redis", err)
		}
		return AcceptedResponse(c, job)
	}

	raws, err := src.Fetch(c.UserContext())
	if err != nil {
		return apperr.ExternalError(name, err)
	}
	report, err := h.svc.ProcessBatch(c.UserContext(), raws, name)
	if err != nil {
		return err
	}
	return SuccessResponse(c, report)
}

// Reprocess recomputes threading for all history.
func (h *GrievanceHandler) Reprocess(c *fiber.Ctx) error {
	if h.wantsAsync(c) {
		job := &out.ReprocessJob{ID: uuid.New().String(), CreatedAt: time.Now().UTC()}
		if err := h.producer.PublishReprocess(c.UserContext(), job); err != nil {
			return apperr.ExternalError("redis", err)
		}
		return AcceptedResponse(c, job)
	}

	report, err := h.svc.Reprocess(c.UserContext())
	if err != nil {
		return err
	}
	return SuccessResponse(c, report)
}

// Upload ingests one raw .eml message from the request body.
func (h *GrievanceHandler) Upload(c *fiber.Ctx) error {
	raw := c.Body()
	if len(raw) == 0 {
		return apperr.MissingField("body")
	}
	name := filepath.Base(c.Query("name", ""))
	if name == "" || name == "." || name == "/" {
		name = "upload-" + uuid.New().String() + ".eml"
	}

	if h.wantsAsync(c) {
		job := &out.IngestJob{
			ID:        uuid.New().String(),
			Name:      name,
			Raw:       append([]byte(nil), raw...),
			CreatedAt: time.Now().UTC(),
		}
		if err := h.producer.PublishIngest(c.UserContext(), job); err != nil {
			return apperr.ExternalError("redis", err)
		}
		return AcceptedResponse(c, fiber.Map{"id": job.ID, "name": job.Name})
	}

	parsed, err := h.parser.Parse(name, append([]byte(nil), raw...))
	if err != nil {
		return err
	}
	result, err := h.svc.Ingest(c.UserContext(), parsed)
	if err != nil {
		return err
	}
	return SuccessResponse(c, result)
}

func (h *GrievanceHandler) Categories(c *fiber.Ctx) error {
	counts, err := h.svc.Categories(c.UserContext())
	if err != nil {
		return err
	}
	return SuccessResponse(c, counts)
}

func (h *GrievanceHandler) EmailsByCategory(c *fiber.Ctx) error {
	category := strings.TrimSpace(c.Query("category"))
	if category == "" {
		return apperr.MissingField("category")
	}
	emails, err := h.svc.EmailsByCategory(c.UserContext(), domain.Category(category))
	if err != nil {
		return err
	}
	return SuccessResponse(c, toEmailViews(emails))
}

func (h *GrievanceHandler) Email(c *fiber.Ctx) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	e, err := h.svc.Email(c.UserContext(), id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, newEmailView(e))
}

func (h *GrievanceHandler) Thread(c *fiber.Ctx) error {
	id, err := pathParam(c, "id")
	if err != nil {
		return err
	}
	emails, err := h.svc.Thread(c.UserContext(), id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, toEmailViews(emails))
}

func (h *GrievanceHandler) Dashboard(c *fiber.Ctx) error {
	stats, err := h.svc.Dashboard(c.UserContext())
	if err != nil {
		return err
	}
	return SuccessResponse(c, stats)
}

func (h *GrievanceHandler) Senders(c *fiber.Ctx) error {
	senders, err := h.svc.Senders(c.UserContext())
	if err != nil {
		return err
	}
	return SuccessResponse(c, senders)
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Category domain.Category         `json:"category"`
	Scores   map[domain.Category]int `json:"scores"`
}

// Classify labels free text without touching history.
func (h *GrievanceHandler) Classify(c *fiber.Ctx) error {
	var req classifyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	category, scores := h.svc.Classify(req.Text)
	return SuccessResponse(c, classifyResponse{Category: category, Scores: scores})
}

type resolveRequest struct {
	EmailID       string     `json:"email_id"`
	ParentEmailID string     `json:"parent_email_id"`
	Sender        string     `json:"sender"`
	Subject       string     `json:"subject"`
	Content       string     `json:"content"`
	Date          *time.Time `json:"date"`
}

// Resolve reports the threading decision a record would get against the
// current history. Nothing is stored.
func (h *GrievanceHandler) Resolve(c *fiber.Ctx) error {
	var req resolveRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if strings.TrimSpace(req.Sender) == "" {
		return apperr.InvalidEmail("sender is required")
	}

	email := &domain.GrievanceEmail{
		EmailID:       strings.TrimSpace(req.EmailID),
		ParentEmailID: strings.TrimSpace(req.ParentEmailID),
		Sender:        strings.TrimSpace(req.Sender),
		Subject:       req.Subject,
		Content:       req.Content,
		Date:          req.Date,
	}
	if email.Content == "" {
		email.Content = req.Subject
	}
	return SuccessResponse(c, h.svc.Resolve(c.UserContext(), email))
}

// DownloadAttachment streams a stored attachment by key.
func (h *GrievanceHandler) DownloadAttachment(c *fiber.Ctx) error {
	if h.attachments == nil {
		return apperr.NotFound("attachment")
	}
	key, err := pathParam(c, "key")
	if err != nil {
		return err
	}
	if !storage.ValidKey(key) {
		return apperr.BadRequest("invalid attachment key")
	}

	rc, size, err := h.attachments.Open(c.UserContext(), key)
	if errors.Is(err, out.ErrObjectNotFound) {
		return apperr.NotFound("attachment")
	}
	if err != nil {
		return apperr.StorageError("open attachment", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = fiber.MIMEOctetStream
	}
	c.Attachment(key)
	c.Set(fiber.HeaderContentType, contentType)
	return c.SendStream(rc, int(size))
}

// DownloadEmail returns the archived raw message for an EML file name.
func (h *GrievanceHandler) DownloadEmail(c *fiber.Ctx) error {
	if h.rawStore == nil {
		return apperr.NotFound("email file")
	}
	file, err := pathParam(c, "file")
	if err != nil {
		return err
	}
	if file != filepath.Base(file) || strings.Contains(file, `\`) {
		return apperr.BadRequest("invalid file name")
	}

	raw, err := h.rawStore.Load(c.UserContext(), file)
	if errors.Is(err, out.ErrObjectNotFound) {
		return apperr.NotFound("email file")
	}
	if err != nil {
		logger.WithError(err).Warn("raw email load failed: %s", file)
		return apperr.StorageError("load email", err)
	}

	c.Attachment(file)
	c.Set(fiber.HeaderContentType, "message/rfc822")
	return c.Send(raw)
}

// emailView is the JSON shape of a record. The display date falls back
// to the processing time when the message carried none.
type emailView struct {
	*domain.GrievanceEmail
	DisplayDate string `json:"display_date"`
}

func newEmailView(e *domain.GrievanceEmail) emailView {
	return emailView{GrievanceEmail: e, DisplayDate: e.DisplayDate()}
}

func toEmailViews(emails []*domain.GrievanceEmail) []emailView {
	views := make([]emailView, 0, len(emails))
	for _, e := range emails {
		views = append(views, newEmailView(e))
	}
	return views
}
