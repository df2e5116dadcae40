package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"daily-quiz-composer/internal/app"
	"daily-quiz-composer/internal/domain"
	"daily-quiz-composer/internal/logging"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// AdminHandler exposes the composer to the admin console.
type AdminHandler struct {
	service *app.ComposerService
	logger  zerolog.Logger
}

func NewAdminHandler(service *app.ComposerService, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		service: service,
		logger:  logger.With().Str("component", "http").Logger(),
	}
}

// Register mounts the admin routes on mux.
func (h *AdminHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /admin/daily-quiz/compose", h.compose)
	mux.HandleFunc("POST /admin/daily-quiz/preview", h.preview)
	mux.HandleFunc("GET /admin/daily-quiz/stats", h.stats)
	mux.HandleFunc("GET /admin/daily-quiz/availability", h.availability)
	mux.HandleFunc("GET /admin/daily-quiz/health", h.health)
	mux.HandleFunc("GET /admin/daily-quiz/options", h.options)
	mux.HandleFunc("GET /admin/daily-quiz/logs", h.logs)
	mux.HandleFunc("GET /admin/daily-quiz/lookup", h.lookup)
	mux.HandleFunc("GET /admin/daily-quiz/{id}", h.get)
	mux.HandleFunc("GET /admin/daily-quiz/{id}/template", h.template)
	mux.HandleFunc("POST /admin/daily-quiz/{id}/regenerate", h.regenerate)
	mux.HandleFunc("POST /admin/daily-quiz/{id}/swap", h.swap)
	mux.HandleFunc("PUT /admin/daily-quiz/{id}/drop-time", h.dropTime)
	mux.HandleFunc("POST /admin/daily-quiz/{id}/dropped", h.dropped)
	mux.HandleFunc("DELETE /admin/daily-quiz/{id}", h.delete)
}

type composeBody struct {
	DropAtUTC string                   `json:"dropAtUTC"`
	Mode      string                   `json:"mode"`
	Config    domain.ComposerOverrides `json:"config"`
}

type templateView struct {
	QuizID      string          `json:"quizId"`
	Version     int             `json:"version"`
	URL         string          `json:"url"`
	ContentHash string          `json:"contentHash"`
	ContentSize int             `json:"contentSize"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type composeView struct {
	DailyQuiz     domain.DailyQuiz      `json:"dailyQuiz"`
	QuestionCount int                   `json:"questionCount"`
	Questions     []domain.Question     `json:"questions"`
	Template      templateView          `json:"template"`
	Log           domain.CompositionLog `json:"compositionLog"`
}

type quizView struct {
	DailyQuiz domain.DailyQuiz `json:"dailyQuiz"`
	Template  *templateView    `json:"template,omitempty"`
}

type errorView struct {
	Error string           `json:"error"`
	Kind  domain.ErrorKind `json:"kind"`
}

func (h *AdminHandler) compose(w http.ResponseWriter, r *http.Request) {
	var body composeBody
	if !h.decode(w, r, &body) {
		return
	}
	result, err := h.service.ComposeDailyQuiz(r.Context(), app.ComposeRequest{
		DropAtUTC: body.DropAtUTC,
		Mode:      body.Mode,
		Config:    body.Config,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newComposeView(result))
}

func (h *AdminHandler) preview(w http.ResponseWriter, r *http.Request) {
	var body composeBody
	if !h.decode(w, r, &body) {
		return
	}
	result, err := h.service.PreviewComposition(r.Context(), app.ComposeRequest{
		DropAtUTC: body.DropAtUTC,
		Mode:      body.Mode,
		Config:    body.Config,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newComposeView(result))
}

func (h *AdminHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetCompositionStats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *AdminHandler) availability(w http.ResponseWriter, r *http.Request) {
	avail, err := h.service.GetQuestionAvailability(r.Context(), r.URL.Query().Get("dropAtUTC"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, avail)
}

// health answers 503 when the report is unhealthy so probes can alert on it.
func (h *AdminHandler) health(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.GetSystemHealth(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (h *AdminHandler) options(w http.ResponseWriter, r *http.Request) {
	opts, err := h.service.GetConfigurationOptions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

func (h *AdminHandler) logs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entries, err := h.service.GetRecentCompositionLogs(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries, "limit": effectiveLimit(limit), "offset": offset})
}

func (h *AdminHandler) lookup(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.service.GetDailyQuizByDropTime(r.Context(), r.URL.Query().Get("dropAtUTC"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quizView{DailyQuiz: quiz})
}

func (h *AdminHandler) get(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.service.GetDailyQuiz(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quizView{DailyQuiz: quiz})
}

func (h *AdminHandler) template(w http.ResponseWriter, r *http.Request) {
	tmpl, err := h.service.GetTemplate(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTemplateView(tmpl))
}

func (h *AdminHandler) regenerate(w http.ResponseWriter, r *http.Request) {
	quiz, tmpl, err := h.service.RegenerateTemplate(r.Context(), r.PathValue("id"))
	h.respondQuiz(w, r, quiz, tmpl, err)
}

func (h *AdminHandler) swap(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OldQuestionID string `json:"oldQuestionId"`
		NewQuestionID string `json:"newQuestionId"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if body.OldQuestionID == "" {
		h.fail(w, r, domain.Validationf("oldQuestionId is required"))
		return
	}
	quiz, tmpl, err := h.service.SwapQuestion(r.Context(), r.PathValue("id"), body.OldQuestionID, body.NewQuestionID)
	h.respondQuiz(w, r, quiz, tmpl, err)
}

func (h *AdminHandler) dropTime(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DropAtUTC string `json:"dropAtUTC"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	quiz, tmpl, err := h.service.UpdateDropTime(r.Context(), r.PathValue("id"), body.DropAtUTC)
	h.respondQuiz(w, r, quiz, tmpl, err)
}

func (h *AdminHandler) dropped(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.service.MarkDropped(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quizView{DailyQuiz: quiz})
}

func (h *AdminHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteQuiz(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) respondQuiz(w http.ResponseWriter, r *http.Request, quiz domain.DailyQuiz, tmpl domain.Template, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view := newTemplateView(tmpl)
	writeJSON(w, http.StatusOK, quizView{DailyQuiz: quiz, Template: &view})
}

// decode reads a JSON body. An empty body decodes to the zero value.
func (h *AdminHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		h.fail(w, r, domain.Validationf("invalid request body: %v", err))
		return false
	}
	return true
}

func (h *AdminHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)

	logger := h.logger
	if scoped := logging.FromContext(r.Context()); scoped.GetLevel() != zerolog.Disabled {
		logger = scoped
	}
	event := logger.Info()
	if status >= http.StatusInternalServerError {
		event = logger.Error()
	}
	event.Err(err).Str("kind", string(kind)).Int("status", status).Msg("request failed")
	writeJSON(w, status, errorView{Error: publicError(err), Kind: kind})
}

// publicError hides the details of internal failures from clients.
func publicError(err error) string {
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind == domain.KindInternal {
		return "internal error"
	}
	return de.Message
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindImmutable:
		return http.StatusConflict
	case domain.KindPoolExhausted:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func newComposeView(result domain.ComposeResult) composeView {
	return composeView{
		DailyQuiz:     result.DailyQuiz,
		QuestionCount: len(result.Questions),
		Questions:     result.Questions,
		Template:      newTemplateView(result.Template),
		Log:           result.Log,
	}
}

// newTemplateView drops the answer digests, which never leave the server.
func newTemplateView(tmpl domain.Template) templateView {
	return templateView{
		QuizID:      tmpl.QuizID,
		Version:     tmpl.Version,
		URL:         tmpl.URL,
		ContentHash: tmpl.ContentHash,
		ContentSize: tmpl.ContentSize,
		Payload:     json.RawMessage(tmpl.Payload),
		CreatedAt:   tmpl.CreatedAt,
	}
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.Validationf("%s must be an integer", name)
	}
	return v, nil
}

func effectiveLimit(limit int) int {
	if limit == 0 {
		return app.DefaultLogLimit
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WithRequestLogger tags every request with an id and stores a request
// scoped logger in its context.
func WithRequestLogger(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = ulid.Make().String()
		}
		reqLogger := logger.With().
			Str("request_id", reqID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		w.Header().Set("X-Request-ID", reqID)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(logging.IntoContext(r.Context(), reqLogger)))
		reqLogger.Debug().Dur("took", time.Since(start)).Msg("request served")
	})
}
