// Package handlers exposes the services over HTTP. Every response is a
// {message, data} envelope; errors carry {message, errors}.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/brandviz/brandviz/internal/apperr"
	"github.com/brandviz/brandviz/internal/auth"
	"github.com/brandviz/brandviz/internal/config"
	"github.com/brandviz/brandviz/internal/models"
	"github.com/brandviz/brandviz/services"
)

const maxBodyBytes = 1 << 20

// Services bundles the service layer the handlers call into
type Services struct {
	Users    services.UserService
	Brands   services.BrandService
	Team     services.TeamService
	Credits  services.CreditService
	Data     services.DataOrganizationService
	Analysis services.BackgroundAnalysisService
}

type Handler struct {
	svc      Services
	cfg      *config.Config
	validate *validator.Validate
	logger   zerolog.Logger
}

func New(cfg *config.Config, svc Services, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:      svc,
		cfg:      cfg,
		validate: newValidator(),
		logger:   logger.With().Str("component", "http").Logger(),
	}
}

// newValidator reports field errors under their json names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return strings.ToLower(f.Name)
		}
		return name
	})
	return v
}

type envelope struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

type errorBody struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respond(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, envelope{Message: message, Data: data})
}

// writeError maps err to its status. Internal causes are logged, never sent.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.As(err)
	status := appErr.Kind.Status()
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Message: appErr.Message, Errors: appErr.Fields})
}

// decode reads a JSON body into dst and validates it. An empty body is
// accepted when allowEmpty is set.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return apperr.Wrap(apperr.KindBadRequest, err, "invalid JSON body")
		}
	}
	return h.check(h.validate.Struct(dst))
}

// check converts validator failures into field errors
func (h *Handler) check(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.KindBadRequest, err, "invalid request")
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		fields[fe.Field()] = rule
	}
	return apperr.Validation(fields)
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Validation(map[string]string{name: "uuid"})
	}
	return id, nil
}

// queryInt returns def when the parameter is absent
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation(map[string]string{name: "number"})
	}
	return n, nil
}

// currentUser is set by the auth middleware on every protected route
func currentUser(r *http.Request) *models.User {
	return auth.UserFromContext(r.Context())
}
