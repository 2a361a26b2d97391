package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	apierrors "github.com/soc-club/presensi/internal/errors"
	"github.com/soc-club/presensi/internal/models"
	"github.com/soc-club/presensi/internal/server/handlers"
)

// validate checks request structs against their `validate` tags. Field
// errors are reported under the JSON, path or query name.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "path", "query"} {
			if name, _, _ := strings.Cut(f.Tag.Get(tag), ","); name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// Wrap wraps a public handler function to work as an http.Handler.
// The function must have signature: func(context.Context, *In) (*Out, error)
// where In can be unmarshalled from JSON. Path parameters are extracted into
// struct fields tagged `path:"name"` and query parameters into fields tagged
// `query:"name"`.
//
// Example:
//
//	type TokenLookupRequest struct {
//	    NISN string `query:"nisn"`
//	}
//
//	func (h *UserHandler) LookupToken(ctx context.Context, req *TokenLookupRequest) (*TokenLookupResponse, error)
func Wrap[In any, Out any](s *Server, fn func(context.Context, *In) (*Out, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !s.limits.Check(w, r) {
			handlers.WriteError[*Out](ctx, w, nil, apierrors.TooManyRequests())
			return
		}
		input, ok := decodeRequest[In](ctx, w, r, s.cfg.MaxRequestBodyBytes)
		if !ok {
			return
		}
		output, err := fn(ctx, input)
		writeJSONResponse(ctx, w, output, err)
	})
}

// WrapAuth wraps an authenticated handler function to work as an
// http.Handler. role restricts the endpoint to one role; empty allows any
// authenticated user.
// The function must have signature: func(context.Context, *models.User, *In) (*Out, error)
func WrapAuth[In any, Out any](s *Server, role models.Role, fn func(context.Context, *models.User, *In) (*Out, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ctx, err := s.authenticate(r, role)
		if err != nil {
			handlers.WriteError[*Out](r.Context(), w, nil, err)
			return
		}
		input, ok := decodeRequest[In](ctx, w, r, s.cfg.MaxRequestBodyBytes)
		if !ok {
			return
		}
		output, err := fn(ctx, user, input)
		writeJSONResponse(ctx, w, output, err)
	})
}

// WrapAuthRaw wraps a handler that writes its own response, such as a file
// download or a WebSocket upgrade, with authentication and role checking.
func WrapAuthRaw(s *Server, role models.Role, fn handlers.RawFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ctx, err := s.authenticate(r, role)
		if err != nil {
			handlers.WriteError[any](r.Context(), w, nil, err)
			return
		}
		if err := fn(w, r.WithContext(ctx), user); err != nil {
			handlers.WriteError[any](ctx, w, nil, err)
		}
	})
}

// decodeRequest reads the body, fills path and query parameters and validates
// the result. It writes the error response and returns false on failure.
func decodeRequest[In any](ctx context.Context, w http.ResponseWriter, r *http.Request, maxBytes int64) (*In, bool) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	body, err := io.ReadAll(r.Body)
	if err2 := r.Body.Close(); err == nil {
		err = err2
	}
	input := new(In)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if !errors.As(err, &tooLarge) {
			slog.ErrorContext(ctx, "Failed to read request body", "err", err)
			err = apierrors.BadRequest("Failed to read request body").Wrap(err)
		}
		handlers.WriteError[any](ctx, w, nil, err)
		return nil, false
	}
	if len(bytes.TrimSpace(body)) > 0 {
		d := json.NewDecoder(bytes.NewReader(body))
		d.DisallowUnknownFields()
		if err := d.Decode(input); err != nil {
			handlers.WriteError[any](ctx, w, nil, apierrors.BadRequest("Invalid request body").Wrap(err))
			return nil, false
		}
	}

	populatePathParams(r, input)
	populateQueryParams(r, input)

	if err := validate.Struct(input); err != nil {
		handlers.WriteError[any](ctx, w, nil, validationError(err))
		return nil, false
	}
	return input, true
}

// validationError reports each failing field with the rule it broke.
func validationError(err error) *apierrors.APIError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apierrors.BadRequest("Invalid request").Wrap(err)
	}
	apiErr := apierrors.BadRequest("Validation failed").Wrap(err)
	for _, fe := range fieldErrs {
		apiErr.WithDetail(fe.Field(), fe.Tag())
	}
	return apiErr
}

// writeJSONResponse writes the output or the error in the {data, error}
// envelope. An output returned alongside an error is kept as partial data.
func writeJSONResponse[Out any](ctx context.Context, w http.ResponseWriter, output *Out, err error) {
	if err != nil {
		handlers.WriteError(ctx, w, output, err)
		return
	}
	if err := handlers.WriteData(w, http.StatusOK, output); err != nil {
		slog.ErrorContext(ctx, "Failed to encode response", "err", err)
	}
}

// populatePathParams extracts path parameters from the request and populates
// struct fields tagged with `path:"paramName"`.
func populatePathParams(r *http.Request, input any) {
	elem, ok := structElem(input)
	if !ok {
		return
	}
	typ := elem.Type()
	for i := range typ.NumField() {
		field := typ.Field(i)
		tag := field.Tag.Get("path")
		if tag == "" {
			continue
		}
		if v := r.PathValue(tag); v != "" && field.Type.Kind() == reflect.String {
			elem.Field(i).SetString(v)
		}
	}
}

// populateQueryParams extracts query parameters from the request and
// populates struct fields tagged with `query:"paramName"`. Embedded structs
// are walked.
func populateQueryParams(r *http.Request, input any) {
	elem, ok := structElem(input)
	if !ok {
		return
	}
	setQueryFields(elem, r.URL.Query())
}

func setQueryFields(elem reflect.Value, query map[string][]string) {
	typ := elem.Type()
	for i := range typ.NumField() {
		field := typ.Field(i)
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			setQueryFields(elem.Field(i), query)
			continue
		}
		tag := field.Tag.Get("query")
		if tag == "" || len(query[tag]) == 0 || query[tag][0] == "" {
			continue
		}
		v := query[tag][0]
		//nolint:exhaustive // Only string, int and bool are supported for query params.
		switch field.Type.Kind() {
		case reflect.String:
			elem.Field(i).SetString(v)
		case reflect.Int:
			if n, err := strconv.Atoi(v); err == nil {
				elem.Field(i).SetInt(int64(n))
			}
		case reflect.Bool:
			if b, err := strconv.ParseBool(v); err == nil {
				elem.Field(i).SetBool(b)
			}
		default:
		}
	}
}

func structElem(input any) (reflect.Value, bool) {
	val := reflect.ValueOf(input)
	if val.Kind() != reflect.Pointer {
		return reflect.Value{}, false
	}
	elem := val.Elem()
	return elem, elem.Kind() == reflect.Struct
}
