package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/inaiurai/credits/internal/apperr"
	"github.com/inaiurai/credits/internal/middleware"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads a JSON body into dst and validates its struct tags.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.KindInvalid, "request body is empty")
		}
		return apperr.Wrapf(apperr.KindInvalid, "decode", err, "invalid JSON")
	}
	if err := validate.Struct(dst); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) && len(fields) > 0 {
			f := fields[0]
			return apperr.Wrapf(apperr.KindInvalid, "validate", err, "field %s failed %s", f.Field(), f.Tag())
		}
		return apperr.Wrapf(apperr.KindInvalid, "validate", err, "invalid request")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status and a client-safe message. Internal
// causes are logged, never returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := kind.HTTPStatus()
	log := middleware.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "kind", kind.String(), "error", err)
	} else {
		log.Info("request rejected", "kind", kind.String(), "error", err)
	}
	writeJSON(w, status, map[string]string{"error": apperr.PublicMessage(err), "code": kind.String()})
}

func queryInt(r *http.Request, key string, def, limit int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.New(apperr.KindInvalid, fmt.Sprintf("%s must be a non-negative integer", key))
	}
	if limit > 0 && n > limit {
		n = limit
	}
	return n, nil
}
