package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	"github.com/frahmantamala/payment-dashboard/internal"
	"github.com/frahmantamala/payment-dashboard/internal/transport"
	"github.com/frahmantamala/payment-dashboard/pkg/logger"
)

// OpenAPIValidator checks requests against the API document before they
// reach a handler. Paths in the document are relative to prefix.
type OpenAPIValidator struct {
	router routers.Router
	prefix string
	base   *transport.BaseHandler
}

func NewOpenAPIValidator(ctx context.Context, spec []byte, prefix string) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(spec)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}
	// servers are matched by prefix below
	doc.Servers = nil

	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}
	return &OpenAPIValidator{
		router: router,
		prefix: strings.TrimSuffix(prefix, "/"),
		base:   transport.NewBaseHandler(logger.LoggerWrapper()),
	}, nil
}

// Middleware rejects requests that do not match their documented operation
// with 400. Undocumented routes pass through untouched.
func (v *OpenAPIValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probe := r.Clone(r.Context())
		probe.URL.Path = strings.TrimPrefix(r.URL.Path, v.prefix)
		probe.URL.RawPath = ""

		route, pathParams, err := v.router.FindRoute(probe)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    probe,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			},
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			v.base.WriteAppError(w, requestError(err))
			return
		}

		// the validator consumed and replaced the body
		r.Body = probe.Body
		next.ServeHTTP(w, r)
	})
}

func requestError(err error) *internal.AppError {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		field := ""
		if reqErr.Parameter != nil {
			field = reqErr.Parameter.Name
		} else if reqErr.RequestBody != nil {
			field = "body"
		}
		msg := reqErr.Reason
		if msg == "" && reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		if field != "" {
			return internal.NewValidationFieldError(field, msg, internal.ErrCodeInvalidRequest).WithCause(err)
		}
	}
	return internal.NewValidationError("request does not match the API description", internal.ErrCodeInvalidRequest).WithCause(err)
}
