package rest

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	"github.com/davidleathers/dnc-guard/internal/domain/errors"
)

//go:embed openapi.yaml
var openAPIDocument []byte

// ContractValidator checks HTTP traffic against the embedded OpenAPI document.
type ContractValidator struct {
	doc     *openapi3.T
	router  routers.Router
	options *openapi3filter.Options
}

// NewContractValidator loads and validates the embedded OpenAPI document.
func NewContractValidator() (*ContractValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openAPIDocument)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI document: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI document: %w", err)
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	return &ContractValidator{
		doc:    doc,
		router: router,
		// Tokens are verified by AuthMiddleware.
		options: &openapi3filter.Options{
			AuthenticationFunc:    openapi3filter.NoopAuthenticationFunc,
			IncludeResponseStatus: true,
		},
	}, nil
}

// ValidateRequest checks req's parameters and body. The body is restored.
func (cv *ContractValidator) ValidateRequest(req *http.Request) error {
	input, err := cv.requestInput(req)
	if err != nil {
		return err
	}
	if err := openapi3filter.ValidateRequest(req.Context(), input); err != nil {
		return fmt.Errorf("request validation failed: %w", err)
	}
	return nil
}

// ValidateResponse checks a response written for req.
func (cv *ContractValidator) ValidateResponse(req *http.Request, status int, header http.Header, body []byte) error {
	input, err := cv.requestInput(req)
	if err != nil {
		return err
	}
	out := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: input,
		Status:                 status,
		Header:                 header,
		Options:                cv.options,
	}
	out.SetBodyBytes(body)
	if err := openapi3filter.ValidateResponse(context.WithoutCancel(req.Context()), out); err != nil {
		return fmt.Errorf("response validation failed: %w", err)
	}
	return nil
}

func (cv *ContractValidator) requestInput(req *http.Request) (*openapi3filter.RequestValidationInput, error) {
	route, pathParams, err := cv.router.FindRoute(req)
	if err != nil {
		return nil, fmt.Errorf("no matching route found: %w", err)
	}
	return &openapi3filter.RequestValidationInput{
		Request:    req,
		PathParams: pathParams,
		Route:      route,
		Options:    cv.options,
	}, nil
}

// Middleware rejects JSON requests that do not match the document.
// Multipart uploads are left to the handler.
func (cv *ContractValidator) Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength != 0 && !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
				next.ServeHTTP(w, r)
				return
			}
			// Unknown routes get the router's own 404 or 405.
			if _, _, err := cv.router.FindRoute(r); err != nil {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, r, logger, errors.NewValidationError("INVALID_BODY", "request body could not be read").WithCause(err))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			verr := cv.ValidateRequest(r)
			r.Body = io.NopCloser(bytes.NewReader(body))

			if verr != nil {
				logger.DebugContext(r.Context(), "request failed contract validation",
					"method", r.Method,
					"path", r.URL.Path,
					"error", verr,
				)
				writeError(w, r, logger, errors.NewValidationError("CONTRACT_VIOLATION", "request does not match the API contract").
					WithDetails(map[string]interface{}{"reason": verr.Error()}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func serveOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPIDocument)
}
