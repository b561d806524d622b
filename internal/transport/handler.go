package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/fieldops/model"
)

// dataList is the body of every collection response.
type dataList[T any] struct {
	Data []T `json:"data"`
}

// requestContext returns the caller's RequestContext or writes a 401.
func requestContext(w http.ResponseWriter, r *http.Request) (*model.RequestContext, bool) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, model.NewUnauthorizedError("missing request context"))
		return nil, false
	}
	return rctx, true
}

// decodeJSON reads the request body into dst. With allowEmpty an absent body
// leaves dst as it was.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || allowEmpty && errors.Is(err, io.EOF) {
		return nil
	}
	if _, tooLarge := errors.AsType[*http.MaxBytesError](err); tooLarge {
		return model.NewBadRequestError("request body too large")
	}
	return model.NewBadRequestError("invalid JSON body")
}

// queryParam parses a query parameter, falling back to def when it is
// absent or does not parse.
func queryParam[T any](r *http.Request, key string, def T, parse func(string) (T, error)) T {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

func queryInt(r *http.Request, key string, def int) int {
	n := queryParam(r, key, def, strconv.Atoi)
	if n < 1 {
		return def
	}
	return n
}

func queryBool(r *http.Request, key string, def bool) bool {
	return queryParam(r, key, def, strconv.ParseBool)
}

func reply(w http.ResponseWriter, status int, body any, err error) {
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, status, body)
}

// byID serves a bodiless engine call on the {id} route parameter.
func byID[Out any](status int, op func(context.Context, *model.RequestContext, string) (Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		out, err := op(r.Context(), rctx, chi.URLParam(r, "id"))
		reply(w, status, out, err)
	}
}

// listByID serves a collection owned by the {id} resource.
func listByID[T any](op func(context.Context, *model.RequestContext, string) ([]T, error)) http.HandlerFunc {
	return byID(http.StatusOK, func(ctx context.Context, rctx *model.RequestContext, id string) (dataList[T], error) {
		items, err := op(ctx, rctx, id)
		return dataList[T]{Data: items}, err
	})
}

// create decodes the JSON body and hands it to op.
func create[In, Out any](status int, op func(context.Context, *model.RequestContext, In) (Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		var in In
		if err := decodeJSON(r, &in, false); err != nil {
			WriteError(w, err)
			return
		}
		out, err := op(r.Context(), rctx, in)
		reply(w, status, out, err)
	}
}

// update is create for commands on the {id} resource. optional admits an
// empty body, which leaves In zero.
func update[In, Out any](status int, optional bool, op func(context.Context, *model.RequestContext, string, In) (Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		var in In
		if err := decodeJSON(r, &in, optional); err != nil {
			WriteError(w, err)
			return
		}
		out, err := op(r.Context(), rctx, chi.URLParam(r, "id"), in)
		reply(w, status, out, err)
	}
}
