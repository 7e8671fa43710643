package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	gqlgen "github.com/99designs/gqlgen/graphql"
	"github.com/gin-gonic/gin"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.uber.org/zap"

	"github.com/syssam/veloql/graphql"
)

// maxUploadMemory is the part of a multipart request kept in memory; the
// rest spills to temporary files.
const maxUploadMemory = 32 << 20

func (s *Server) query(c *gin.Context) {
	req, closers, err := s.request(c)
	defer func() {
		for _, cl := range closers {
			_ = cl.Close()
		}
	}()
	if err != nil {
		badRequest(c, err)
		return
	}
	resp := s.Runtime().Schema().Execute(c.Request.Context(), req)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) stream(c *gin.Context) {
	req, _, err := s.request(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	events, err := s.Runtime().Schema().Subscribe(ctx, req)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()
	c.Stream(func(io.Writer) bool {
		select {
		case resp, ok := <-events:
			if !ok {
				c.SSEvent("complete", "")
				return false
			}
			c.SSEvent("next", resp)
			return true
		case <-ctx.Done():
			return false
		}
	})
	s.log.Debug("subscription closed", zap.String("operation", req.OperationName))
}

// request decodes a GraphQL request from URL parameters, a JSON body or a
// multipart upload. The returned closers release uploaded files.
func (s *Server) request(c *gin.Context) (graphql.Request, []io.Closer, error) {
	var req graphql.Request
	if c.Request.Method == http.MethodGet {
		req.Query = c.Query("query")
		req.OperationName = c.Query("operationName")
		if vars := c.Query("variables"); vars != "" {
			if err := json.Unmarshal([]byte(vars), &req.Variables); err != nil {
				return req, nil, fmt.Errorf("variables: %w", err)
			}
		}
		return req, nil, nil
	}
	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		return s.multipart(c)
	case "application/graphql":
		raw, err := io.ReadAll(c.Request.Body)
		req.Query = string(raw)
		return req, nil, err
	default:
		dec := json.NewDecoder(c.Request.Body)
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil {
			return req, nil, fmt.Errorf("body: %w", err)
		}
		numbers(req.Variables)
		return req, nil, nil
	}
}

// multipart decodes a request following the GraphQL multipart request
// convention: an operations part, a map part assigning files to variable
// paths, and the file parts.
func (s *Server) multipart(c *gin.Context) (graphql.Request, []io.Closer, error) {
	var req graphql.Request
	if err := c.Request.ParseMultipartForm(maxUploadMemory); err != nil {
		return req, nil, fmt.Errorf("multipart: %w", err)
	}
	form := c.Request.MultipartForm
	ops := form.Value["operations"]
	if len(ops) != 1 {
		return req, nil, errors.New("multipart: exactly one operations part required")
	}
	dec := json.NewDecoder(strings.NewReader(ops[0]))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return req, nil, fmt.Errorf("multipart: operations: %w", err)
	}
	numbers(req.Variables)
	var assignments map[string][]string
	if m := form.Value["map"]; len(m) == 1 {
		if err := json.Unmarshal([]byte(m[0]), &assignments); err != nil {
			return req, nil, fmt.Errorf("multipart: map: %w", err)
		}
	}
	if req.Variables == nil {
		req.Variables = map[string]any{}
	}
	var closers []io.Closer
	for key, paths := range assignments {
		headers := form.File[key]
		if len(headers) == 0 {
			return req, closers, fmt.Errorf("multipart: file %q missing", key)
		}
		h := headers[0]
		f, err := h.Open()
		if err != nil {
			return req, closers, fmt.Errorf("multipart: file %q: %w", key, err)
		}
		closers = append(closers, f)
		upload := gqlgen.Upload{
			File:        f,
			Filename:    h.Filename,
			Size:        h.Size,
			ContentType: h.Header.Get("Content-Type"),
		}
		for _, p := range paths {
			if err := setPath(req.Variables, p, upload); err != nil {
				return req, closers, err
			}
		}
	}
	return req, closers, nil
}

// setPath stores v at a path such as "variables.input.files.0".
func setPath(vars map[string]any, path string, v any) error {
	parts := strings.Split(path, ".")
	if len(parts) < 2 || parts[0] != "variables" {
		return fmt.Errorf("multipart: path %q is not under variables", path)
	}
	var cur any = vars
	for i, part := range parts[1:] {
		last := i == len(parts)-2
		switch node := cur.(type) {
		case map[string]any:
			if last {
				node[part] = v
				return nil
			}
			cur = node[part]
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return fmt.Errorf("multipart: invalid index %q in %q", part, path)
			}
			if last {
				node[idx] = v
				return nil
			}
			cur = node[idx]
		default:
			return fmt.Errorf("multipart: path %q does not exist", path)
		}
	}
	return nil
}

// numbers converts the json.Number values of a decoded document to int64
// when they are integral and float64 otherwise.
func numbers(v any) any {
	switch v := v.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, _ := v.Float64()
		return f
	case map[string]any:
		for k, x := range v {
			v[k] = numbers(x)
		}
		return v
	case []any:
		for i, x := range v {
			v[i] = numbers(x)
		}
		return v
	}
	return v
}

func badRequest(c *gin.Context, err error) {
	var list gqlerror.List
	if !errors.As(err, &list) {
		list = gqlerror.List{gqlerror.Wrap(err)}
	}
	c.JSON(http.StatusBadRequest, graphql.Response{Errors: list})
}
