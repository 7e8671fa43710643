package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	gqlgen "github.com/99designs/gqlgen/graphql"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloql/blob"
	"github.com/syssam/veloql/config"
	"github.com/syssam/veloql/engine"
	"github.com/syssam/veloql/graphql"
	"github.com/syssam/veloql/pubsub"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const docsYAML = `
entity:
  document:
    attributes:
      title: String!
      file: File
    subscriptions: true
  secret:
    attributes:
      code: String!
    permissions:
      read: [agent]
`

func newServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg, err := config.Parse([]byte(docsYAML))
	require.NoError(t, err)
	m, diags := config.Resolve(cfg)
	require.NoError(t, diags.Err())
	reg := prometheus.NewRegistry()
	rt, err := engine.New(context.Background(), m,
		engine.WithBus(pubsub.NewMemory()),
		engine.WithBlobs(blob.NewMemory()),
		engine.WithMetrics(reg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	s := New(rt, reg, WithOrigins("http://app.test"))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func graphqlRequest(query string) graphql.Request {
	return graphql.Request{Query: query}
}

type response struct {
	Data   map[string]any   `json:"data"`
	Errors []map[string]any `json:"errors"`
}

func post(t *testing.T, ts *httptest.Server, body string, header http.Header) (int, response) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/graphql", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	var out response
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res.StatusCode, out
}

func TestQueryAndMutation(t *testing.T) {
	t.Parallel()
	_, ts := newServer(t)
	status, out := post(t, ts, `{"query": "mutation($d: DocumentCreateInput!) { createDocument(document: $d) { document { title } } }", "variables": {"d": {"title": "Notes"}}}`, nil)
	assert.Equal(t, http.StatusOK, status)
	require.Empty(t, out.Errors)
	assert.Equal(t, map[string]any{"document": map[string]any{"title": "Notes"}}, out.Data["createDocument"])

	res, err := http.Get(ts.URL + "/graphql?query=" + url.QueryEscape(`{ documents { title } }`))
	require.NoError(t, err)
	defer res.Body.Close()
	var got response
	require.NoError(t, json.NewDecoder(res.Body).Decode(&got))
	assert.Equal(t, []any{map[string]any{"title": "Notes"}}, got.Data["documents"])

	status, out = post(t, ts, `{"query": `, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, out.Errors)
}

func TestViewerHeaders(t *testing.T) {
	t.Parallel()
	_, ts := newServer(t)
	_, out := post(t, ts, `{"query": "{ secrets { code } }"}`, nil)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "FORBIDDEN", out.Errors[0]["extensions"].(map[string]any)["code"])

	_, out = post(t, ts, `{"query": "{ secrets { code } }"}`, http.Header{
		HeaderUserID: {"u1"},
		HeaderRoles:  {"reader, agent"},
	})
	assert.Empty(t, out.Errors)
	assert.Equal(t, []any{}, out.Data["secrets"])
}

func TestUploadAndDownload(t *testing.T) {
	t.Parallel()
	s, ts := newServer(t)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("operations", `{
		"query": "mutation($d: DocumentCreateInput!) { createDocument(document: $d) { document { id } validationViolations { message } } }",
		"variables": {"d": {"title": "Scan", "file": null}}
	}`))
	require.NoError(t, w.WriteField("map", `{"0": ["variables.d.file"]}`))
	part, err := w.CreateFormFile("0", "scan.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("hello file"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	res, err := http.Post(ts.URL+"/graphql", w.FormDataContentType(), &body)
	require.NoError(t, err)
	var created response
	require.NoError(t, json.NewDecoder(res.Body).Decode(&created))
	res.Body.Close()
	require.Empty(t, created.Errors)

	docs := s.Runtime().Schema().Execute(context.Background(), graphqlRequest(`{ documents { file { filename url } } }`))
	require.Empty(t, docs.Errors)
	var out struct {
		Documents []struct {
			File struct {
				Filename string `json:"filename"`
				URL      string `json:"url"`
			} `json:"file"`
		} `json:"documents"`
	}
	require.NoError(t, docs.Decode(&out))
	require.Len(t, out.Documents, 1)
	assert.Equal(t, "scan.txt", out.Documents[0].File.Filename)
	fileURL := out.Documents[0].File.URL
	require.True(t, strings.HasPrefix(fileURL, "/files/documents/"), fileURL)

	res, err = http.Get(ts.URL + fileURL)
	require.NoError(t, err)
	content, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "hello file", string(content))
	assert.Contains(t, res.Header.Get("Content-Disposition"), "scan.txt")

	wrong := fileURL[:strings.Index(fileURL, "?")] + "?secret=guess"
	res, err = http.Get(ts.URL + wrong)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestStream(t *testing.T) {
	t.Parallel()
	_, ts := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		ts.URL+"/graphql/stream?query="+url.QueryEscape(`subscription { documentCreated { title } }`), nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	_, out := post(t, ts, `{"query": "mutation { createDocument(document: {title: \"Live\"}) { document { id } } }"}`, nil)
	require.Empty(t, out.Errors)

	sc := bufio.NewScanner(res.Body)
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		if v, ok := strings.CutPrefix(line, "event:"); ok {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data = v
			break
		}
	}
	assert.Equal(t, "next", event)
	assert.JSONEq(t, `{"data":{"documentCreated":{"title":"Live"}}}`, data)

	res2, err := http.Get(ts.URL + "/graphql/stream?query=" + url.QueryEscape(`{ documents { id } }`))
	require.NoError(t, err)
	res2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res2.StatusCode)
}

func TestEndpoints(t *testing.T) {
	t.Parallel()
	_, ts := newServer(t)
	post(t, ts, `{"query": "{ documents { id } }"}`, nil)

	for path, want := range map[string]string{
		"/healthz":        "ok",
		"/graphql/schema": "type Document",
		"/metrics":        "veloql_operations_total",
		"/playground":     "<html",
	} {
		res, err := http.Get(ts.URL + path)
		require.NoError(t, err, path)
		body, err := io.ReadAll(res.Body)
		res.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.StatusCode, path)
		assert.Contains(t, string(body), want, path)
	}

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/graphql", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://app.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, "http://app.test", res.Header.Get("Access-Control-Allow-Origin"))
}

func TestSwap(t *testing.T) {
	t.Parallel()
	s, ts := newServer(t)
	cfg, err := config.Parse([]byte("entity:\n  note:\n    attributes:\n      text: String\n"))
	require.NoError(t, err)
	m, _ := config.Resolve(cfg)
	rt, err := engine.New(context.Background(), m)
	require.NoError(t, err)
	s.Swap(rt, nil)

	_, out := post(t, ts, `{"query": "{ notes { text } }"}`, nil)
	assert.Empty(t, out.Errors)
	_, out = post(t, ts, `{"query": "{ documents { id } }"}`, nil)
	assert.NotEmpty(t, out.Errors)
}

func TestSetPath(t *testing.T) {
	t.Parallel()
	up := gqlgen.Upload{Filename: "a"}
	vars := map[string]any{"d": map[string]any{"files": []any{nil, nil}}}
	require.NoError(t, setPath(vars, "variables.d.files.1", up))
	assert.Equal(t, up, vars["d"].(map[string]any)["files"].([]any)[1])
	require.NoError(t, setPath(vars, "variables.top", up))
	assert.Equal(t, up, vars["top"])

	for _, bad := range []string{"input.d", "variables", "variables.d.files.9", "variables.d.files.x", "variables.nope.deep"} {
		assert.Error(t, setPath(vars, bad, up), bad)
	}
}
