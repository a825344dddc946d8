package blob

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves the handful of path-style S3 calls the driver makes.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

type fakeObject struct {
	body        []byte
	contentType string
}

// respond builds a complete response: the SDK's deserializers read the
// request, length and body of every response, including errors.
func respond(req *http.Request, status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(body)))
	header.Set("X-Amz-Request-Id", "fake-request")
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func xmlError(req *http.Request, status int, code string) *http.Response {
	if req.Method == http.MethodHead {
		return respond(req, status, nil, nil)
	}
	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>%s</Message></Error>`, code, code)
	return respond(req, status, http.Header{"Content-Type": {"application/xml"}}, []byte(body))
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(f.objects[k].body))
		}
		b.WriteString("</ListBucketResult>")
		return respond(req, http.StatusOK, http.Header{"Content-Type": {"application/xml"}}, []byte(b.String())), nil
	}

	switch req.Method {
	case http.MethodHead, http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			return xmlError(req, http.StatusNotFound, "NoSuchKey"), nil
		}
		header := http.Header{
			"Content-Type":  {obj.contentType},
			"Etag":          {`"etag"`},
			"Last-Modified": {time.Now().UTC().Format(http.TimeFormat)},
		}
		if req.Method == http.MethodHead {
			resp := respond(req, http.StatusOK, header, nil)
			resp.Header.Set("Content-Length", strconv.Itoa(len(obj.body)))
			resp.ContentLength = int64(len(obj.body))
			return resp, nil
		}
		return respond(req, http.StatusOK, header, obj.body), nil
	case http.MethodPut:
		var raw []byte
		if req.Body != nil {
			var err error
			if raw, err = io.ReadAll(req.Body); err != nil {
				return xmlError(req, http.StatusBadRequest, "IncompleteBody"), nil
			}
		}
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			if decoded, err := decodeAWSChunked(raw); err == nil {
				raw = decoded
			}
		}
		f.objects[key] = fakeObject{body: raw, contentType: req.Header.Get("Content-Type")}
		return respond(req, http.StatusOK, http.Header{"Etag": {`"etag"`}}, nil), nil
	}
	return xmlError(req, http.StatusNotImplemented, "NotImplemented"), nil
}

// decodeAWSChunked strips aws-chunked framing: "<hex>[;ext]\r\n<data>\r\n" repeated
// until a zero-length chunk, followed by optional trailers.
func decodeAWSChunked(raw []byte) ([]byte, error) {
	r := bufio.NewReader(bytes.NewReader(raw))
	var out bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		size, err := strconv.ParseInt(line, 16, 64)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, r, size); err != nil {
			return nil, err
		}
		if _, err := r.Discard(2); err != nil {
			return nil, err
		}
	}
}

func newFakeS3(t *testing.T) *S3 {
	t.Helper()
	fake := &fakeS3{objects: make(map[string]fakeObject)}
	s, err := NewS3(context.Background(), S3Config{
		Bucket:          "replicates",
		Endpoint:        "https://s3.test.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
	}, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: fake}
	})
	require.NoError(t, err)
	return s
}

func TestS3Store(t *testing.T) {
	s := newFakeS3(t)
	require.Equal(t, DriverS3, s.Driver())
	exerciseStore(t, s)

	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestS3RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{})
	require.Error(t, err)
}

func TestS3PutStreamsFile(t *testing.T) {
	s := newFakeS3(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "genotypes.arrow")
	payload := bytes.Repeat([]byte("ARROW1"), 1024)
	require.NoError(t, os.WriteFile(path, payload, 0o644))
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	info, err := s.Put(ctx, "big/genotypes.3.arrow", file, PutOptions{ContentType: "application/vnd.apache.arrow.file"})
	require.NoError(t, err)
	require.EqualValues(t, len(payload), info.Size)
	require.Equal(t, "application/vnd.apache.arrow.file", info.ContentType)

	rc, err := s.Get(ctx, "big/genotypes.3.arrow")
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, payload, got)
}
