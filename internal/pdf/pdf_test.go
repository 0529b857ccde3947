package pdf

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/DracoR22/InvoiceIQ/internal/common"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "interior whitespace", in: "   a      b          c d   ", want: "a   b   c d"},
		{name: "blank runs", in: "a\n\n\nb\n\n\n\nc\nd", want: "a\n\nb\n\nc\nd"},
		{name: "whitespace only lines", in: "a\n \t \n   \nb", want: "a\n\nb"},
		{name: "tabs count as whitespace", in: "x\t\t\ty", want: "x   y"},
		{name: "two spaces kept", in: "x  y", want: "x  y"},
		{name: "leading blank kept once", in: "\n\n\na", want: "\na"},
		{name: "page breaks", in: "p1\n\f\np2\f", want: "p1\n\np2"},
		{name: "empty", in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"   a      b          c d   ",
		"a\n\n\nb\n\n\n\nc\nd",
		"\n\n  Invoice  #123 \n\n\n\tTotal:\t\t\t 42.00\n\f\n\nPage 2   \n",
		"\t \t",
	}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize is not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

// stubRunner returns canned converter output and records the arguments.
type stubRunner struct {
	stdout []byte
	err    error
	args   []string
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	s.args = append([]string{name}, args...)
	return s.stdout, nil, s.err
}

func TestParserParse(t *testing.T) {
	r := &stubRunner{stdout: []byte("  INVOICE      #1  \n\n\n  Total   9.99\n\f")}
	p := NewParser(common.PDFConfig{Pdftotext: "/usr/bin/pdftotext"}, quiet, WithRunner(r))

	got, err := p.Parse(context.Background(), []byte("%PDF-1.4 fake"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if want := "INVOICE   #1\n\nTotal   9.99\n"; got != want {
		t.Errorf("Parse() = %q, want %q", got, want)
	}
	if r.args[0] != "/usr/bin/pdftotext" || r.args[1] != "-layout" || r.args[len(r.args)-1] != "-" {
		t.Errorf("converter args = %v", r.args)
	}
}

func TestParserParseEmptyOutput(t *testing.T) {
	for _, out := range []string{"", "\f\f", " \n \n"} {
		p := NewParser(common.PDFConfig{}, quiet, WithRunner(&stubRunner{stdout: []byte(out)}))
		_, err := p.Parse(context.Background(), []byte("%PDF"))
		if !errors.Is(err, ErrNotParsed) {
			t.Errorf("Parse with output %q: error = %v, want ErrNotParsed", out, err)
		}
	}
}

func TestParserParseConverterFailure(t *testing.T) {
	p := NewParser(common.PDFConfig{}, quiet, WithRunner(&stubRunner{err: errors.New("exit status 1")}))
	_, err := p.Parse(context.Background(), []byte("garbage"))
	if !errors.Is(err, ErrNotParsed) {
		t.Errorf("error = %v, want ErrNotParsed", err)
	}
}

func TestParserValidate(t *testing.T) {
	p := NewParser(common.PDFConfig{MaxBytes: 16}, quiet)
	tests := []struct {
		data []byte
		want error
	}{
		{data: []byte("%PDF-1.7"), want: nil},
		{data: []byte("PK\x03\x04zip"), want: ErrMagicNumber},
		{data: append([]byte("%PDF"), bytes.Repeat([]byte("x"), 20)...), want: ErrSize},
	}
	for _, tt := range tests {
		if err := p.Validate(tt.data); !errors.Is(err, tt.want) {
			t.Errorf("Validate(%q) = %v, want %v", tt.data[:4], err, tt.want)
		}
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func loaderWith(t *testing.T, maxBytes int64, fetches *atomic.Int32, resp func() *http.Response) *Loader {
	t.Helper()
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		fetches.Add(1)
		out := resp()
		out.Request = r
		return out, nil
	})}
	return NewLoader(common.PDFConfig{MaxBytes: maxBytes}, quiet, WithHTTPClient(client))
}

func okResponse(body []byte, contentLength int64) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: contentLength,
		Header:        http.Header{},
	}
}

func TestLoadFromURLRejectsExtensionWithoutFetching(t *testing.T) {
	var fetches atomic.Int32
	l := loaderWith(t, 0, &fetches, func() *http.Response { return okResponse([]byte("%PDF"), 4) })

	for _, u := range []string{
		"https://example.com/doc.docx",
		"https://example.com/pdf",
		"https://example.com/doc.pdf.zip",
		"https://example.com/",
	} {
		if _, err := l.LoadFromURL(context.Background(), u); !errors.Is(err, ErrExtension) {
			t.Errorf("LoadFromURL(%q) error = %v, want ErrExtension", u, err)
		}
	}
	if n := fetches.Load(); n != 0 {
		t.Errorf("fetches = %d, want 0", n)
	}
}

func TestLoadFromURL(t *testing.T) {
	pdfBody := []byte("%PDF-1.5\n...")
	tests := []struct {
		name    string
		url     string
		resp    func() *http.Response
		wantErr error
	}{
		{
			name: "ok, extension case and query are ignored",
			url:  "https://files.example.com/Invoice.PDF?sig=abc",
			resp: func() *http.Response { return okResponse(pdfBody, int64(len(pdfBody))) },
		},
		{
			name:    "bad magic number",
			url:     "https://files.example.com/a.pdf",
			resp:    func() *http.Response { return okResponse([]byte("<html>"), 6) },
			wantErr: ErrMagicNumber,
		},
		{
			name:    "declared too large",
			url:     "https://files.example.com/a.pdf",
			resp:    func() *http.Response { return okResponse(pdfBody, 1<<30) },
			wantErr: ErrSize,
		},
		{
			name: "undeclared too large",
			url:  "https://files.example.com/a.pdf",
			resp: func() *http.Response {
				return okResponse(append([]byte("%PDF"), bytes.Repeat([]byte("0"), 100)...), -1)
			},
			wantErr: ErrSize,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fetches atomic.Int32
			l := loaderWith(t, 64, &fetches, tt.resp)
			got, err := l.LoadFromURL(context.Background(), tt.url)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadFromURL() error = %v", err)
			}
			if !bytes.Equal(got, pdfBody) {
				t.Errorf("body = %q", got)
			}
		})
	}
}

func TestLoadFromURLNon2xx(t *testing.T) {
	var fetches atomic.Int32
	l := loaderWith(t, 0, &fetches, func() *http.Response {
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader("nope")), Header: http.Header{}}
	})
	_, err := l.LoadFromURL(context.Background(), "https://example.com/missing.pdf")
	var fe *FetchError
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusNotFound {
		t.Fatalf("error = %v, want FetchError 404", err)
	}
	if common.HTTPStatus(err) != http.StatusBadRequest {
		t.Errorf("HTTPStatus = %d", common.HTTPStatus(err))
	}
}

func TestCheckURLRejectsNonHTTP(t *testing.T) {
	for _, u := range []string{"file:///etc/passwd.pdf", "not a url", "ftp://host/a.pdf"} {
		_, err := CheckURL(u)
		var re *common.RequestError
		if !errors.As(err, &re) {
			t.Errorf("CheckURL(%q) error = %v, want RequestError", u, err)
		}
	}
}
