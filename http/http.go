// Package http includes handlers and utilties.
package http

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// ReadAllAndReplaceBody reads all of r.Body and replaces it with a new byte buffer.
func ReadAllAndReplaceBody(r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return b, err
	}
	defer r.Body.Close()
	r.Body = io.NopCloser(bytes.NewBuffer(b))
	return b, nil
}

// DumpHandler outputs the method, path and body of each request to output.
// Binary (octet-stream) bodies are not read and only their length is output.
func DumpHandler(next http.Handler, output io.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(output, "%s %s\n", r.Method, r.URL.RequestURI())
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/octet-stream") {
			fmt.Fprintf(output, "<%d bytes>\n", r.ContentLength)
		} else if body, _ := ReadAllAndReplaceBody(r); len(body) > 0 {
			output.Write(append(body, '\n'))
		}
		next.ServeHTTP(w, r)
	}
}

// SpoolBody copies the request body to a new temporary file in dir named
// with pattern (see os.CreateTemp) and returns its path.
// The caller is responsible for removing the file.
func SpoolBody(r *http.Request, dir, pattern string) (string, int64, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", 0, err
	}
	n, err := io.Copy(f, r.Body)
	if cErr := f.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", n, fmt.Errorf("spooling body: %w", err)
	}
	return f.Name(), n, nil
}
