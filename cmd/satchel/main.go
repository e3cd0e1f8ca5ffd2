// Command satchel is a small client for the satchel server: upload a file
// and hand out the extract code, or fetch a file someone shared with you.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

func main() {
	server := flag.String("server", envOr("SATCHEL_SERVER", "http://localhost:8080"), "server base URL")
	token := flag.String("token", os.Getenv("SATCHEL_TOKEN"), "bearer token (required for upload)")
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		usage()
	}

	base := strings.TrimRight(*server, "/")

	var err error
	switch args[0] {
	case "upload":
		err = upload(base, *token, args[1])
	case "fetch":
		err = fetch(base, args[1])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: satchel [-server URL] [-token TOKEN] upload <file> | fetch <code>")
	os.Exit(2)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func upload(base, token, path string) error {
	if token == "" {
		return fmt.Errorf("upload requires a token (set SATCHEL_TOKEN or -token)")
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		part, err := form.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, file)
		}
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequest(http.MethodPost, base+"/api/files", pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return apiError(resp)
	}

	var rec struct {
		DisplayName string `json:"display_name"`
		ExtractCode string `json:"extract_code"`
		ExpiresAt   string `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return err
	}

	fmt.Printf("Uploaded %s\n", rec.DisplayName)
	fmt.Printf("Extract code: %s (expires %s)\n", rec.ExtractCode, rec.ExpiresAt)
	return nil
}

func fetch(base, code string) error {
	resp, err := http.Get(base + "/d/" + code)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	name := filenameFromDisposition(resp.Header.Get("Content-Disposition"))
	if name == "" {
		name = code
	}

	out, err := os.Create(name)
	if err != nil {
		return err
	}
	defer out.Close()

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		os.Remove(name)
		return fmt.Errorf("transfer failed: %w", err)
	}

	fmt.Printf("Saved %s (%d bytes)\n", name, n)
	return nil
}

func filenameFromDisposition(header string) string {
	const marker = "filename*=UTF-8''"
	idx := strings.Index(header, marker)
	if idx < 0 {
		return ""
	}
	name := header[idx+len(marker):]
	// The server path-escapes the name; best effort is fine for a save path.
	name = strings.ReplaceAll(name, "%20", " ")
	return filepath.Base(name)
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Error != "" {
		return fmt.Errorf("%s (%s)", body.Error, resp.Status)
	}
	return fmt.Errorf("unexpected response: %s", resp.Status)
}
