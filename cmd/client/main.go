// Small smoke client for exercising the attachment API by hand:
//
//	client upload <task-id> <file>
//	client download <attachment-id> <out-file>
//	client delete <attachment-id>
//	client stats
package main

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

var (
	baseURL = envOr("UPLOADGATE_URL", "http://localhost:8080")
	userID  = envOr("UPLOADGATE_USER", "1")
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "upload":
		if len(os.Args) != 4 {
			usage()
		}
		err = uploadFile(os.Args[2], os.Args[3])
	case "download":
		if len(os.Args) != 4 {
			usage()
		}
		err = downloadFile(os.Args[2], os.Args[3])
	case "delete":
		if len(os.Args) != 3 {
			usage()
		}
		err = deleteFile(os.Args[2])
	case "stats":
		err = stats()
	default:
		usage()
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func uploadFile(taskID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		part, err := form.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/tasks/"+taskID+"/attachments", pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	return do(req, os.Stdout)
}

func downloadFile(attachmentID, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/attachments/"+attachmentID+"/download", nil)
	if err != nil {
		return err
	}
	return do(req, out)
}

func deleteFile(attachmentID string) error {
	req, err := http.NewRequest(http.MethodDelete, baseURL+"/api/attachments/"+attachmentID, nil)
	if err != nil {
		return err
	}
	return do(req, os.Stdout)
}

func stats() error {
	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/storage/stats", nil)
	if err != nil {
		return err
	}
	return do(req, os.Stdout)
}

func do(req *http.Request, out io.Writer) error {
	req.Header.Set("X-User-ID", userID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, body)
	}

	_, err = io.Copy(out, resp.Body)
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: client upload <task-id> <file> | download <id> <out> | delete <id> | stats")
	os.Exit(2)
}
