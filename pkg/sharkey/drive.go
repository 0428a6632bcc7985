package sharkey

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
)

// DriveFile is the subset of a Drive file the pipeline keeps.
type DriveFile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	MD5      string `json:"md5"`
	FolderID string `json:"folderId"`
}

// DriveFolder is a Drive folder.
type DriveFolder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EnsureFolder returns the id of the root-level folder called name,
// creating it when it does not exist.
func (c *Client) EnsureFolder(ctx context.Context, name string) (string, error) {
	var folders []DriveFolder
	if err := c.Call(ctx, "drive/folders", map[string]any{"limit": 100}, &folders); err != nil {
		return "", fmt.Errorf("list drive folders: %w", err)
	}
	for _, f := range folders {
		if f.Name == name {
			return f.ID, nil
		}
	}

	var created DriveFolder
	if err := c.Call(ctx, "drive/folders/create", map[string]any{"name": name}, &created); err != nil {
		return "", fmt.Errorf("create drive folder %q: %w", name, err)
	}
	c.logger.WithField("folder", name).Info("created drive folder")
	return created.ID, nil
}

// Upload stores data as a new Drive file inside folderID.
func (c *Client) Upload(ctx context.Context, folderID, name string, data []byte) (DriveFile, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := map[string]string{"i": c.token, "name": name}
	if folderID != "" {
		fields["folderId"] = folderID
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return DriveFile{}, fmt.Errorf("write field %s: %w", k, err)
		}
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return DriveFile{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return DriveFile{}, fmt.Errorf("write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return DriveFile{}, fmt.Errorf("close multipart: %w", err)
	}
	body := buf.Bytes()
	contentType := w.FormDataContentType()

	var file DriveFile
	err = c.send(ctx, "drive/files/create", &file, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("drive/files/create"), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
	if err != nil {
		return DriveFile{}, fmt.Errorf("upload %s: %w", name, err)
	}
	return file, nil
}

// Rename gives an existing Drive file a new name and moves it into folderID.
func (c *Client) Rename(ctx context.Context, fileID, name, folderID string) (DriveFile, error) {
	params := map[string]any{"fileId": fileID, "name": name}
	if folderID != "" {
		params["folderId"] = folderID
	}
	var file DriveFile
	if err := c.Call(ctx, "drive/files/update", params, &file); err != nil {
		return DriveFile{}, fmt.Errorf("rename drive file %s: %w", fileID, err)
	}
	return file, nil
}
