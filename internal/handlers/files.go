package handlers

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/pandasdroid/vps-management/internal/logutil"
	"github.com/pandasdroid/vps-management/internal/remotefiles"
	"github.com/pandasdroid/vps-management/internal/sshmanager"
)

const maxUploadMemory = 32 << 20

func ListFiles(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	dirPath := r.URL.Query().Get("path")
	if dirPath == "" {
		dirPath = "/"
	}

	start := time.Now()
	entries, err := remotefiles.List(r.Context(), SSHMgr, h.ID, dirPath)
	if err != nil {
		writeError(w, errorStatus(err), fmt.Sprintf("Failed to list directory: %v", err))
		return
	}
	log.Printf("[files] list host=%s path=%s entries=%d duration=%s", logutil.SanitizeForLog(h.ID), logutil.SanitizeForLog(dirPath), len(entries), time.Since(start))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":    dirPath,
		"parent":  remotefiles.ParentPath(dirPath),
		"entries": entries,
	})
}

// ReadFile returns a text file for editing. Files that do not look like
// text are refused.
func ReadFile(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	filePath := r.URL.Query().Get("path")
	if filePath == "" {
		writeError(w, http.StatusBadRequest, "path parameter required")
		return
	}
	if !remotefiles.IsEditable(filePath) {
		writeError(w, http.StatusUnsupportedMediaType, fmt.Sprintf("%s is not an editable text file", path.Base(filePath)))
		return
	}

	content, err := SSHMgr.ReadFile(h.ID, filePath)
	if err != nil {
		writeError(w, errorStatus(err), fmt.Sprintf("Failed to read file: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"path":    filePath,
		"content": content,
	})
}

type writeFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func WriteFile(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	var req writeFileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := SSHMgr.WriteFile(h.ID, req.Path, req.Content); err != nil {
		writeResult(w, errorStatus(err), false, err.Error())
		return
	}
	writeResult(w, http.StatusOK, true, fmt.Sprintf("Saved %s", path.Base(req.Path)))
}

// DownloadFile copies the remote file to a temporary local file and serves
// it as an attachment.
func DownloadFile(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	filePath := r.URL.Query().Get("path")
	if filePath == "" {
		writeError(w, http.StatusBadRequest, "path parameter required")
		return
	}

	tmp, err := os.CreateTemp("", "vpsm-download-*")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := SSHMgr.DownloadFile(h.ID, filePath, tmpPath); err != nil {
		writeError(w, errorStatus(err), fmt.Sprintf("Failed to download file: %v", err))
		return
	}
	f, err := os.Open(tmpPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	name := path.Base(filePath)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, fi.ModTime(), f)
}

// UploadFile stores the multipart "file" field in the directory given by
// the path query parameter, overwriting any existing file.
func UploadFile(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	dirPath := r.URL.Query().Get("path")
	if dirPath == "" {
		dirPath = "/"
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid upload: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	name := path.Base(header.Filename)
	if name == "." || name == "/" || name == ".." {
		writeError(w, http.StatusBadRequest, "Invalid file name")
		return
	}
	remotePath := remotefiles.JoinPath(dirPath, name)
	if err := SSHMgr.UploadReader(h.ID, file, remotePath); err != nil {
		writeResult(w, errorStatus(err), false, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Uploaded %s", name),
		"path":    remotePath,
	})
}

func GetFileAttributes(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	filePath := r.URL.Query().Get("path")
	if filePath == "" {
		writeError(w, http.StatusBadRequest, "path parameter required")
		return
	}
	attrs, err := SSHMgr.GetAttributes(h.ID, filePath)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, attrs)
}

type deleteRequest struct {
	Path        string `json:"path"`
	IsDirectory bool   `json:"is_directory"`
}

func DeleteFile(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	var req deleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := remotefiles.Delete(r.Context(), SSHMgr, h.ID, req.Path, req.IsDirectory); err != nil {
		writeResult(w, fileOpStatus(err), false, err.Error())
		return
	}
	SSHMgr.LogEvent(h.ID, sshmanager.EventFileOperation, "delete "+req.Path)
	writeResult(w, http.StatusOK, true, fmt.Sprintf("Deleted %s", path.Base(req.Path)))
}

type pathRequest struct {
	Path string `json:"path"`
}

func MakeDirectory(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	var req pathRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := remotefiles.Mkdir(r.Context(), SSHMgr, h.ID, req.Path); err != nil {
		writeResult(w, fileOpStatus(err), false, err.Error())
		return
	}
	SSHMgr.LogEvent(h.ID, sshmanager.EventFileOperation, "mkdir "+req.Path)
	writeResult(w, http.StatusOK, true, fmt.Sprintf("Created %s", path.Base(req.Path)))
}

type renameRequest struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
}

func RenameFile(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	var req renameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OldPath == "" || req.NewPath == "" {
		writeError(w, http.StatusBadRequest, "old_path and new_path are required")
		return
	}
	if err := remotefiles.Rename(r.Context(), SSHMgr, h.ID, req.OldPath, req.NewPath); err != nil {
		writeResult(w, fileOpStatus(err), false, err.Error())
		return
	}
	SSHMgr.LogEvent(h.ID, sshmanager.EventFileOperation, "rename "+req.OldPath+" -> "+req.NewPath)
	writeResult(w, http.StatusOK, true, fmt.Sprintf("Renamed to %s", path.Base(req.NewPath)))
}

// chmodRequest takes either Mode ("755" or "-rwxr-xr-x") or the three
// octal digits.
type chmodRequest struct {
	Path  string `json:"path"`
	Mode  string `json:"mode"`
	Owner int    `json:"owner"`
	Group int    `json:"group"`
	Other int    `json:"other"`
}

func ChangeMode(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	var req chmodRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	var mode os.FileMode
	var err error
	if req.Mode != "" {
		mode, err = remotefiles.ParseMode(req.Mode)
	} else {
		mode, err = remotefiles.PermissionMode(req.Owner, req.Group, req.Other)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := SSHMgr.ChangePermissions(h.ID, req.Path, mode); err != nil {
		writeResult(w, errorStatus(err), false, err.Error())
		return
	}
	writeResult(w, http.StatusOK, true, fmt.Sprintf("Permissions of %s set to %03o", path.Base(req.Path), mode))
}

// fileOpStatus maps shell mutation failures. Errors not tied to the
// connection carry the command's own message and count as bad requests.
func fileOpStatus(err error) int {
	if status := errorStatus(err); status != http.StatusInternalServerError {
		return status
	}
	return http.StatusBadRequest
}
