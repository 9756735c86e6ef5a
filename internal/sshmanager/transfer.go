package sshmanager

import (
	"fmt"
	"io"
	"os"
	"time"
)

const transferBufferSize = 128 * 1024

// FileAttributes is the subset of remote file metadata the API exposes.
type FileAttributes struct {
	Name        string      `json:"name"`
	Size        int64       `json:"size"`
	Mode        os.FileMode `json:"mode"`
	Permissions string      `json:"permissions"`
	IsDirectory bool        `json:"is_directory"`
	ModTime     time.Time   `json:"modified"`
}

func (m *SSHManager) transfer(key string) (*session, error) {
	s := m.get(key)
	if s == nil || s.sftp == nil {
		return nil, ErrNotConnected
	}
	return s, nil
}

// transferError reports ErrNotConnected when the failure came from a lost
// connection rather than from the remote filesystem.
func transferError(s *session, op, path string, err error) error {
	if !probe(s.client) {
		return fmt.Errorf("%s %s: %w: %v", op, path, ErrNotConnected, err)
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}

// ReadFile returns the contents of a remote text file.
func (m *SSHManager) ReadFile(key, path string) (string, error) {
	s, err := m.transfer(key)
	if err != nil {
		return "", err
	}
	f, err := s.sftp.Open(path)
	if err != nil {
		return "", transferError(s, "open", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", transferError(s, "read", path, err)
	}
	return string(data), nil
}

// WriteFile replaces the remote file at path with content.
func (m *SSHManager) WriteFile(key, path, content string) error {
	s, err := m.transfer(key)
	if err != nil {
		return err
	}
	f, err := s.sftp.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return transferError(s, "create", path, err)
	}
	if _, err := f.Write([]byte(content)); err != nil {
		f.Close()
		return transferError(s, "write", path, err)
	}
	if err := f.Close(); err != nil {
		return transferError(s, "close", path, err)
	}
	m.emit(key, EventFileOperation, "write "+path)
	return nil
}

// DownloadFile copies a remote file to localPath, overwriting it.
func (m *SSHManager) DownloadFile(key, remotePath, localPath string) error {
	s, err := m.transfer(key)
	if err != nil {
		return err
	}
	src, err := s.sftp.Open(remotePath)
	if err != nil {
		return transferError(s, "open", remotePath, err)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local file %s: %w", localPath, err)
	}
	defer dst.Close()

	if _, err := io.CopyBuffer(dst, src, make([]byte, transferBufferSize)); err != nil {
		return transferError(s, "download", remotePath, err)
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("sync local file %s: %w", localPath, err)
	}
	m.emit(key, EventFileOperation, "download "+remotePath)
	return nil
}

// UploadFile copies localPath to the remote host, overwriting remotePath.
func (m *SSHManager) UploadFile(key, localPath, remotePath string) error {
	s, err := m.transfer(key)
	if err != nil {
		return err
	}
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file %s: %w", localPath, err)
	}
	defer src.Close()

	return m.upload(s, src, remotePath)
}

// UploadReader streams r to remotePath, overwriting it.
func (m *SSHManager) UploadReader(key string, r io.Reader, remotePath string) error {
	s, err := m.transfer(key)
	if err != nil {
		return err
	}
	return m.upload(s, r, remotePath)
}

func (m *SSHManager) upload(s *session, r io.Reader, remotePath string) error {
	dst, err := s.sftp.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return transferError(s, "create", remotePath, err)
	}
	if _, err := io.CopyBuffer(dst, r, make([]byte, transferBufferSize)); err != nil {
		dst.Close()
		return transferError(s, "upload", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		return transferError(s, "close", remotePath, err)
	}
	m.emit(s.key, EventFileOperation, "upload "+remotePath)
	return nil
}

// ChangePermissions sets the mode bits of a remote path.
func (m *SSHManager) ChangePermissions(key, path string, mode os.FileMode) error {
	s, err := m.transfer(key)
	if err != nil {
		return err
	}
	if err := s.sftp.Chmod(path, mode); err != nil {
		return transferError(s, "chmod", path, err)
	}
	m.emit(key, EventFileOperation, fmt.Sprintf("chmod %o %s", mode.Perm(), path))
	return nil
}

// GetAttributes stats a remote path.
func (m *SSHManager) GetAttributes(key, path string) (FileAttributes, error) {
	s, err := m.transfer(key)
	if err != nil {
		return FileAttributes{}, err
	}
	fi, err := s.sftp.Stat(path)
	if err != nil {
		return FileAttributes{}, transferError(s, "stat", path, err)
	}
	return attributesOf(fi), nil
}

func attributesOf(fi os.FileInfo) FileAttributes {
	return FileAttributes{
		Name:        fi.Name(),
		Size:        fi.Size(),
		Mode:        fi.Mode(),
		Permissions: fmt.Sprintf("%03o", fi.Mode().Perm()),
		IsDirectory: fi.IsDir(),
		ModTime:     fi.ModTime(),
	}
}
