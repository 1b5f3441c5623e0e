package gallery

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// allowedContentType はアップロードを許可する動画形式。
const allowedContentType = "video/mp4"

// initStorage はアップロードディレクトリを作成する。
func initStorage(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// isAllowedContentType はContent-Typeがアップロード可能な形式かを判定する。
func isAllowedContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == allowedContentType
}

// storedFile はディスクに保存されたアップロードファイル。
type storedFile struct {
	// Filename は保存時のファイル名（UUID＋拡張子）。
	Filename string
	// Path は保存先のパス。
	Path string
	// Size は書き込んだバイト数。
	Size int64
}

// saveUpload はアップロードされたファイルをUUIDのファイル名で保存する。
// 書き込みに失敗した場合は途中までのファイルを削除する。
func saveUpload(dir string, header *multipart.FileHeader) (*storedFile, error) {
	src, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("アップロードファイルのオープンに失敗: %w", err)
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = ".mp4"
	}
	filename := uuid.New().String() + ext
	path := filepath.Join(dir, filename)

	dst, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("ファイルの作成に失敗: %w", err)
	}

	written, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		removeFile(path)
		return nil, fmt.Errorf("ファイルの書き込みに失敗: %w", err)
	}

	return &storedFile{Filename: filename, Path: path, Size: written}, nil
}

// removeFile は動画ファイルを削除する。存在しない場合は何もしない。
func removeFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("ファイルの削除に失敗 (%s): %v", path, err)
	}
}
