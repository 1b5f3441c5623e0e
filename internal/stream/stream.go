package stream

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrFileNotFound は配信対象のファイルが存在しない場合のエラー。
// この場合はレスポンスを書き込まずに返す。
var ErrFileNotFound = errors.New("ファイルが見つかりません")

// RangeError は満たせないRange指定を表す。レスポンスには416を書き込み済み。
type RangeError struct {
	// Header はクライアントが送信したRangeヘッダー。
	Header string
	// Size はファイルサイズ。
	Size int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("満たせない範囲指定です: %q (size=%d)", e.Header, e.Size)
}

var (
	streamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gallery_stream_requests_total",
		Help: "ストリーム配信リクエスト数（ステータス別）。",
	}, []string{"status"})

	streamBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gallery_stream_bytes_total",
		Help: "ストリーム配信で送信したバイト数。",
	})
)

// Serve はpathのファイルをrのRangeヘッダーに従って配信し、送信したバイト数を返す。
//
// ファイルハンドルは完了・エラー・クライアント切断のいずれの場合も解放される。
// ファイルが存在しない場合は何も書き込まずにErrFileNotFoundを返す。
func Serve(w http.ResponseWriter, r *http.Request, path, contentType string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrFileNotFound
		}
		return 0, fmt.Errorf("ファイルのオープンに失敗: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("ファイル情報の取得に失敗: %w", err)
	}
	if info.IsDir() {
		return 0, ErrFileNotFound
	}
	size := info.Size()

	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Accept-Ranges", "bytes")

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		streamRequestsTotal.WithLabelValues("200").Inc()
		return copyBody(w, r, f, size)
	}

	start, end, err := ParseRange(rangeHeader, size)
	if err != nil {
		h.Del("Content-Type")
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		streamRequestsTotal.WithLabelValues("416").Inc()
		return 0, err
	}

	length := end - start + 1
	h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	streamRequestsTotal.WithLabelValues("206").Inc()

	return copyBody(w, r, io.NewSectionReader(f, start, length), length)
}

// copyBody は本文を送信する。HEADリクエストでは本文を送らない。
func copyBody(w io.Writer, r *http.Request, src io.Reader, n int64) (int64, error) {
	if r.Method == http.MethodHead {
		return 0, nil
	}
	written, err := io.CopyN(w, src, n)
	streamBytesTotal.Add(float64(written))
	if err != nil {
		// クライアント切断を含む。ハンドルは呼び出し元のdeferで解放される。
		log.Printf("[Stream] 配信を中断しました (%d/%d bytes): %v", written, n, err)
		return written, fmt.Errorf("ファイルの送信に失敗: %w", err)
	}
	return written, nil
}

// ParseRange は "bytes=<start>-[<end>]" 形式のRangeヘッダーを解析する。
// endを省略した場合はファイル末尾までとなる。
// 0 <= start <= end < size を満たさない指定、複数範囲、末尾からの指定（bytes=-N）は*RangeErrorになる。
func ParseRange(header string, size int64) (start, end int64, err error) {
	rangeErr := &RangeError{Header: header, Size: size}

	rangeSpec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || strings.Contains(rangeSpec, ",") {
		return 0, 0, rangeErr
	}
	first, last, ok := strings.Cut(rangeSpec, "-")
	if !ok {
		return 0, 0, rangeErr
	}
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)

	start, err = strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, 0, rangeErr
	}
	end = size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil {
			return 0, 0, rangeErr
		}
	}

	if start < 0 || start > end || end >= size {
		return 0, 0, rangeErr
	}
	return start, end, nil
}
