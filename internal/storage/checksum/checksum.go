// Пакет checksum — потоковое вычисление SHA-256.
// Данные читаются блоками фиксированного размера, поэтому расход
// памяти не зависит от размера файла. Результат зависит только
// от содержимого: путь, время и права доступа не учитываются.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
)

// ChunkSize — размер блока чтения (64 КБ).
const ChunkSize = 64 * 1024

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, ChunkSize)
		return &b
	},
}

// Sum вычисляет SHA-256 содержимого reader.
// Возвращает hex-строку и число прочитанных байт.
// При ошибке чтения частичный хэш не возвращается.
func Sum(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := copyChunked(h, r)
	if err != nil {
		return "", n, fmt.Errorf("ошибка чтения данных для checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// File вычисляет SHA-256 файла на диске.
func File(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("ошибка открытия файла %s: %w", path, err)
	}
	defer f.Close()

	sum, n, err := Sum(f)
	if err != nil {
		return "", n, fmt.Errorf("ошибка вычисления checksum %s: %w", path, err)
	}
	return sum, n, nil
}

// Copy копирует src в dst и одновременно считает SHA-256
// скопированных данных.
func Copy(dst io.Writer, src io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := copyChunked(io.MultiWriter(dst, h), src)
	if err != nil {
		return "", n, fmt.Errorf("ошибка копирования с подсчётом checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// copyChunked копирует данные блоками ChunkSize из пула буферов.
func copyChunked(dst io.Writer, src io.Reader) (int64, error) {
	bp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bp)
	return io.CopyBuffer(onlyWriter{dst}, onlyReader{src}, *bp)
}

// onlyWriter и onlyReader скрывают ReaderFrom/WriterTo,
// чтобы io.CopyBuffer всегда использовал переданный буфер.
type onlyWriter struct{ io.Writer }

type onlyReader struct{ io.Reader }
