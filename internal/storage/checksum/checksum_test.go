package checksum

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

// Эталонные значения SHA-256.
const (
	sumEmpty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	sumABC   = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
)

func TestSumKnownVectors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"пустые данные", "", sumEmpty},
		{"abc", "abc", sumABC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n, err := Sum(bytes.NewReader([]byte(tt.data)))
			if err != nil {
				t.Fatalf("ошибка Sum: %v", err)
			}
			if got != tt.want {
				t.Errorf("ожидалось %s, получено %s", tt.want, got)
			}
			if n != int64(len(tt.data)) {
				t.Errorf("размер: ожидалось %d, получено %d", len(tt.data), n)
			}
		})
	}
}

// TestSumLargerThanChunk проверяет данные на несколько блоков.
func TestSumLargerThanChunk(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), ChunkSize/4+7)
	want := sha256.Sum256(data)

	got, n, err := Sum(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ошибка Sum: %v", err)
	}
	if got != hex.EncodeToString(want[:]) {
		t.Errorf("хэш не совпадает с crypto/sha256")
	}
	if n != int64(len(data)) {
		t.Errorf("размер: ожидалось %d, получено %d", len(data), n)
	}
}

type failingReader struct{ after int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.after <= 0 {
		return 0, errors.New("диск недоступен")
	}
	n := min(len(p), r.after)
	r.after -= n
	return n, nil
}

// TestSumReadError проверяет, что при ошибке частичный хэш не возвращается.
func TestSumReadError(t *testing.T) {
	got, _, err := Sum(&failingReader{after: ChunkSize + 10})
	if err == nil {
		t.Fatal("ожидалась ошибка чтения")
	}
	if got != "" {
		t.Errorf("при ошибке хэш должен быть пустым, получено %s", got)
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abc.txt")
	if err := os.WriteFile(path, []byte("abc"), 0o640); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	got, _, err := File(path)
	if err != nil {
		t.Fatalf("ошибка File: %v", err)
	}
	if got != sumABC {
		t.Errorf("ожидалось %s, получено %s", sumABC, got)
	}

	// Меняем один байт
	if err := os.WriteFile(path, []byte("abd"), 0o640); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}
	changed, _, err := File(path)
	if err != nil {
		t.Fatalf("ошибка File: %v", err)
	}
	if changed == sumABC {
		t.Error("изменение одного байта не обнаружено")
	}

	if _, _, err := File(filepath.Join(t.TempDir(), "нет.txt")); err == nil {
		t.Error("ожидалась ошибка для несуществующего файла")
	}
}

func TestCopy(t *testing.T) {
	var dst bytes.Buffer
	sum, n, err := Copy(&dst, io.LimitReader(bytes.NewReader([]byte("abcdef")), 3))
	if err != nil {
		t.Fatalf("ошибка Copy: %v", err)
	}
	if sum != sumABC || n != 3 || dst.String() != "abc" {
		t.Errorf("Copy: sum=%s n=%d dst=%q", sum, n, dst.String())
	}
}
