// archivectl — консольный клиент архива. Работает с каталогом архива
// напрямую, без HTTP-сервиса.
//
// Использование:
//
//	archivectl [--root DIR] [--log-level LEVEL] [--workers N] <команда> [аргументы]
//
// Корень архива по умолчанию берётся из OA_ARCHIVE_ROOT.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bigkaa/goartstore/open-archiver/internal/config"
)

// Коды завершения.
const (
	exitOK = 0
	// exitError — ошибка выполнения команды
	exitError = 1
	// exitUsage — неверные аргументы
	exitUsage = 2
	// exitDiscrepancies — проверка целостности нашла расхождения
	exitDiscrepancies = 3
)

// exitCodeError — ошибка с явным кодом завершения.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

// usageErrorf — ошибка аргументов командной строки.
func usageErrorf(format string, args ...any) error {
	return &exitCodeError{code: exitUsage, err: fmt.Errorf(format, args...)}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run разбирает глобальные флаги, выбирает команду и возвращает код завершения.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}

	var logLevel string
	fs := pflag.NewFlagSet("archivectl", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	fs.StringVar(&a.root, "root", os.Getenv("OA_ARCHIVE_ROOT"), "корень архива (по умолчанию $OA_ARCHIVE_ROOT)")
	fs.StringVar(&logLevel, "log-level", "warn", "уровень логирования: debug, info, warn, error")
	fs.IntVar(&a.workers, "workers", 4, "число параллельных обработчиков приёма и проверки")
	fs.Usage = func() { printUsage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if a.workers < 1 {
		fmt.Fprintln(stderr, "Ошибка: --workers должен быть >= 1")
		return exitUsage
	}
	level, err := config.ParseLogLevel(logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "Ошибка: --log-level: %v\n", err)
		return exitUsage
	}
	a.logger = config.NewLogger(stderr, level, "text", false)

	rest := fs.Args()
	if len(rest) == 0 {
		printUsage(stderr, fs)
		return exitUsage
	}

	cmd, ok := findCommand(rest[0])
	if !ok {
		fmt.Fprintf(stderr, "Ошибка: неизвестная команда %q\n\n", rest[0])
		printUsage(stderr, fs)
		return exitUsage
	}

	err = cmd.run(ctx, a, rest[1:])
	a.close()
	if err == nil {
		return exitOK
	}
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}

	fmt.Fprintf(stderr, "Ошибка: %v\n", err)
	var coded *exitCodeError
	if errors.As(err, &coded) {
		return coded.code
	}
	return exitError
}

func printUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "Использование: archivectl [флаги] <команда> [аргументы]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Команды:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Флаги:")
	fs.SetOutput(w)
	fs.PrintDefaults()
}
