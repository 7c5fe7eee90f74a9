// errors.go — таксономия ошибок управления резервными копиями.
//
// Каждая ошибка несёт вид (Kind), операцию и цель (backend или "local").
// Вид проверяется через errors.Is с sentinel-значениями ErrConnection и т.д.
package model

import (
	"context"
	"errors"
	"os"
	"strings"
)

// Kind — вид ошибки.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindConnection    Kind = "connection"
	KindListing       Kind = "listing"
	KindDelete        Kind = "delete"
	KindUpload        Kind = "upload"
	KindNotMounted    Kind = "not_mounted"
	KindTimeout       Kind = "timeout"
)

// Sentinel-значения для errors.Is.
var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrConnection    = &Error{Kind: KindConnection}
	ErrListing       = &Error{Kind: KindListing}
	ErrDelete        = &Error{Kind: KindDelete}
	ErrUpload        = &Error{Kind: KindUpload}
	ErrNotMounted    = &Error{Kind: KindNotMounted}
	ErrTimeout       = &Error{Kind: KindTimeout}
)

// Error — доменная ошибка.
type Error struct {
	Kind Kind
	// Op — операция (list, delete, upload, mount, ...)
	Op string
	// Target — backend или "local"
	Target string
	// Err — исходная ошибка
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(" error")
	if e.Target != "" {
		b.WriteString(" [")
		b.WriteString(e.Target)
		b.WriteString("]")
	}
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает только вид ошибки, если target — sentinel без деталей.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" || t.Target != "" || t.Err != nil {
		return e == t
	}
	return e.Kind == t.Kind
}

// Wrap создаёт доменную ошибку вида kind.
// Истечение дедлайна контекста или сетевой таймаут превращаются в KindTimeout
// независимо от запрошенного вида. Уже обёрнутая доменная ошибка
// возвращается как есть.
func Wrap(kind Kind, op, target string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Target: target, Err: err}
}

// New создаёт доменную ошибку с текстовым описанием.
func New(kind Kind, op, target, msg string) error {
	return &Error{Kind: kind, Op: op, Target: target, Err: errors.New(msg)}
}

// KindOf возвращает вид доменной ошибки или пустую строку.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return ""
}
