package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestClassifiedError(t *testing.T) {
	t.Run("Basic error creation", func(t *testing.T) {
		err := NewError(CategoryConfig, "invalid configuration").
			WithSeverity(SeverityFatal).
			WithContext("file", "stalagmite.yaml").
			Build()

		if err.Category() != CategoryConfig {
			t.Errorf("expected category %s, got %s", CategoryConfig, err.Category())
		}
		if !err.IsFatal() {
			t.Error("expected fatal severity")
		}
		file, exists := err.Context().GetString("file")
		if !exists || file != "stalagmite.yaml" {
			t.Errorf("expected context file=stalagmite.yaml, got %v", file)
		}
	})

	t.Run("Detection through wrapping", func(t *testing.T) {
		inner := RenderError("missing layout").WithContext("route", "/blog/").Build()
		wrapped := fmt.Errorf("stage render: %w", inner)

		got, ok := AsClassified(wrapped)
		if !ok {
			t.Fatal("expected classified error in chain")
		}
		if got.Category() != CategoryRender {
			t.Errorf("expected render category, got %s", got.Category())
		}
		if !HasCategory(wrapped, CategoryRender) {
			t.Error("expected HasCategory to see through fmt.Errorf")
		}
		if IsFatal(wrapped) {
			t.Error("render errors are per artifact, not fatal")
		}
	})

	t.Run("Unclassified errors are fatal internal", func(t *testing.T) {
		err := stderrors.New("boom")
		if GetCategory(err) != CategoryInternal {
			t.Errorf("expected internal, got %s", GetCategory(err))
		}
		if !IsFatal(err) {
			t.Error("expected unclassified error to be fatal")
		}
	})

	t.Run("Wrap keeps cause", func(t *testing.T) {
		cause := stderrors.New("disk full")
		err := WrapError(cause, CategoryIO, "write page").Build()
		if !stderrors.Is(err, cause) {
			t.Error("expected errors.Is to find the cause")
		}
	})
}

func TestErrorBuilderConstructors(t *testing.T) {
	tests := []struct {
		name     string
		builder  *ErrorBuilder
		category ErrorCategory
		severity ErrorSeverity
	}{
		{"ConfigError", ConfigError("x"), CategoryConfig, SeverityFatal},
		{"ValidationError", ValidationError("x"), CategoryValidation, SeverityFatal},
		{"ParseError", ParseError("x"), CategoryParse, SeverityError},
		{"RenderError", RenderError("x"), CategoryRender, SeverityError},
		{"IOError", IOError("x"), CategoryIO, SeverityFatal},
		{"CacheError", CacheError("x"), CategoryCache, SeverityFatal},
		{"PublishError", PublishError("x"), CategoryPublish, SeverityFatal},
		{"InternalError", InternalError("x"), CategoryInternal, SeverityFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.builder.Build()
			if err.Category() != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, err.Category())
			}
			if err.Severity() != tt.severity {
				t.Errorf("expected severity %s, got %s", tt.severity, err.Severity())
			}
		})
	}
}

func TestErrorContextMerge(t *testing.T) {
	a := ErrorContext{}.Set("key1", "value1").Set("shared", "original")
	b := ErrorContext{}.Set("key2", "value2").Set("shared", "overridden")

	merged := a.Merge(b)
	if v, _ := merged.GetString("shared"); v != "overridden" {
		t.Errorf("expected shared=overridden, got %s", v)
	}
	if v, _ := merged.GetString("key1"); v != "value1" {
		t.Errorf("expected key1=value1, got %s", v)
	}
}

func TestCLIErrorAdapter(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"validation", ValidationError("bad route").Build(), 2},
		{"config", ConfigError("no pages dir").Build(), 7},
		{"cache", CacheError("locked").Build(), 9},
		{"partial build", BuildError("2 artifacts failed").WithSeverity(SeverityError).Build(), 11},
		{"wrapped render", fmt.Errorf("x: %w", RenderError("y").Build()), 11},
		{"unclassified", stderrors.New("plain"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := adapter.ExitCodeFor(tt.err); got != tt.want {
				t.Errorf("ExitCodeFor() = %d, want %d", got, tt.want)
			}
		})
	}

	var buf bytes.Buffer
	code := adapter.Report(&buf, ConfigError("missing pages directory").WithContext("path", "/tmp/p").Build())
	if code != 7 {
		t.Errorf("expected exit 7, got %d", code)
	}
	if !strings.Contains(buf.String(), "missing pages directory (path=/tmp/p)") {
		t.Errorf("unexpected message %q", buf.String())
	}
}
