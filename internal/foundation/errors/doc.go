// Package errors provides the classified error type used across stalagmite.
//
// A ClassifiedError carries a category (config, parse, render, cache, ...), a
// severity and free-form context. Categories drive the CLI exit code; the
// severity decides whether the build pipeline may continue past the error.
//
//	err := errors.WrapError(cause, errors.CategoryRender, "render page").
//		WithContext("route", "/blog/hello/").
//		Build()
package errors
