package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDecode          = errors.New("decode failed")
	ErrInvalidPolicy   = errors.New("invalid policy")
	ErrEncode          = errors.New("encode failed")
	ErrColorConversion = errors.New("color conversion failed")
	ErrEncodeOption    = errors.New("encoder option not applied")

	ErrEmptyImage    = errors.New("image has zero area")
	ErrTooManyPixels = errors.New("image exceeds pixel limit")
)

// DecodeError means the input bytes are not a readable raster. It is fatal
// for that one image only.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

type InvalidPolicyError struct {
	Field  string
	Reason string
}

func (e *InvalidPolicyError) Error() string {
	return fmt.Sprintf("invalid policy: %s: %s", e.Field, e.Reason)
}

func (e *InvalidPolicyError) Is(target error) bool { return target == ErrInvalidPolicy }

type EncodeError struct {
	Format Format
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Format, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

func (e *EncodeError) Is(target error) bool { return target == ErrEncode }

// ColorConversionWarning is recovered inside the pipeline: samples are kept
// as-is and interpreted as sRGB.
type ColorConversionWarning struct {
	Err error
}

func (w *ColorConversionWarning) Error() string {
	return fmt.Sprintf("color conversion skipped, treating samples as sRGB: %v", w.Err)
}

func (w *ColorConversionWarning) Unwrap() error { return w.Err }

func (w *ColorConversionWarning) Is(target error) bool { return target == ErrColorConversion }

// EncodeOptionWarning is attached to an artifact when the encoder backend
// wrote the output without honoring a requested option.
type EncodeOptionWarning struct {
	Format  Format
	Option  string
	Backend string
}

func (w *EncodeOptionWarning) Error() string {
	return fmt.Sprintf("%s option %s is not supported by the %s encoder", w.Format, w.Option, w.Backend)
}

func (w *EncodeOptionWarning) Is(target error) bool { return target == ErrEncodeOption }

// Fatal reports whether err should stop processing of an image without a
// retry. Decoding and encoding are deterministic, so a second attempt fails
// the same way.
func Fatal(err error) bool {
	return errors.Is(err, ErrDecode) || errors.Is(err, ErrInvalidPolicy) || errors.Is(err, ErrEncode)
}
