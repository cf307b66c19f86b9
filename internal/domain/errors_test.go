package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFatal(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"decode", &DecodeError{Err: ErrEmptyImage}, true},
		{"pixel limit", fmt.Errorf("fetch: %w", &DecodeError{Err: ErrTooManyPixels}), true},
		{"policy", &InvalidPolicyError{Field: "quality", Reason: "out of range"}, true},
		{"encode", fmt.Errorf("normalize stage: %w", &EncodeError{Format: FormatWebP, Err: errors.New("libwebp")}), true},
		{"transient", errors.New("connection reset"), false},
		{"warning", &ColorConversionWarning{Err: errors.New("bad tag")}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Fatal(tc.err))
		})
	}
}

func TestEncodeOptionWarning(t *testing.T) {
	var err error = &EncodeOptionWarning{Format: FormatJPEG, Option: "progressive", Backend: "native"}
	assert.ErrorIs(t, err, ErrEncodeOption)
	assert.Equal(t, "jpeg option progressive is not supported by the native encoder", err.Error())
	assert.False(t, Fatal(err))
}
