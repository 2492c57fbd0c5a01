package filesystem

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorConstructorsWrapPOSIXSentinels(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"not exist", ErrNotExist("open", "/a"), os.ErrNotExist},
		{"exist", ErrExist("mkdir", "/a"), os.ErrExist},
		{"permission", ErrPermission("write", "/a"), os.ErrPermission},
		{"invalid", ErrInvalid("write", "/a"), os.ErrInvalid},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.ErrorIs(t, c.err, c.want)
		})
	}
}

func TestErrIOWrapsArbitraryCause(t *testing.T) {
	cause := errors.New("boom")
	err := ErrIO("fetch", "/a", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "fetch")
	assert.Contains(t, err.Error(), "/a")
}
