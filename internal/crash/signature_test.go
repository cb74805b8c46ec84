package crash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "python frame",
			in:   `  File "/home/alice/project/app/handlers.py", line 42, in handle`,
			want: `File "handlers.py", line N, in handle`,
		},
		{
			name: "go frame",
			in:   "\t/Users/bob/src/svc/internal/api/server.go:117 +0x1d4",
			want: "server.go:N",
		},
		{
			name: "goroutine header",
			in:   "goroutine 18 [running]:",
			want: "goroutine N [running]:",
		},
		{
			name: "address",
			in:   "<object at 0x7f3a2c1b9e80>",
			want: "<object at 0x?>",
		},
		{
			name: "relative path kept",
			in:   "error in internal/pkg/foo.go",
			want: "error in internal/pkg/foo.go",
		},
		{
			name: "blank lines and spacing",
			in:   "a   b\r\n\r\n\n  c  ",
			want: "a b\nc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestSignature_StableAcrossEnvironments(t *testing.T) {
	a := "Traceback (most recent call last):\n" +
		"  File \"/home/alice/proj/app.py\", line 10, in main\n" +
		"    handler(req)\n" +
		"KeyError: 'user_id'\n"
	b := "Traceback (most recent call last):\n" +
		"  File \"/srv/ci/build-77/proj/app.py\", line 12, in main\n" +
		"    handler(req)\n" +
		"KeyError: 'user_id'\n"

	sa := Signature("KeyError: 'user_id'", a)
	sb := Signature("KeyError: 'user_id'", b)

	assert.Equal(t, sa, sb)
	assert.Len(t, sa, SignatureLen)
}

func TestSignature_DistinguishesErrors(t *testing.T) {
	a := Signature("", "KeyError: 'user_id'")
	b := Signature("", "KeyError: 'email'")
	assert.NotEqual(t, a, b)
}

func TestSignature_FallsBackToError(t *testing.T) {
	assert.Equal(t, Signature("", "ZeroDivisionError: division by zero"), Signature("ZeroDivisionError: division by zero", ""))
	assert.NotEqual(t, Signature("x", ""), Signature("y", ""))
}
