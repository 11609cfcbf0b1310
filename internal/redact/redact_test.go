package redact

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   string
		secret string
	}{
		{
			name:   "password assignment",
			in:     "server=db;user id=sa;password=Hunter2!;database=app",
			want:   "server=db;user id=sa;password=***;database=app",
			secret: "Hunter2!",
		},
		{
			name:   "mixed case key keeps spelling",
			in:     "login failed: PassWord=s3cr3t",
			want:   "login failed: PassWord=***",
			secret: "s3cr3t",
		},
		{
			name:   "short form",
			in:     "Server=db;UID=sa;PWD=abc123;",
			want:   "Server=db;UID=sa;PWD=***;",
			secret: "abc123",
		},
		{
			name:   "client secret",
			in:     "clientsecret=AbC~xyz;tenant=t",
			want:   "clientsecret=***;tenant=t",
			secret: "AbC~xyz",
		},
		{
			name:   "service principal segment",
			in:     "server=db;Authentication=ActiveDirectoryServicePrincipal;user id=app@tenant;password=sp-secret",
			want:   "server=db;Authentication=***;password=***",
			secret: "sp-secret",
		},
		{
			name:   "url userinfo",
			in:     "parse sqlserver://reader:p%40ss@db:1433?database=app failed",
			want:   "parse sqlserver://reader:***@db:1433?database=app failed",
			secret: "p%40ss",
		},
		{
			name:   "url userinfo with raw at sign",
			in:     "sqlserver://reader:p@ss@db:1433/inst?database=app",
			want:   "sqlserver://reader:***@db:1433/inst?database=app",
			secret: "ss@",
		},
		{
			name: "no patterns",
			in:   "Cannot open database \"app\" requested by the login.",
			want: "Cannot open database \"app\" requested by the login.",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := String(tt.in)
			assert.Equal(t, tt.want, got)
			if tt.secret != "" {
				assert.NotContains(t, got, tt.secret)
			}
			assert.Equal(t, got, String(got), "re-sanitizing must be a no-op")
		})
	}
}

func TestString_AnyCaseIdempotent(t *testing.T) {
	keys := []string{"password", "PASSWORD", "Password", "pwd", "Pwd", "PWD", "clientSecret", "CLIENTSECRET", "ClientSecret"}
	for _, key := range keys {
		in := fmt.Sprintf("a=1;%s=top-secret-value;b=2", key)
		once := String(in)
		assert.NotContains(t, once, "top-secret-value", key)
		assert.Equal(t, once, String(once), key)
	}
}

func TestError(t *testing.T) {
	assert.Nil(t, Error(nil))

	cause := fmt.Errorf("dial: password=letmein; %w", context.DeadlineExceeded)
	err := Error(cause)
	assert.Equal(t, "dial: password=***; context deadline exceeded", err.Error())
	assert.NotContains(t, err.Error(), "letmein")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	assert.Same(t, err, Error(err), "already redacted errors are returned as-is")
}
