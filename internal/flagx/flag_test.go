package flagx

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

var serverFlags = []string{"-a", "-d", "-cache", "-etc", "-trust-proxy", "-redis"}

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		allowed []string
		want    []string
	}{
		{
			name:    "config loader flags are dropped",
			args:    []string{"-c", "parcel.json", "-env", "prod.env", "-d", "postgres://parcel@db/parcel"},
			allowed: serverFlags,
			want:    []string{"-d", "postgres://parcel@db/parcel"},
		},
		{
			name:    "only config flags kept for the json loader",
			args:    []string{"-a", ":3000", "-config=/etc/parcel/parcel.json", "-cache", "/var/cache/parcel"},
			allowed: []string{"-c", "-config"},
			want:    []string{"-config=/etc/parcel/parcel.json"},
		},
		{
			name:    "boolean flag in equals form",
			args:    []string{"-trust-proxy=true", "-etc", "./etc"},
			allowed: serverFlags,
			want:    []string{"-trust-proxy=true", "-etc", "./etc"},
		},
		{
			name:    "next flag is not taken as a value",
			args:    []string{"-redis", "-d", "postgres://db"},
			allowed: serverFlags,
			want:    []string{"-redis", "-d", "postgres://db"},
		},
		{
			name:    "trailing flag without value",
			args:    []string{"-cache"},
			allowed: serverFlags,
			want:    []string{"-cache"},
		},
		{
			name:    "admin subcommands are not flags",
			args:    []string{"-c", "parcel.json", "setup", "-username", "root"},
			allowed: serverFlags,
			want:    []string{},
		},
		{
			name:    "repeated flag keeps order",
			args:    []string{"-d", "postgres://one", "-d", "postgres://two"},
			allowed: serverFlags,
			want:    []string{"-d", "postgres://one", "-d", "postgres://two"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowed))
		})
	}
}

func TestStringFlag(t *testing.T) {
	args := []string{"-d", "postgres://x", "-env", "prod.env", "-c", "parcel.json", "cache-summary"}

	assert.Equal(t, "prod.env", StringFlag(args, "env", ""))
	assert.Equal(t, "parcel.json", StringFlag(args, "config", "c"))
	assert.Equal(t, "postgres://x", StringFlag(args, "d", ""))
	assert.Empty(t, StringFlag(args, "redis", ""))
}

func TestJsonConfigFlags(t *testing.T) {
	orig := os.Args
	t.Cleanup(func() { os.Args = orig })

	os.Args = []string{"parcel", "-c", "/etc/parcel/one.json"}
	assert.Equal(t, "/etc/parcel/one.json", JsonConfigFlags())

	os.Args = []string{"parcel", "-config", "/etc/parcel/two.json", "-d", "postgres://db"}
	assert.Equal(t, "/etc/parcel/two.json", JsonConfigFlags())

	os.Args = []string{"parcel", "-c", "first.json", "-config", "second.json"}
	assert.Equal(t, "second.json", JsonConfigFlags(), "last occurrence wins")

	os.Args = []string{"parcel", "-a", ":3000"}
	assert.Empty(t, JsonConfigFlags())
}

func TestEnvFileFlag(t *testing.T) {
	orig := os.Args
	t.Cleanup(func() { os.Args = orig })

	os.Args = []string{"parcel", "-env=/etc/parcel/.env", "-a", ":1"}
	assert.Equal(t, "/etc/parcel/.env", EnvFileFlag())

	os.Args = []string{"parcel"}
	assert.Empty(t, EnvFileFlag())
}
