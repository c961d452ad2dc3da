package postgresql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   string
	}{
		{
			name:   "plain",
			config: Config{Host: "localhost", Port: 5432, User: "voice", Password: "secret", Database: "voice_db", SSLMode: "require"},
			want:   "host=localhost port=5432 user=voice password=secret dbname=voice_db sslmode=require",
		},
		{
			name:   "default sslmode and no password",
			config: Config{Host: "db", Port: 5433, User: "voice", Database: "voice_db"},
			want:   "host=db port=5433 user=voice dbname=voice_db sslmode=disable",
		},
		{
			name:   "quoted password",
			config: Config{Host: "db", Port: 5432, User: "voice", Password: `it's a \secret`, Database: "voice_db"},
			want:   `host=db port=5432 user=voice password='it\'s a \\secret' dbname=voice_db sslmode=disable`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dsn(&tt.config))
		})
	}
}
