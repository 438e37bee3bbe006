package notify

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoute(t *testing.T) {
	cfg := TwilioConfig{WhatsAppNumber: "+14155238886", SMSNumber: "+15005550006"}
	tests := []struct {
		to, dest, from string
	}{
		{"whatsapp:+919810000001", "whatsapp:+919810000001", "whatsapp:+14155238886"},
		{"+919810000001", "whatsapp:+919810000001", "whatsapp:+14155238886"},
		{"9810000001", "9810000001", "+15005550006"},
	}
	for _, tt := range tests {
		dest, from := route(tt.to, cfg)
		assert.Equal(t, tt.dest, dest, tt.to)
		assert.Equal(t, tt.from, from, tt.to)
	}

	dest, from := route("+919810000001", TwilioConfig{SMSNumber: "+15005550006"})
	assert.Equal(t, "+919810000001", dest, "falls back to SMS without a WhatsApp number")
	assert.Equal(t, "+15005550006", from)
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []string{"short"}, split("short", 10))

	body := strings.Repeat("₹", 8) + "\n" + strings.Repeat("a", 8)
	parts := split(body, 10)
	require.Len(t, parts, 2)
	assert.Equal(t, strings.Repeat("₹", 8), parts[0])
	assert.Equal(t, strings.Repeat("a", 8), parts[1])

	parts = split(strings.Repeat("x", 25), 10)
	assert.Equal(t, []string{strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5)}, parts)
}

func TestLogReplier(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogReplier(zerolog.New(&buf))
	require.NoError(t, r.Send(context.Background(), "+919810000001", "hello"))
	assert.Contains(t, buf.String(), `"to":"+919810000001"`)
	assert.Contains(t, buf.String(), `"body":"hello"`)
}
