package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const connID = "conn-1"

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
		fatal   bool
	}{
		{
			name:    "undecodable frame",
			raw:     "{not json",
			wantErr: "Invalid JSON",
		},
		{
			name:    "json but not an object",
			raw:     `"ping"`,
			wantErr: "Invalid JSON",
		},
		{
			name:    "missing type",
			raw:     `{"connectionId":"conn-1"}`,
			wantErr: "Message must have a string type field",
		},
		{
			name:    "non-string type",
			raw:     `{"type":42}`,
			wantErr: "Message must have a string type field",
		},
		{
			name:    "unknown type",
			raw:     `{"type":"teleport","connectionId":"conn-1"}`,
			wantErr: "Unknown message type: teleport",
		},
		{
			name:    "ping without connectionId",
			raw:     `{"type":"ping"}`,
			wantErr: "Message must have a string connectionId field",
		},
		{
			name:    "non-string connectionId",
			raw:     `{"type":"ping","connectionId":7}`,
			wantErr: "Message must have a string connectionId field",
		},
		{
			name:    "mismatched connectionId",
			raw:     `{"type":"ping","connectionId":"spoofed"}`,
			wantErr: "Invalid connectionId",
		},
		{
			name:    "browser_connect without userId",
			raw:     `{"type":"browser_connect","connectionId":"conn-1"}`,
			wantErr: "Message must have a string userId field",
		},
		{
			name:    "oversized userId",
			raw:     `{"type":"browser_connect","connectionId":"conn-1","userId":"` + strings.Repeat("x", 256) + `"}`,
			wantErr: "userId must be at most 255 characters",
		},
		{
			name:    "edit_request without sessionId",
			raw:     `{"type":"edit_request","connectionId":"conn-1","userId":"u1","payload":{"snippetId":"s","code":"c"}}`,
			wantErr: "Message must have a string sessionId field",
		},
		{
			name:    "edit_request without payload",
			raw:     `{"type":"edit_request","connectionId":"conn-1","userId":"u1","sessionId":"s1"}`,
			wantErr: "Message must have a payload object",
		},
		{
			name:    "edit_request payload without snippetId",
			raw:     `{"type":"edit_request","connectionId":"conn-1","userId":"u1","sessionId":"s1","payload":{"code":"x"}}`,
			wantErr: "Payload must have a string snippetId field",
		},
		{
			name:    "edit_request payload without code",
			raw:     `{"type":"edit_request","connectionId":"conn-1","userId":"u1","sessionId":"s1","payload":{"snippetId":"s"}}`,
			wantErr: "Payload must have a string code field",
		},
		{
			name:    "code_update without payload code",
			raw:     `{"type":"code_update","connectionId":"conn-1","sessionId":"s1","payload":{}}`,
			wantErr: "Payload must have a string code field",
		},
		{
			name:    "info without message",
			raw:     `{"type":"info","connectionId":"conn-1","sessionId":"s1"}`,
			wantErr: "Message must have a string message field",
		},
		{
			name:    "info without any id",
			raw:     `{"type":"info","connectionId":"conn-1","message":"saved"}`,
			wantErr: "Message must have a string sessionId or snippetId field",
		},
		{
			name:    "oversized code payload",
			raw:     `{"type":"code_update","connectionId":"conn-1","sessionId":"s1","payload":{"code":"` + strings.Repeat("a", MaxCodeSize+1) + `"}}`,
			wantErr: "Code payload too large",
			fatal:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, verr := Validate(connID, []byte(tt.raw))
			require.NotNil(t, verr)
			assert.Nil(t, cmd)
			assert.Equal(t, tt.wantErr, verr.Message)
			assert.Equal(t, tt.fatal, verr.Fatal)
		})
	}
}

func TestValidateCommands(t *testing.T) {
	cmd, verr := Validate(connID, []byte(`{"type":"browser_connect","connectionId":"conn-1","userId":"u1"}`))
	require.Nil(t, verr)
	assert.Equal(t, BrowserConnect{UserID: "u1"}, cmd)

	cmd, verr = Validate(connID, []byte(`{"type":"desktop_connect","connectionId":"conn-1","userId":"u1"}`))
	require.Nil(t, verr)
	assert.Equal(t, DesktopConnect{UserID: "u1"}, cmd)

	cmd, verr = Validate(connID, []byte(`{"type":"edit_request","connectionId":"conn-1","userId":"u1","sessionId":"s1","payload":{"snippetId":"main","code":"x=1","fileType":"py"}}`))
	require.Nil(t, verr)
	assert.Equal(t, EditRequest{
		UserID:    "u1",
		SessionID: "s1",
		Payload:   CodePayload{SnippetID: "main", Code: "x=1", FileType: "py"},
	}, cmd)

	cmd, verr = Validate(connID, []byte(`{"type":"code_update","connectionId":"conn-1","sessionId":"s1","payload":{"code":"x=2"}}`))
	require.Nil(t, verr)
	assert.Equal(t, CodeUpdate{SessionID: "s1", Code: "x=2"}, cmd)

	cmd, verr = Validate(connID, []byte(`{"type":"info","connectionId":"conn-1","snippetId":"main","message":"saved"}`))
	require.Nil(t, verr)
	assert.Equal(t, Info{SnippetID: "main", Message: "saved"}, cmd)

	cmd, verr = Validate(connID, []byte(`{"type":"ping","connectionId":"conn-1","payload":{"nonce":17}}`))
	require.Nil(t, verr)
	ping, ok := cmd.(Ping)
	require.True(t, ok)
	assert.JSONEq(t, `{"nonce":17}`, string(ping.Payload))

	cmd, verr = Validate(connID, []byte(`{"type":"get_status","connectionId":"conn-1"}`))
	require.Nil(t, verr)
	assert.Equal(t, GetStatus{}, cmd)

	cmd, verr = Validate(connID, []byte(`{"type":"status_connect","connectionId":"conn-1"}`))
	require.Nil(t, verr)
	assert.Equal(t, GetStatus{}, cmd)
}

func TestValidateHandshakeSkipsConnectionID(t *testing.T) {
	cmd, verr := Validate(connID, []byte(`{"type":"connection_init"}`))
	require.Nil(t, verr)
	assert.Equal(t, Hello{}, cmd)
}

func TestValidateNonASCIIUserID(t *testing.T) {
	cmd, verr := Validate(connID, []byte(`{"type":"browser_connect","connectionId":"conn-1","userId":"ユーザー一号"}`))
	require.Nil(t, verr)
	assert.Equal(t, BrowserConnect{UserID: "ユーザー一号"}, cmd)
}

func TestValidateIgnoresExtraFields(t *testing.T) {
	cmd, verr := Validate(connID, []byte(`{"type":"ping","connectionId":"conn-1","futureField":true,"another":{"nested":1}}`))
	require.Nil(t, verr)
	_, ok := cmd.(Ping)
	assert.True(t, ok)
}
