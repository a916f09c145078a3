package esim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{
			name: "start trims fields",
			cmd:  StartCommand{SMDP: "  rsp.example.com ", ActivationCode: " ABC-123 ", ConfirmationCode: " 9876 "},
			want: `{"type":"start","smdp":"rsp.example.com","activationCode":"ABC-123","confirmationCode":"9876"}`,
		},
		{
			name: "start keeps blank confirmation code",
			cmd:  StartCommand{SMDP: "rsp.example.com", ActivationCode: "ABC", ConfirmationCode: "   "},
			want: `{"type":"start","smdp":"rsp.example.com","activationCode":"ABC","confirmationCode":""}`,
		},
		{
			name: "start without confirmation code",
			cmd:  StartCommand{SMDP: " a ", ActivationCode: " b "},
			want: `{"type":"start","smdp":"a","activationCode":"b","confirmationCode":""}`,
		},
		{
			name: "confirm accept",
			cmd:  ConfirmCommand{Accept: true},
			want: `{"type":"confirm","accept":true}`,
		},
		{
			name: "confirm reject",
			cmd:  ConfirmCommand{Accept: false},
			want: `{"type":"confirm","accept":false}`,
		},
		{
			name: "cancel",
			cmd:  CancelCommand{},
			want: `{"type":"cancel"}`,
		},
		{
			name: "confirmation code",
			cmd:  ConfirmationCodeCommand{Code: " 1234 "},
			want: `{"type":"confirmation_code","code":"1234"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeCommand(tt.cmd)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestEncodeBlankConfirmationCode(t *testing.T) {
	_, err := EncodeCommand(ConfirmationCodeCommand{Code: "  "})
	require.Error(t, err)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrInvalidCommand, e.Type)
}

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Message
	}{
		{
			name: "progress known stage",
			raw:  `{"type":"progress","stage":"Authenticating Server"}`,
			want: ProgressMessage{ServerStage: "Authenticating Server", Stage: StageConnecting},
		},
		{
			name: "progress unknown stage",
			raw:  `{"type":"progress","stage":"Downloading"}`,
			want: ProgressMessage{ServerStage: "Downloading", Stage: StageNone},
		},
		{
			name: "preview",
			raw:  `{"type":"preview","profile":{"iccid":"8901","serviceProviderName":"Carrier","profileName":"Travel","profileState":"disabled","regionCode":"DE"}}`,
			want: PreviewMessage{Profile: &Profile{
				ICCID:               "8901",
				ServiceProviderName: "Carrier",
				ProfileName:         "Travel",
				ProfileState:        "disabled",
				RegionCode:          "DE",
			}},
		},
		{
			name: "preview without profile",
			raw:  `{"type":"preview"}`,
			want: PreviewMessage{},
		},
		{
			name: "confirmation code required",
			raw:  `{"type":"confirmation_code_required"}`,
			want: ConfirmationCodeRequiredMessage{},
		},
		{
			name: "completed",
			raw:  `{"type":"completed"}`,
			want: CompletedMessage{},
		},
		{
			name: "error trims message",
			raw:  `{"type":"error","message":"  download failed  "}`,
			want: ErrorMessage{Message: "download failed"},
		},
		{
			name: "unknown type",
			raw:  `{"type":"heartbeat","seq":3}`,
			want: UnknownMessage{FrameType: "heartbeat"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`[1,2,3]`,
		`"progress"`,
		`null`,
		`{}`,
		`{"type":7}`,
		`{"type":"progress","stage":5}`,
		`{"type":"preview","profile":"x"}`,
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := DecodeMessage([]byte(raw))
			require.Error(t, err)
			assert.True(t, IsMalformed(err))
		})
	}
}
