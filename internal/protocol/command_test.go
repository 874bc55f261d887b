package protocol

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Command
		wantErr bool
	}{
		{
			name:    "register",
			payload: "REG|alice|hunter2",
			want:    Command{Kind: KindRegister, Username: "alice", Password: "hunter2"},
		},
		{
			name:    "login",
			payload: "LOG|bob|s3cret",
			want:    Command{Kind: KindLogin, Username: "bob", Password: "s3cret"},
		},
		{
			name:    "manifest",
			payload: "MAN",
			want:    Command{Kind: KindManifest},
		},
		{
			name:    "back to menu",
			payload: "BACK|MEN",
			want:    Command{Kind: KindBack, Destination: "MEN"},
		},
		{
			name:    "game request",
			payload: "GAME|zelda.gb",
			want:    Command{Kind: KindGame, Title: "zelda.gb"},
		},
		{
			name:    "info request",
			payload: "INFO|zelda.gb",
			want:    Command{Kind: KindInfo, Title: "zelda.gb"},
		},
		{
			name:    "quit game",
			payload: "QUITGAME",
			want:    Command{Kind: KindQuitGame},
		},
		{
			name:    "heartbeat",
			payload: "check",
			want:    Command{Kind: KindHeartbeat},
		},
		{
			name:    "unknown tag is ignored not rejected",
			payload: "HELLO|world",
			want:    Command{Kind: KindUnknown},
		},
		{
			name:    "register without password is malformed",
			payload: "REG|alice",
			wantErr: true,
		},
		{
			name:    "login without credentials is malformed",
			payload: "LOG",
			wantErr: true,
		},
		{
			name:    "game without title is malformed",
			payload: "GAME",
			wantErr: true,
		},
		{
			name:    "bare back is malformed",
			payload: "BACK",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCommand() wantErr = %v, error = %v", tt.wantErr, err)
			}
			if err != nil {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("command did not match expected; diff:\n%s", diff)
			}
		})
	}
}

func TestIsHeartbeat(t *testing.T) {
	if !IsHeartbeat([]byte("check")) {
		t.Error("IsHeartbeat() = false for a heartbeat frame")
	}
	if IsHeartbeat([]byte("check|extra")) {
		t.Error("IsHeartbeat() = true for a non-heartbeat frame")
	}
}
