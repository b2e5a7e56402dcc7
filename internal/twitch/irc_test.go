package twitch

import "testing"

func TestParsePrivmsg(t *testing.T) {
	msg, ok := parsePrivmsg(":alice!alice@alice.tmi.twitch.tv PRIVMSG #streamer :!coneflip bob")
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if msg.User != "alice" {
		t.Fatalf("user = %q, want alice", msg.User)
	}
	if msg.Text != "!coneflip bob" {
		t.Fatalf("text = %q", msg.Text)
	}
}

func TestParsePrivmsgUppercaseNick(t *testing.T) {
	msg, ok := parsePrivmsg(":Alice!Alice@alice.tmi.twitch.tv PRIVMSG #streamer :hi")
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if msg.User != "alice" {
		t.Fatalf("user = %q, want lowercased", msg.User)
	}
}

func TestParsePrivmsgRejectsOtherLines(t *testing.T) {
	lines := []string{
		"PING :tmi.twitch.tv",
		":tmi.twitch.tv 001 bot :Welcome, GLHF!",
		":alice!alice@alice.tmi.twitch.tv JOIN #streamer",
		"",
	}
	for _, line := range lines {
		if _, ok := parsePrivmsg(line); ok {
			t.Errorf("parsed non-PRIVMSG line %q", line)
		}
	}
}

func TestParsePrivmsgColonInBody(t *testing.T) {
	msg, ok := parsePrivmsg(":bob!bob@bob.tmi.twitch.tv PRIVMSG #streamer :note: cones are fun")
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if msg.Text != "note: cones are fun" {
		t.Fatalf("text = %q", msg.Text)
	}
}
