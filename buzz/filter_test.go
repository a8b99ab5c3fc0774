package buzz

import "testing"

func TestIsNoiseShortMessages(t *testing.T) {
	cases := []string{"", "   ", "wow", "so cool", "nice one"}
	for _, text := range cases {
		if !IsNoise(text) {
			t.Errorf("IsNoise(%q) = false, want true", text)
		}
	}
}

func TestIsNoiseGreetings(t *testing.T) {
	cases := []string{"hi", "Hello!", "GOOD MORNING", "lets go", "thank you", "gg"}
	for _, text := range cases {
		if !IsNoise(text) {
			t.Errorf("IsNoise(%q) = false, want true", text)
		}
	}
}

func TestIsNoiseEmojiOnly(t *testing.T) {
	cases := []string{"🔥🔥🔥", "!!!", "😂 😂 😂 😂", "???", "👏👏"}
	for _, text := range cases {
		if !IsNoise(text) {
			t.Errorf("IsNoise(%q) = false, want true", text)
		}
	}
}

func TestIsNoiseKeepsActionableMessages(t *testing.T) {
	cases := []string{
		"what song is this one called",
		"the audio has been crackling for me since the break",
		"could you do a console giveaway next stream",
		"why did you switch back to the old overlay",
	}
	for _, text := range cases {
		if IsNoise(text) {
			t.Errorf("IsNoise(%q) = true, want false", text)
		}
	}
}
