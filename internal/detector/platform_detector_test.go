package detector

import "testing"

func TestClassify(t *testing.T) {
	d := NewPlatformDetector()

	cases := []struct {
		name string
		url  string
		want Classification
	}{
		{"empty", "", Classification{Kind: KindDirectMedia}},
		{"whitespace", "   ", Classification{Kind: KindDirectMedia}},
		{"garbage", "definitely not a url", Classification{Kind: KindDirectMedia}},
		{"broken host", "http://[::1", Classification{Kind: KindDirectMedia}},
		{"short link", "https://youtu.be/dQw4w9WgXcQ", Classification{Kind: KindPlatformEmbed, Platform: "youtube", ID: "dQw4w9WgXcQ"}},
		{"watch with noise", "https://youtube.com/watch?v=dQw4w9WgXcQ&t=5", Classification{Kind: KindPlatformEmbed, Platform: "youtube", ID: "dQw4w9WgXcQ"}},
		{"watch param not first", "https://www.youtube.com/watch?feature=share&v=dQw4w9WgXcQ", Classification{Kind: KindPlatformEmbed, Platform: "youtube", ID: "dQw4w9WgXcQ"}},
		{"embed", "https://www.youtube.com/embed/dQw4w9WgXcQ?autoplay=1", Classification{Kind: KindPlatformEmbed, Platform: "youtube", ID: "dQw4w9WgXcQ"}},
		{"shorts", "https://m.youtube.com/shorts/abcdefghijk", Classification{Kind: KindPlatformEmbed, Platform: "youtube", ID: "abcdefghijk"}},
		{"nocookie", "https://www.youtube-nocookie.com/embed/A_b-C1d2E3f", Classification{Kind: KindPlatformEmbed, Platform: "youtube", ID: "A_b-C1d2E3f"}},
		{"surrounding spaces", "  https://youtu.be/dQw4w9WgXcQ  ", Classification{Kind: KindPlatformEmbed, Platform: "youtube", ID: "dQw4w9WgXcQ"}},
		{"upper case host", "https://WWW.YOUTUBE.COM/watch?v=dQw4w9WgXcQ", Classification{Kind: KindPlatformEmbed, Platform: "youtube", ID: "dQw4w9WgXcQ"}},
		{"channel page", "https://www.youtube.com/@someone", Classification{Kind: KindUnrecognizedID, Platform: "youtube"}},
		{"id too short", "https://youtu.be/abc", Classification{Kind: KindUnrecognizedID, Platform: "youtube"}},
		{"direct mp4", "https://example.com/video.mp4", Classification{Kind: KindDirectMedia}},
		{"lookalike host", "https://notyoutube.com/watch?v=dQw4w9WgXcQ", Classification{Kind: KindDirectMedia}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := d.Classify(c.url)
			if got != c.want {
				t.Fatalf("Classify(%q) = %+v, want %+v", c.url, got, c.want)
			}
			if got.Kind == KindPlatformEmbed && !videoIDPattern.MatchString(got.ID) {
				t.Fatalf("id %q is not an 11-char token", got.ID)
			}
		})
	}
}

func TestEmbedURL(t *testing.T) {
	d := NewPlatformDetector()

	c := d.Classify("https://youtu.be/dQw4w9WgXcQ")
	if got := d.EmbedURL(c); got != "https://www.youtube.com/embed/dQw4w9WgXcQ" {
		t.Fatalf("unexpected embed url %q", got)
	}
	if got := d.EmbedURL(Classification{Kind: KindDirectMedia}); got != "" {
		t.Fatalf("expected empty embed url, got %q", got)
	}
}
