package soundcloud_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/damaredayo/scdl/soundcloud"
)

func transcoding(protocol, quality, url string) soundcloud.Transcoding {
	return soundcloud.Transcoding{
		URL: url,
		Format: soundcloud.Format{
			Protocol: protocol,
			MimeType: "audio/mpeg",
		},
		Quality: quality,
	}
}

func TestSelectTranscoding(t *testing.T) {
	t.Parallel()

	t.Run("PrefersProgressiveHighQuality", func(t *testing.T) {
		t.Parallel()
		selected, err := soundcloud.SelectTranscoding([]soundcloud.Transcoding{
			transcoding(soundcloud.ProtocolHLS, soundcloud.QualityStandard, "hls-sq"),
			transcoding(soundcloud.ProtocolProgressive, soundcloud.QualityStandard, "progressive-sq"),
			transcoding(soundcloud.ProtocolProgressive, soundcloud.QualityHigh, "progressive-hq"),
			transcoding(soundcloud.ProtocolHLS, soundcloud.QualityHigh, "hls-hq"),
		})
		assert.NoError(t, err)
		assert.Equal(t, "progressive-hq", selected.URL)
	})

	t.Run("FallsBackToHLSHighQuality", func(t *testing.T) {
		t.Parallel()
		selected, err := soundcloud.SelectTranscoding([]soundcloud.Transcoding{
			transcoding(soundcloud.ProtocolProgressive, soundcloud.QualityStandard, "progressive-sq"),
			transcoding(soundcloud.ProtocolHLS, soundcloud.QualityHigh, "hls-hq"),
		})
		assert.NoError(t, err)
		assert.Equal(t, "hls-hq", selected.URL)
	})

	t.Run("FallsBackToProgressiveStandardQuality", func(t *testing.T) {
		t.Parallel()
		selected, err := soundcloud.SelectTranscoding([]soundcloud.Transcoding{
			transcoding(soundcloud.ProtocolHLS, soundcloud.QualityStandard, "hls-sq"),
			transcoding(soundcloud.ProtocolProgressive, soundcloud.QualityStandard, "progressive-sq"),
		})
		assert.NoError(t, err)
		assert.Equal(t, "progressive-sq", selected.URL)
	})

	t.Run("FallsBackToHLSStandardQuality", func(t *testing.T) {
		t.Parallel()
		selected, err := soundcloud.SelectTranscoding([]soundcloud.Transcoding{
			transcoding(soundcloud.ProtocolHLS, soundcloud.QualityStandard, "hls-sq"),
		})
		assert.NoError(t, err)
		assert.Equal(t, "hls-sq", selected.URL)
	})

	t.Run("FirstMatchWithinTierWins", func(t *testing.T) {
		t.Parallel()
		selected, err := soundcloud.SelectTranscoding([]soundcloud.Transcoding{
			transcoding(soundcloud.ProtocolProgressive, soundcloud.QualityHigh, "first"),
			transcoding(soundcloud.ProtocolProgressive, soundcloud.QualityHigh, "second"),
		})
		assert.NoError(t, err)
		assert.Equal(t, "first", selected.URL)
	})

	t.Run("EmptyList", func(t *testing.T) {
		t.Parallel()
		_, err := soundcloud.SelectTranscoding(nil)
		assert.ErrorIs(t, err, soundcloud.ErrNotFound)
	})

	t.Run("NoTierMatch", func(t *testing.T) {
		t.Parallel()
		_, err := soundcloud.SelectTranscoding([]soundcloud.Transcoding{
			transcoding("rtmp", soundcloud.QualityHigh, "rtmp-hq"),
			transcoding(soundcloud.ProtocolProgressive, "mq", "progressive-mq"),
		})
		assert.ErrorIs(t, err, soundcloud.ErrNotFound)
	})
}
