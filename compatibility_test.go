package astimuxer

import (
	"testing"

	astipipeline "github.com/asticode/go-astimuxer/pipeline"
	"github.com/stretchr/testify/assert"
)

func TestCompatible(t *testing.T) {
	for _, v := range []struct {
		f  ContainerFormat
		m  MimeType
		mt MediaType
		ok bool
	}{
		{f: ContainerFormatMP4, m: MimeTypeH264HP, mt: MediaTypeVideo, ok: true},
		{f: ContainerFormatMP4, m: MimeTypeMPEG4SP, mt: MediaTypeVideo, ok: true},
		{f: ContainerFormatMP4, m: MimeTypeAACHEPS, mt: MediaTypeAudio, ok: true},
		{f: ContainerFormatMP4, m: MimeTypeAMRNB, mt: MediaTypeAudio},
		{f: ContainerFormatMP4, m: MimeTypeAACLC, mt: MediaTypeVideo},
		{f: ContainerFormatMP4, m: MimeTypeText3GPP, mt: MediaTypeSubtitle},
		{f: ContainerFormat3GP, m: MimeTypeH263, mt: MediaTypeVideo, ok: true},
		{f: ContainerFormat3GP, m: MimeTypeMPEG4SP, mt: MediaTypeVideo},
		{f: ContainerFormat3GP, m: MimeTypeAMRNB, mt: MediaTypeAudio, ok: true},
		{f: ContainerFormat3GP, m: MimeTypeAMRWB, mt: MediaTypeAudio},
		{f: ContainerFormatWAV, m: MimeTypePCM, mt: MediaTypeAudio, ok: true},
		{f: ContainerFormatWAV, m: MimeTypeAACLC, mt: MediaTypeAudio},
		{f: ContainerFormatADTS, m: MimeTypeAACHE, mt: MediaTypeAudio, ok: true},
		{f: ContainerFormatADTS, m: MimeTypeH264SP, mt: MediaTypeVideo},
		{f: ContainerFormatAMRNB, m: MimeTypeAMRNB, mt: MediaTypeAudio, ok: true},
		{f: ContainerFormatAMRNB, m: MimeTypeAMRWB, mt: MediaTypeAudio},
		{f: ContainerFormatAMRWB, m: MimeTypeAMRWB, mt: MediaTypeAudio, ok: true},
		{f: ContainerFormatUnknown, m: MimeTypeAACLC, mt: MediaTypeAudio},
	} {
		assert.Equal(t, v.ok, Compatible(v.f, v.mt, v.m), "%s %s %s", v.f, v.mt, v.m)
	}
	assert.True(t, compatibleAny(ContainerFormat3GP, MimeTypeAMRNB))
	assert.False(t, compatibleAny(ContainerFormatWAV, MimeTypeH264SP))
}

func TestParserFor(t *testing.T) {
	assert.Equal(t, astipipeline.ElementKindH264Parse, parserFor(ContainerFormatMP4, MimeTypeH264MP))
	assert.Equal(t, astipipeline.ElementKindH263Parse, parserFor(ContainerFormat3GP, MimeTypeH263))
	assert.Equal(t, astipipeline.ElementKindMPEG4VideoParse, parserFor(ContainerFormatMP4, MimeTypeMPEG4SP))
	assert.Equal(t, astipipeline.ElementKindAACParse, parserFor(ContainerFormatMP4, MimeTypeAACLC))
	assert.Equal(t, "", parserFor(ContainerFormatADTS, MimeTypeAACLC))
	assert.Equal(t, "", parserFor(ContainerFormatWAV, MimeTypePCM))
	assert.Equal(t, "", parserFor(ContainerFormat3GP, MimeTypeAMRNB))
	assert.Equal(t, astipipeline.ElementKindAMRParse, parserFor(ContainerFormatAMRNB, MimeTypeAMRNB))
	assert.Equal(t, astipipeline.ElementKindAMRParse, parserFor(ContainerFormatAMRWB, MimeTypeAMRWB))
}
