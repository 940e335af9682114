package astimuxer

import astipipeline "github.com/asticode/go-astimuxer/pipeline"

var (
	mimeTypesAAC  = []MimeType{MimeTypeAACLC, MimeTypeAACHE, MimeTypeAACHEPS}
	mimeTypesH264 = []MimeType{MimeTypeH264SP, MimeTypeH264MP, MimeTypeH264HP}
)

// compatibilities lists accepted mime types per container and media type
var compatibilities = map[ContainerFormat]map[MediaType][]MimeType{
	ContainerFormatMP4: {
		MediaTypeVideo: append(append([]MimeType{}, mimeTypesH264...), MimeTypeH263, MimeTypeMPEG4SP),
		MediaTypeAudio: mimeTypesAAC,
	},
	ContainerFormat3GP: {
		MediaTypeVideo: append(append([]MimeType{}, mimeTypesH264...), MimeTypeH263),
		MediaTypeAudio: append(append([]MimeType{}, mimeTypesAAC...), MimeTypeAMRNB),
	},
	ContainerFormatWAV: {
		MediaTypeAudio: {MimeTypePCM},
	},
	ContainerFormatADTS: {
		MediaTypeAudio: mimeTypesAAC,
	},
	ContainerFormatAMRNB: {
		MediaTypeAudio: {MimeTypeAMRNB},
	},
	ContainerFormatAMRWB: {
		MediaTypeAudio: {MimeTypeAMRWB},
	},
}

// Compatible returns true if mime type m of media type t can be written in container f
func Compatible(f ContainerFormat, t MediaType, m MimeType) bool {
	for _, v := range compatibilities[f][t] {
		if v == m {
			return true
		}
	}
	return false
}

// compatibleAny returns true if m can be written in f whatever its media type
func compatibleAny(f ContainerFormat, m MimeType) bool {
	for t := range compatibilities[f] {
		if Compatible(f, t, m) {
			return true
		}
	}
	return false
}

// parserFor returns the parser kind placed between a track source and the container writer,
// or an empty string when data goes straight to the writer
func parserFor(f ContainerFormat, m MimeType) string {
	switch m.codec() {
	case astipipeline.CodecH264:
		return astipipeline.ElementKindH264Parse
	case astipipeline.CodecH263:
		return astipipeline.ElementKindH263Parse
	case astipipeline.CodecMPEG4Video:
		return astipipeline.ElementKindMPEG4VideoParse
	case astipipeline.CodecAAC:
		if f == ContainerFormatADTS {
			return ""
		}
		return astipipeline.ElementKindAACParse
	case astipipeline.CodecAMRNB, astipipeline.CodecAMRWB:
		if f == ContainerFormat3GP {
			return ""
		}
		return astipipeline.ElementKindAMRParse
	}
	return ""
}
