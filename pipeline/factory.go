package astipipeline

import (
	"sort"
	"sync"
)

// Element kinds
const (
	ElementKindAACParse        = "aacparse"
	ElementKindADTSMux         = "adtsmux"
	ElementKindAMRMux          = "amrmux"
	ElementKindAMRParse        = "amrparse"
	ElementKindAppSrc          = "appsrc"
	ElementKindFileSink        = "filesink"
	ElementKindH263Parse       = "h263parse"
	ElementKindH264Parse       = "h264parse"
	ElementKindMP4Mux          = "mp4mux"
	ElementKindMPEG4VideoParse = "mpeg4videoparse"
	ElementKindThreeGPPMux     = "3gppmux"
	ElementKindWavEnc          = "wavenc"
)

// ElementConstructor creates an element by name
type ElementConstructor func(p *Pipeline, md ElementMetadata) (Element, error)

// Factory creates elements from their symbolic kind
type Factory struct {
	cs map[string]ElementConstructor
	m  *sync.Mutex
}

// NewFactory creates a factory knowing every built-in element
func NewFactory() (f *Factory) {
	f = &Factory{
		cs: make(map[string]ElementConstructor),
		m:  &sync.Mutex{},
	}
	f.Register(ElementKindAACParse, newAACParser)
	f.Register(ElementKindADTSMux, newMuxerConstructor(newADTSWriter))
	f.Register(ElementKindAMRMux, newMuxerConstructor(newAMRWriter))
	f.Register(ElementKindAMRParse, newAMRParser)
	f.Register(ElementKindAppSrc, newSource)
	f.Register(ElementKindFileSink, newFileSink)
	f.Register(ElementKindH263Parse, newH263Parser)
	f.Register(ElementKindH264Parse, newH264Parser)
	f.Register(ElementKindMP4Mux, newMuxerConstructor(newMP4Writer))
	f.Register(ElementKindMPEG4VideoParse, newMPEG4VideoParser)
	f.Register(ElementKindThreeGPPMux, newMuxerConstructor(new3GPPWriter))
	f.Register(ElementKindWavEnc, newMuxerConstructor(newWAVWriter))
	return
}

// Register registers a constructor for a kind, replacing any previous one
func (f *Factory) Register(kind string, c ElementConstructor) {
	f.m.Lock()
	defer f.m.Unlock()
	f.cs[kind] = c
}

// Unregister removes a kind
func (f *Factory) Unregister(kind string) {
	f.m.Lock()
	defer f.m.Unlock()
	delete(f.cs, kind)
}

// Kinds returns the sorted list of registered kinds
func (f *Factory) Kinds() (ks []string) {
	f.m.Lock()
	defer f.m.Unlock()
	for k := range f.cs {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return
}

func (f *Factory) make(p *Pipeline, kind, name string) (Element, error) {
	f.m.Lock()
	c, ok := f.cs[kind]
	f.m.Unlock()
	if !ok {
		return nil, newCoreError(CoreErrorMissingPlugin, "no element of kind %s", kind)
	}
	return c(p, ElementMetadata{Kind: kind, Name: name})
}
