package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/asticode/go-astikit"
	"github.com/asticode/go-astimuxer"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Flags
var (
	audio      = flag.String("a", "", "the audio input path (ADTS AAC, AMR or WAV)")
	configPath = flag.String("c", "", "the TOML configuration path")
	format     = flag.String("f", "", "the container format, guessed from the output extension if empty")
	fps        = flag.Int("fps", 25, "the video frame rate")
	height     = flag.Int("height", 0, "the video height")
	output     = flag.String("o", "", "the output path")
	serverAddr = flag.String("s", "", "the server address, overrides the configuration")
	video      = flag.String("v", "", "the video input path (H.264 Annex-B)")
	width      = flag.Int("width", 0, "the video width")
)

func main() {
	// Parse flags
	flag.Parse()

	// Create logger
	l := logrus.New()

	// Create configuration
	c, err := astimuxer.NewConfiguration(*configPath)
	if err != nil {
		l.Fatal(fmt.Errorf("main: creating configuration failed: %w", err))
	}
	if *serverAddr != "" {
		c.Server.Addr = *serverAddr
	}

	// Create worker
	w := astikit.NewWorker(astikit.WorkerOptions{Logger: l})

	// Handle signals
	w.HandleSignals()

	// Create event handler
	eh := astimuxer.NewEventHandler()

	// Log event handler
	defer eh.Log(l).Start(w.Context()).Close()

	// Create stater
	s := astimuxer.NewStater(c.Stats.Period.Duration, eh)
	s.AddHostStats()
	go s.Start(w.Context())
	defer s.Stop()

	// Create server
	var srv *astimuxer.Server
	if c.Server.Addr != "" {
		srv = astimuxer.NewServer(l)
		srv.EventHandlerAdapter(eh)
		hs := &http.Server{
			Addr:    c.Server.Addr,
			Handler: srv.Handler(),
		}
		go func() {
			l.Infof("main: serving on %s", c.Server.Addr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.Error(fmt.Errorf("main: serving failed: %w", err))
			}
		}()
		defer hs.Shutdown(context.Background())
	}

	// Mux
	if err = mux(w.Context(), c, eh, l, s, srv); err != nil {
		l.Fatal(fmt.Errorf("main: muxing failed: %w", err))
	}

	// Wait for a signal when serving
	if srv == nil {
		return
	}
	w.Wait()
}

func mux(ctx context.Context, c astimuxer.Configuration, eh *astimuxer.EventHandler, l *logrus.Logger, s *astimuxer.Stater, srv *astimuxer.Server) (err error) {
	// Check flags
	if *output == "" {
		return errors.New("main: no output path provided")
	} else if *audio == "" && *video == "" {
		return errors.New("main: no input path provided")
	}

	// Get format
	var f astimuxer.ContainerFormat
	fs := *format
	if fs == "" {
		fs = filepath.Ext(*output)
	}
	if f, err = astimuxer.ParseContainerFormat(fs); err != nil {
		return fmt.Errorf("main: parsing container format failed: %w", err)
	}

	// Create readers
	var rs []sampleReader
	if *video != "" {
		var r *h264Reader
		if r, err = newH264Reader(*video, *fps, *width, *height); err != nil {
			return fmt.Errorf("main: creating video reader failed: %w", err)
		}
		rs = append(rs, r)
	}
	if *audio != "" {
		var r sampleReader
		if r, err = newAudioReader(*audio); err != nil {
			return fmt.Errorf("main: creating audio reader failed: %w", err)
		}
		rs = append(rs, r)
	}

	// Create muxer
	var m *astimuxer.Muxer
	if m, err = astimuxer.New(astimuxer.MuxerOptions{
		Configuration: &c,
		EventHandler:  eh,
		Logger:        l,
		Stater:        s,
	}); err != nil {
		return fmt.Errorf("main: creating muxer failed: %w", err)
	}
	defer func() {
		if errD := m.Destroy(); errD != nil {
			l.Error(fmt.Errorf("main: destroying muxer failed: %w", errD))
		}
	}()

	// Expose muxer
	if srv != nil {
		srv.AddMuxer(m)
		defer srv.DelMuxer(m)
	}

	// Cancel writes on asynchronous errors
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err = m.SetErrorCallback(func(code astimuxer.ErrorCode, err error) {
		l.Error(fmt.Errorf("main: muxer failed with code %s: %w", code, err))
		cancel()
	}); err != nil {
		return fmt.Errorf("main: setting error callback failed: %w", err)
	}

	// Configure
	if err = m.SetDataSink(*output, f); err != nil {
		return fmt.Errorf("main: setting data sink failed: %w", err)
	}
	idxs := make([]int, len(rs))
	for i, r := range rs {
		if idxs[i], err = m.AddTrack(r.format()); err != nil {
			return fmt.Errorf("main: adding track %s failed: %w", r.format(), err)
		}
	}

	// Prepare
	if err = m.Prepare(); err != nil {
		return fmt.Errorf("main: preparing failed: %w", err)
	}
	defer func() {
		if errU := m.Unprepare(); errU != nil {
			l.Error(fmt.Errorf("main: unpreparing failed: %w", errU))
		}
	}()

	// Start
	if err = m.Start(); err != nil {
		return fmt.Errorf("main: starting failed: %w", err)
	}

	// Feed tracks
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range rs {
		idx, r := idxs[i], r
		g.Go(func() error { return feed(gctx, m, idx, r) })
	}
	if err = g.Wait(); err != nil {
		return
	}

	// Stop
	if err = m.Stop(); err != nil {
		return fmt.Errorf("main: stopping failed: %w", err)
	}
	l.Infof("main: %s written", *output)
	return
}

func feed(ctx context.Context, m *astimuxer.Muxer, idx int, r sampleReader) error {
	for {
		// Next
		s, err := r.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if err = m.CloseTrack(idx); err != nil {
					return fmt.Errorf("main: closing track %d failed: %w", idx, err)
				}
				return nil
			}
			return fmt.Errorf("main: reading track %d failed: %w", idx, err)
		}

		// Write
		if err = m.WriteSample(ctx, idx, s); err != nil {
			return fmt.Errorf("main: writing sample to track %d failed: %w", idx, err)
		}
	}
}
