package main

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hajimehoshi/oto/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hangmedia/hangsource/moq"
	"github.com/hangmedia/hangsource/source"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	relayURL := envOr("RELAY_URL", "")
	broadcast := envOr("BROADCAST", "")
	if relayURL == "" || broadcast == "" {
		slog.Error("RELAY_URL and BROADCAST must be set")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	cfg := source.Config{Log: slog.Default()}
	if os.Getenv("INSECURE") != "" {
		slog.Warn("TLS certificate verification disabled")
		cfg.Dial = func(ctx context.Context, url string) (source.Session, error) {
			return dialInsecure(ctx, url)
		}
	}

	slog.Info("hang-ingest starting",
		"version", version,
		"relay", relayURL,
		"broadcast", broadcast,
	)

	src := source.New(source.Settings{URL: relayURL, Broadcast: broadcast}, cfg)
	defer src.Destroy()
	if !src.Active() {
		slog.Error("source failed to activate")
		os.Exit(1)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		watchFrames(ctx, src)
		return nil
	})

	if os.Getenv("MUTE") == "" {
		g.Go(func() error {
			playAudio(ctx, src)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		src.Destroy()
		return nil
	})

	_ = g.Wait()
	slog.Info("hang-ingest stopped")
}

// watchFrames follows the latest-frame slot and logs throughput.
func watchFrames(ctx context.Context, src *source.Source) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var seq uint64
	first := true
	frames := make(chan struct{}, 1)

	go func() {
		for {
			f, next := src.Slot().Next(seq)
			if f == nil {
				close(frames)
				return
			}
			seq = next
			if first {
				slog.Info("first frame decoded", "width", f.Width, "height", f.Height, "pts", f.PTS)
				first = false
			}
			select {
			case frames <- struct{}{}:
			default:
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-frames:
			if !ok {
				return
			}
		case <-ticker.C:
			st := src.Stats()
			slog.Info("stats",
				"framesStaged", st.FramesStaged,
				"audioStaged", st.AudioStaged,
				"decodeErrors", st.DecodeErrors,
				"framesDropped", st.FramesDropped,
				"audioDropped", st.AudioDropped,
				"relayErrors", st.RelayErrors,
				"width", src.Width(), "height", src.Height(),
			)
		}
	}
}

// playAudio drains the PCM queue into an oto player. The player's
// format is fixed by the first decoded frame; the relay does not change
// audio parameters mid-broadcast.
func playAudio(ctx context.Context, src *source.Source) {
	var (
		player oto.Player
		pipeW  *io.PipeWriter
	)
	defer func() {
		if player != nil {
			_ = player.Close()
		}
		if pipeW != nil {
			_ = pipeW.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Millisecond):
		}

		for {
			pcm, ok := src.Audio().Pop()
			if !ok {
				break
			}
			if player == nil {
				otoCtx, ready, err := oto.NewContext(pcm.SampleRate, pcm.Channels, oto.FormatSignedInt16LE)
				if err != nil {
					slog.Error("audio context failed, muting", "error", err)
					return
				}
				<-ready
				pr, pw := io.Pipe()
				player = otoCtx.NewPlayer(pr)
				player.Play()
				pipeW = pw
				slog.Info("audio playback started", "sampleRate", pcm.SampleRate, "channels", pcm.Channels)
			}
			if _, err := pipeW.Write(pcm.Data); err != nil {
				slog.Debug("audio pipe write failed", "error", err)
				return
			}
		}
	}
}

// dialInsecure connects without verifying the relay certificate, for
// relays running self-signed development certs.
func dialInsecure(ctx context.Context, url string) (source.Session, error) {
	sess, err := moq.Connect(ctx, url, &moq.Options{
		TLSConfig: &tls.Config{InsecureSkipVerify: true},
	})
	if err != nil {
		return nil, err
	}
	return source.NewMoQSession(sess), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
