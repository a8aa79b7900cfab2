package sampler

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// FFmpegOptions tunes the extraction pipeline. Zero values get defaults.
type FFmpegOptions struct {
	// Binary is the ffmpeg executable, "ffmpeg" by default.
	Binary string
	// Interval is the source-time spacing between extracted frames.
	Interval time.Duration
	// Width scales output frames down for model input; height keeps aspect.
	Width int
}

func (o *FFmpegOptions) defaults() {
	if o.Binary == "" {
		o.Binary = "ffmpeg"
	}
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.Width <= 0 {
		o.Width = 640
	}
}

// FFmpegSource extracts JPEG frames from a video file by piping an ffmpeg
// child process. Codec handling stays entirely in the external binary; this
// type only frames the MJPEG byte stream coming off the pipe.
type FFmpegSource struct {
	cmd    *exec.Cmd
	out    *bufio.Reader
	stderr bytes.Buffer

	frames    uint64
	waitOnce  sync.Once
	waitErr   error
	closeOnce sync.Once
}

// NewFFmpegSource starts the extraction process for path. The context bounds
// the child process lifetime: cancelling it kills ffmpeg, so no extraction
// outlives the session that started it. Startup failures (missing file,
// missing binary) report ErrSourceUnavailable.
func NewFFmpegSource(ctx context.Context, path string, opts FFmpegOptions) (*FFmpegSource, error) {
	opts.defaults()

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", path,
		"-vf", fmt.Sprintf("fps=1/%g,scale=%d:-2", opts.Interval.Seconds(), opts.Width),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "7",
		"-",
	}

	src := &FFmpegSource{}
	src.cmd = exec.CommandContext(ctx, opts.Binary, args...)
	src.cmd.Stderr = &src.stderr

	stdout, err := src.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	src.out = bufio.NewReaderSize(stdout, 256<<10)

	if err := src.cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrSourceUnavailable, opts.Binary, err)
	}
	return src, nil
}

// Next returns the next extracted JPEG. io.EOF means the video ended; a bad
// input that produced no frames at all surfaces as ErrSourceUnavailable with
// the ffmpeg stderr tail attached.
func (f *FFmpegSource) Next(ctx context.Context) ([]byte, error) {
	frame, err := readJPEG(f.out)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		waitErr := f.wait()
		if f.frames == 0 && (waitErr != nil || f.stderr.Len() > 0) {
			return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, f.stderrTail())
		}
		return nil, io.EOF
	}
	f.frames++
	return frame, nil
}

// Close kills the child process if it is still running.
func (f *FFmpegSource) Close() error {
	f.closeOnce.Do(func() {
		if f.cmd.Process != nil {
			_ = f.cmd.Process.Kill()
		}
		_ = f.wait()
	})
	return nil
}

func (f *FFmpegSource) wait() error {
	f.waitOnce.Do(func() {
		f.waitErr = f.cmd.Wait()
	})
	return f.waitErr
}

func (f *FFmpegSource) stderrTail() string {
	s := strings.TrimSpace(f.stderr.String())
	if s == "" {
		return "ffmpeg exited before producing frames"
	}
	if lines := strings.Split(s, "\n"); len(lines) > 3 {
		s = strings.Join(lines[len(lines)-3:], "\n")
	}
	return s
}

// readJPEG frames one image out of an MJPEG pipe by scanning for the SOI and
// EOI markers. Entropy-coded JPEG data byte-stuffs 0xFF, so a literal FFD9
// pair only ever terminates the image.
func readJPEG(br *bufio.Reader) ([]byte, error) {
	var prev byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		if prev == 0xff && b == 0xd8 {
			break
		}
		prev = b
	}

	buf := make([]byte, 2, 64<<10)
	buf[0], buf[1] = 0xff, 0xd8
	prev = 0
	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		buf = append(buf, b)
		if prev == 0xff && b == 0xd9 {
			return buf, nil
		}
		prev = b
	}
}
