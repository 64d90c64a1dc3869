package vision

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Frame is one captured still from the staging area camera
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	Seq        uint64
	TraceID    string
	CapturedAt time.Time
}

// CameraConfig contains capture settings
type CameraConfig struct {
	Device string // V4L2 device, e.g. /dev/video0
	Width  int
	Height int
	FPS    int
}

// Camera keeps a V4L2 GStreamer pipeline running and caches the most
// recent decoded frame. Capture returns a frame taken after the call,
// never a stale one: the quality gate must see the tray as it is now.
type Camera struct {
	cfg CameraConfig

	mu       sync.RWMutex
	pipeline *gst.Pipeline
	running  bool
	latest   Frame

	seq        uint64
	frameCount uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCamera creates a camera for the given device
func NewCamera(cfg CameraConfig) (*Camera, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("camera device is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", cfg.Width, cfg.Height)
	}
	return &Camera{cfg: cfg}, nil
}

// Start builds the pipeline and begins capturing
func (c *Camera) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("camera already started")
	}

	// Safe to call multiple times
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return fmt.Errorf("failed to create v4l2src: %w", err)
	}
	src.SetProperty("device", c.cfg.Device)

	// decodebin handles both raw and MJPEG cameras
	decodebin, err := gst.NewElement("decodebin")
	if err != nil {
		return fmt.Errorf("failed to create decodebin: %w", err)
	}

	videoconvert, _ := gst.NewElement("videoconvert")
	videoscale, _ := gst.NewElement("videoscale")
	videorate, _ := gst.NewElement("videorate")
	videorate.SetProperty("drop-only", true)

	capsfilter, _ := gst.NewElement("capsfilter")
	caps := gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1",
		c.cfg.Width, c.cfg.Height, c.cfg.FPS,
	))
	capsfilter.SetProperty("caps", caps)

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return c.onNewSample(sink)
		},
	})

	pipeline.AddMany(src, decodebin, videoconvert, videoscale, videorate, capsfilter, appsink.Element)

	if err := src.Link(decodebin); err != nil {
		return fmt.Errorf("failed to link v4l2src: %w", err)
	}
	gst.ElementLinkMany(videoconvert, videoscale, videorate, capsfilter, appsink.Element)

	// decodebin exposes its source pad only once the camera format is known
	decodebin.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		slog.Debug("camera decodebin pad added", "pad", srcPad.GetName())
		sinkPad := videoconvert.GetStaticPad("sink")
		if sinkPad != nil {
			srcPad.Link(sinkPad)
		}
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to set pipeline to playing: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.pipeline = pipeline
	c.cancel = cancel
	c.running = true

	c.wg.Add(1)
	go c.watchBus(runCtx, pipeline)

	slog.Info("camera started",
		"device", c.cfg.Device,
		"resolution", fmt.Sprintf("%dx%d", c.cfg.Width, c.cfg.Height),
		"fps", c.cfg.FPS,
	)
	return nil
}

// Capture blocks until a frame captured after the call is available
// and returns a copy of it
func (c *Camera) Capture(ctx context.Context) (Frame, error) {
	c.mu.RLock()
	running := c.running
	c.mu.RUnlock()
	if !running {
		return Frame{}, fmt.Errorf("camera not started")
	}

	start := atomic.LoadUint64(&c.seq)

	// Three frame intervals covers caps renegotiation hiccups
	wait := 3 * time.Second
	if c.cfg.FPS > 0 {
		if iv := 3 * time.Second / time.Duration(c.cfg.FPS); iv > wait {
			wait = iv
		}
	}
	deadline := time.Now().Add(wait)

	for {
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}

		if atomic.LoadUint64(&c.seq) > start {
			c.mu.RLock()
			frame := c.latest
			c.mu.RUnlock()

			data := make([]byte, len(frame.Data))
			copy(data, frame.Data)
			frame.Data = data
			return frame, nil
		}

		if time.Now().After(deadline) {
			return Frame{}, fmt.Errorf("no frame from camera within %v", wait)
		}
	}
}

// Stop tears the pipeline down
func (c *Camera) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	pipeline := c.pipeline
	cancel := c.cancel
	c.pipeline = nil
	c.cancel = nil
	c.mu.Unlock()

	cancel()
	if pipeline != nil {
		pipeline.SetState(gst.StateNull)
	}
	c.wg.Wait()

	slog.Info("camera stopped", "frames_captured", atomic.LoadUint64(&c.frameCount))
	return nil
}

// Frames reports how many frames the camera has decoded
func (c *Camera) Frames() uint64 {
	return atomic.LoadUint64(&c.frameCount)
}

func (c *Camera) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowError
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	defer buffer.Unmap()

	if len(data) == 0 {
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)

	frame := Frame{
		Data:       frameData,
		Width:      c.cfg.Width,
		Height:     c.cfg.Height,
		Seq:        atomic.AddUint64(&c.frameCount, 1),
		CapturedAt: time.Now(),
	}

	c.mu.Lock()
	c.latest = frame
	c.mu.Unlock()
	atomic.AddUint64(&c.seq, 1)

	return gst.FlowOK
}

// watchBus drains pipeline messages until shutdown
func (c *Camera) watchBus(ctx context.Context, pipeline *gst.Pipeline) {
	defer c.wg.Done()

	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Warn("camera signalled end of stream")
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("camera pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"action", "quality scans will fail until the daemon restarts",
			)
			return

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, new := msg.ParseStateChanged()
				slog.Debug("camera state changed", "from", old, "to", new)
			}
		}
	}
}
