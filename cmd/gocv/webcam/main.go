//go:build gocv

// Command webcam runs BlazeFace on a live camera feed and draws the faces.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-faces/config"
	"github.com/nvr-ai/go-faces/inference"
	"github.com/nvr-ai/go-faces/models/postprocess"
	"github.com/nvr-ai/go-faces/profiler"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	deviceID := flag.Int("device", 0, "Video capture device")
	showWindow := flag.Bool("show-window", true, "Show the annotated feed")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("loading configuration")
	}
	if level, err := cfg.Level(); err == nil {
		logger.SetLevel(level)
	}

	engine, err := inference.NewEngineBuilder().
		WithLogger(logger).
		WithProvider(cfg.Provider).
		WithModel(cfg.LoadArgs(logger)).
		WithResize(cfg.Resize).
		Build()
	if err != nil {
		logger.WithError(err).Fatal("building engine")
	}
	defer engine.Close()

	webcam, err := gocv.OpenVideoCapture(*deviceID)
	if err != nil {
		logger.WithError(err).WithField("device", *deviceID).Fatal("opening video capture")
	}
	defer webcam.Close()

	var window *gocv.Window
	if *showWindow {
		window = gocv.NewWindow("Face Detect")
		defer window.Close()
	}

	img := gocv.NewMat()
	defer img.Close()

	blue := color.RGBA{0, 0, 255, 0}
	green := color.RGBA{0, 255, 0, 0}

	prof := profiler.NewRuntimeProfiler(profiler.Options{ReportInterval: 5 * time.Second, Logger: logger})
	prof.AddMetricsCollector(engine.Metrics())
	go prof.Run(context.Background())

	fps := 0.0
	frameCount := 0
	lastTime := time.Now()

	logger.WithField("device", *deviceID).Info("reading camera")
	for {
		if ok := webcam.Read(&img); !ok {
			logger.WithField("device", *deviceID).Error("cannot read device")
			os.Exit(1)
		}
		if img.Empty() {
			continue
		}

		frameCount++
		if elapsed := time.Since(lastTime).Seconds(); elapsed >= 1.0 {
			fps = float64(frameCount) / elapsed
			frameCount = 0
			lastTime = time.Now()
		}

		frame, err := img.ToImage()
		if err != nil {
			logger.WithError(err).Warn("converting frame")
			continue
		}
		stop := prof.StartOperation("frame")
		res, err := engine.Detect(context.Background(), frame)
		stop()
		if err != nil {
			logger.WithError(err).Warn("detecting faces")
			continue
		}
		logger.WithFields(logrus.Fields{
			"faces": len(res.Detections),
			"fps":   fmt.Sprintf("%.2f", fps),
		}).Debug("frame")

		for _, d := range res.Detections {
			draw(&img, d, blue, green)
		}

		if window != nil {
			window.IMShow(img)
			window.WaitKey(1)
		}
	}
}

func draw(img *gocv.Mat, d postprocess.Detection, box, keypoint color.RGBA) {
	gocv.Rectangle(img, d.Box.Rect(), box, 3)
	for _, k := range d.Keypoints {
		gocv.Circle(img, image.Pt(int(k.X), int(k.Y)), 2, keypoint, -1)
	}
	label := fmt.Sprintf("%.2f", d.Score)
	gocv.PutText(img, label, image.Pt(int(d.Box.XMin), int(d.Box.YMin)-4), gocv.FontHersheyPlain, 1.2, box, 2)
}
