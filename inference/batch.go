package inference

import (
	"context"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-faces/models/postprocess"
	"github.com/nvr-ai/go-faces/util"
)

// PhotoResult is the outcome of detection on one file of a batch.
type PhotoResult struct {
	// Path is the file the result belongs to.
	Path string `json:"path"`
	// Width and Height are the photo dimensions in pixels, zero on error.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
	// Detections are in photo pixel coordinates. Nil on error.
	Detections []postprocess.Detection `json:"detections"`
	// Err is the per-file failure, for example a corrupt image.
	Err error `json:"-"`
}

// DetectFiles runs detection over files with a bounded worker pool.
//
// A file that fails to decode or detect records its error in its PhotoResult
// and does not abort the batch. Once ctx is done, files that have not started
// record the context error.
//
// Arguments:
//   - ctx: The context for the batch.
//   - paths: The image files.
//
// Returns:
//   - []PhotoResult: One result per path, in the order of paths.
func (e *Engine) DetectFiles(ctx context.Context, paths []string) []PhotoResult {
	results := make([]PhotoResult, len(paths))
	if len(paths) == 0 {
		return results
	}

	workers := e.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(paths) {
		workers = len(paths)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = e.detectPhoto(ctx, paths[i])
			}
		}()
	}

	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

func (e *Engine) detectPhoto(ctx context.Context, path string) PhotoResult {
	pr := PhotoResult{Path: path}
	res, err := e.DetectFile(ctx, path)
	if err != nil {
		pr.Err = err
		e.logger.WithFields(logrus.Fields{"path": path, "error": err}).Warn("face detection failed")
		return pr
	}

	pr.Width, pr.Height = res.Width, res.Height
	pr.Detections = res.Detections
	e.logger.WithFields(logrus.Fields{
		"path":    path,
		"faces":   len(res.Detections),
		"elapsed": res.Elapsed.String(),
	}).Debug("detected faces in photo")
	return pr
}

// DetectDirectory lists the supported images under dir and runs DetectFiles
// over them.
//
// Arguments:
//   - ctx: The context for the batch.
//   - dir: The photo directory.
//   - recursive: Whether to descend into subdirectories.
//
// Returns:
//   - []PhotoResult: One result per image, numbered files in numeric order.
//   - error: An error if the directory cannot be listed.
func (e *Engine) DetectDirectory(ctx context.Context, dir string, recursive bool) ([]PhotoResult, error) {
	paths, err := util.ListImageFiles(dir, recursive)
	if err != nil {
		return nil, err
	}
	return e.DetectFiles(ctx, paths), nil
}
