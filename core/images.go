package core

import (
	"context"
	"sync"

	"cosmos/core/provider"
)

// ImageQueue is the pending-image queue named in spec §5 as one of three
// resources (alongside the todo-content store and the background-process
// registry) shared between the turn loop and the external tool layer via
// interior mutability with brief read/write locks. A tool that loads image
// content (a read_image-style tool, for instance) pushes it here during its
// own execution; the turn loop drains the queue into the Images field of
// the tool-result message it appends right after, per spec §4.7 step 5.d.
type ImageQueue struct {
	mu     sync.Mutex
	images []provider.ImageContent
}

// Push records an image for attachment to the next tool-result message. A
// nil receiver is a no-op, so callers that never wired a queue (headless
// tests, tools that never load images) don't need a nil check.
func (q *ImageQueue) Push(img provider.ImageContent) {
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.images = append(q.images, img)
}

// Drain returns every image pushed since the last Drain and clears the
// queue, mirroring the original's std::mem::take(&mut self.pending_images).
func (q *ImageQueue) Drain() []provider.ImageContent {
	if q == nil || len(q.images) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.images
	q.images = nil
	return out
}

// pendingImagesKey is the context key under which ExecuteTurn stores its
// ImageQueue for the duration of a single tool dispatch, so a tool
// implementation can reach it without ToolExecutor.Execute needing a
// dedicated return channel for image data.
type pendingImagesKey struct{}

// withPendingImages returns a context carrying q, retrievable by
// PushPendingImage.
func withPendingImages(ctx context.Context, q *ImageQueue) context.Context {
	return context.WithValue(ctx, pendingImagesKey{}, q)
}

// PushPendingImage records img on the ImageQueue the turn loop attached to
// ctx for the tool call currently executing. Tools that load image content
// (read_image, screenshot capture, and similar) call this from within
// their Execute implementation; it is a no-op if ctx carries no queue
// (e.g. a tool invoked outside a turn, or in a test harness).
func PushPendingImage(ctx context.Context, img provider.ImageContent) {
	if q, ok := ctx.Value(pendingImagesKey{}).(*ImageQueue); ok {
		q.Push(img)
	}
}
