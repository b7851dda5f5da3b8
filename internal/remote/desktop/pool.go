package desktop

import (
	"bytes"
	"image"
	"sync"
)

// bufferPool recycles JPEG output buffers across frames and sessions.
var bufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 128*1024))
	},
}

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 2<<20 {
		return
	}
	bufferPool.Put(buf)
}

// imagePool recycles scale targets of one resolution. A session keeps the
// same output size, so a size change just resets the pool.
type imagePool struct {
	mu   sync.Mutex
	w, h int
	free []*image.RGBA
}

func (p *imagePool) Get(w, h int) *image.RGBA {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.w != w || p.h != h {
		p.w, p.h = w, h
		p.free = nil
	}
	if n := len(p.free); n > 0 {
		img := p.free[n-1]
		p.free = p.free[:n-1]
		return img
	}
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func (p *imagePool) Put(img *image.RGBA) {
	b := img.Bounds()
	p.mu.Lock()
	defer p.mu.Unlock()
	if b.Dx() == p.w && b.Dy() == p.h && len(p.free) < 2 {
		p.free = append(p.free, img)
	}
}
