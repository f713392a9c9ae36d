package relay

import (
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/disintegration/imaging"

	"github.com/MrWong99/sensorbridge/pkg/sensor"
)

// maxSnapshotWidth caps the width query parameter.
const maxSnapshotWidth = 4096

func (r *Relay) handleSnapshot(w http.ResponseWriter, req *http.Request) {
	name := sensor.StreamID(req.PathValue("mount"))
	if _, ok := r.mounts[name]; !ok {
		http.Error(w, "unknown mount", http.StatusNotFound)
		return
	}

	width := 0
	if v := req.URL.Query().Get("width"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxSnapshotWidth {
			http.Error(w, "width must be an integer in [1, 4096]", http.StatusBadRequest)
			return
		}
		width = n
	}

	caps, data, at, ok := r.Snapshot(name)
	if !ok {
		http.Error(w, "no frame captured yet", http.StatusNotFound)
		return
	}

	img, err := DecodeFrame(caps, data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if width > 0 && width != img.Bounds().Dx() {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Last-Modified", at.UTC().Format(http.TimeFormat))
	if err := imaging.Encode(w, img, imaging.PNG); err != nil {
		slog.Debug("relay: snapshot write failed", "mount", name, "err", err)
	}
}

// DecodeFrame converts a raw video frame to an image.
func DecodeFrame(caps VideoCaps, data []byte) (*image.NRGBA, error) {
	bpp := caps.Format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("relay: unsupported pixel format %q", caps.Format)
	}
	if caps.Width <= 0 || caps.Height <= 0 || len(data) != caps.Width*caps.Height*bpp {
		return nil, fmt.Errorf("relay: %dx%d %s frame has %d bytes", caps.Width, caps.Height, caps.Format, len(data))
	}

	img := image.NewNRGBA(image.Rect(0, 0, caps.Width, caps.Height))
	switch caps.Format {
	case sensor.FormatBGRA:
		for i := 0; i < len(data); i += 4 {
			img.Pix[i+0] = data[i+2]
			img.Pix[i+1] = data[i+1]
			img.Pix[i+2] = data[i+0]
			img.Pix[i+3] = data[i+3]
		}
	case sensor.FormatYUY2:
		// Each 4-byte group Y0 U Y1 V covers two pixels.
		for i, o := 0, 0; i+3 < len(data); i, o = i+4, o+8 {
			y0, u, y1, v := data[i], data[i+1], data[i+2], data[i+3]
			r, g, b := yuvToRGB(y0, u, v)
			img.Pix[o+0], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3] = r, g, b, 0xff
			r, g, b = yuvToRGB(y1, u, v)
			img.Pix[o+4], img.Pix[o+5], img.Pix[o+6], img.Pix[o+7] = r, g, b, 0xff
		}
	}
	return img, nil
}

// yuvToRGB converts one BT.601 limited-range sample to RGB.
func yuvToRGB(y, u, v byte) (byte, byte, byte) {
	c := int(y) - 16
	d := int(u) - 128
	e := int(v) - 128
	r := (298*c + 409*e + 128) >> 8
	g := (298*c - 100*d - 208*e + 128) >> 8
	b := (298*c + 516*d + 128) >> 8
	return clamp8(r), clamp8(g), clamp8(b)
}

func clamp8(x int) byte {
	return byte(max(0, min(255, x)))
}

